package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder owns the input device and hands out at most one recording
// session at a time. The device is released as soon as a session stops,
// so a new recording can begin while the previous clip is still being
// transcribed.
type Recorder struct {
	host   Host
	cfg    Config
	logger *slog.Logger

	deviceIndex int
	deviceName  string

	mu     sync.Mutex
	active *Session
}

func NewRecorder(host Host, cfg Config, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		host:        host,
		cfg:         cfg.withDefaults(),
		logger:      logger,
		deviceIndex: -1,
	}
}

// Init resolves a working input device, probing it with an open/start
// cycle. Each failed attempt waits a fixed backoff before retrying; the
// final failure is wrapped in a DeviceInitError.
func (r *Recorder) Init(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.InitAttempts; attempt++ {
		dev, err := r.resolveDevice()
		if err == nil {
			err = r.probeDevice(dev)
		}
		if err == nil {
			r.deviceIndex = dev.Index
			r.deviceName = dev.Name
			r.logger.Info("audio device ready",
				slog.String("device", dev.Name),
				slog.Int("index", dev.Index),
				slog.Int("sample_rate", r.cfg.SampleRate))
			return nil
		}
		lastErr = err
		r.logger.Warn("audio device init failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", r.cfg.InitAttempts),
			slog.String("error", err.Error()))
		if attempt < r.cfg.InitAttempts {
			select {
			case <-time.After(r.cfg.InitBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return &DeviceInitError{Attempts: r.cfg.InitAttempts, Err: lastErr}
}

// resolveDevice prefers the system default input; when there is none it
// falls back to the first device that exposes input channels.
func (r *Recorder) resolveDevice() (DeviceInfo, error) {
	devices, err := r.host.Devices()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("enumerate devices: %w", err)
	}
	var fallback *DeviceInfo
	for i := range devices {
		d := devices[i]
		if d.InputChannels <= 0 {
			continue
		}
		if d.Default {
			return d, nil
		}
		if fallback == nil {
			fallback = &d
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return DeviceInfo{}, ErrNoInputDevice
}

func (r *Recorder) probeDevice(dev DeviceInfo) error {
	stream, err := r.host.Open(r.streamConfig(dev.Index))
	if err != nil {
		return fmt.Errorf("open probe stream: %w", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("start probe stream: %w", err)
	}
	return stream.Stop()
}

func (r *Recorder) streamConfig(deviceIndex int) StreamConfig {
	return StreamConfig{
		DeviceIndex: deviceIndex,
		SampleRate:  r.cfg.SampleRate,
		Channels:    r.cfg.Channels,
		FrameSize:   r.cfg.FrameSize,
	}
}

// Device reports the resolved input device name, or empty before Init.
func (r *Recorder) Device() string { return r.deviceName }

// Start opens the device and begins capturing. It fails with
// ErrAlreadyRecording while another session is still recording; a prior
// session that has moved on to processing does not block a new one.
func (r *Recorder) Start(ctx context.Context) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil && r.active.State() == StateRecording {
		return nil, ErrAlreadyRecording
	}
	if r.deviceIndex < 0 {
		if err := r.Init(ctx); err != nil {
			return nil, err
		}
	}

	stream, err := r.host.Open(r.streamConfig(r.deviceIndex))
	if err != nil {
		return nil, fmt.Errorf("open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start capture stream: %w", err)
	}

	s := &Session{
		id:          uuid.NewString(),
		cfg:         r.cfg,
		host:        r.host,
		stream:      stream,
		deviceIndex: r.deviceIndex,
		logger:      r.logger,
		state:       StateRecording,
		started:     time.Now(),
		reason:      ReasonStopped,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	r.active = s
	go s.captureLoop()
	r.logger.Info("recording started", slog.String("session_id", s.id))
	return s, nil
}

// Active returns the most recent session, or nil.
func (r *Recorder) Active() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Close releases the audio backend.
func (r *Recorder) Close() error {
	return r.host.Close()
}

// Session is one push-to-talk take. It buffers raw PCM frames in memory
// until Stop assembles them into a Clip.
type Session struct {
	id          string
	cfg         Config
	host        Host
	stream      Stream
	deviceIndex int
	logger      *slog.Logger

	mu          sync.Mutex
	state       State
	frames      [][]byte
	accumulated int64
	started     time.Time
	reason      StopReason
	loopErr     error

	stop chan struct{}
	done chan struct{}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed reports how long the session has been capturing.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.started)
}

// BufferedBytes reports the PCM bytes accumulated so far.
func (s *Session) BufferedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accumulated
}

// Stop signals the capture loop, waits briefly for it to drain, closes
// the device stream, and assembles the clip. A session with no captured
// frames is aborted with ErrEmptyRecording; a session whose loop died
// from device loss or a read error is aborted with that error.
func (s *Session) Stop() (Clip, error) {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return Clip{}, ErrNotRecording
	}
	s.mu.Unlock()

	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	frameWait := time.Duration(s.cfg.FrameSize) * time.Second / time.Duration(s.cfg.SampleRate)
	select {
	case <-s.done:
	case <-time.After(time.Second + 2*frameWait):
		// The loop may be parked in a device read; closing the stream
		// below unblocks it.
	}
	s.stream.Stop()
	s.stream.Close()
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopErr != nil {
		s.state = StateAborted
		s.logger.Warn("recording aborted",
			slog.String("session_id", s.id),
			slog.String("reason", s.reason.String()),
			slog.String("error", s.loopErr.Error()))
		return Clip{SessionID: s.id, Reason: s.reason}, s.loopErr
	}
	if s.accumulated == 0 {
		s.state = StateAborted
		s.logger.Warn("recording produced no audio", slog.String("session_id", s.id))
		return Clip{SessionID: s.id, Reason: s.reason}, ErrEmptyRecording
	}

	pcm := make([]byte, 0, s.accumulated)
	for _, f := range s.frames {
		pcm = append(pcm, f...)
	}
	s.frames = nil
	s.state = StateProcessing
	clip := Clip{
		SessionID:  s.id,
		PCM:        pcm,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		Duration:   pcmDuration(len(pcm), s.cfg.SampleRate, s.cfg.Channels),
		Reason:     s.reason,
	}
	s.logger.Info("recording stopped",
		slog.String("session_id", s.id),
		slog.String("reason", s.reason.String()),
		slog.Int64("bytes", s.accumulated),
		slog.Duration("duration", clip.Duration))
	return clip, nil
}

// Finish marks the downstream pipeline as done with this session.
func (s *Session) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateProcessing {
		s.state = StateIdle
	}
}

func (s *Session) captureLoop() {
	defer close(s.done)
	buf := make([]int16, s.cfg.FrameSize)
	lastCheck := time.Now()
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if time.Since(lastCheck) >= s.cfg.DeviceCheckInterval {
			if !s.deviceAvailable() {
				s.fail(ReasonDeviceLost, ErrDeviceLost)
				return
			}
			lastCheck = time.Now()
		}

		if err := s.stream.Read(buf); err != nil {
			if errors.Is(err, ErrInputOverflow) {
				// Normal when the process is briefly starved.
				continue
			}
			select {
			case <-s.stop:
				// Unblocked by Stop closing the stream.
				return
			default:
			}
			s.fail(ReasonReadError, fmt.Errorf("read audio frame: %w", err))
			return
		}

		chunk := make([]byte, len(buf)*2)
		for i, v := range buf {
			binary.LittleEndian.PutUint16(chunk[i*2:], uint16(v))
		}

		s.mu.Lock()
		if s.accumulated+int64(len(chunk)) > s.cfg.MaxMemoryBytes {
			s.reason = ReasonMemoryLimit
			s.mu.Unlock()
			s.logger.Warn("memory limit reached, stopping capture",
				slog.String("session_id", s.id),
				slog.Int64("limit_bytes", s.cfg.MaxMemoryBytes))
			return
		}
		s.frames = append(s.frames, chunk)
		s.accumulated += int64(len(chunk))
		elapsed := time.Since(s.started)
		s.mu.Unlock()

		if elapsed > s.cfg.MaxDuration {
			s.mu.Lock()
			s.reason = ReasonTimeLimit
			s.mu.Unlock()
			s.logger.Warn("time limit reached, stopping capture",
				slog.String("session_id", s.id),
				slog.Duration("limit", s.cfg.MaxDuration))
			return
		}
	}
}

func (s *Session) deviceAvailable() bool {
	devices, err := s.host.Devices()
	if err != nil {
		return false
	}
	for _, d := range devices {
		if d.Index == s.deviceIndex && d.InputChannels > 0 {
			return true
		}
	}
	return false
}

func (s *Session) fail(reason StopReason, err error) {
	s.mu.Lock()
	s.reason = reason
	s.loopErr = err
	s.mu.Unlock()
}

func pcmDuration(pcmBytes, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := pcmBytes / 2 / channels
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
