// Package capture owns the push-to-talk recording session: the state
// machine around a single audio input device, the bounded frame buffer,
// and the watchdog that notices when the device disappears mid-take.
package capture

import (
	"errors"
	"fmt"
	"time"
)

// State tracks a session through its lifecycle.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateProcessing
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StopReason records why the capture loop ended.
type StopReason int

const (
	ReasonStopped StopReason = iota // caller released the hotkey
	ReasonMemoryLimit
	ReasonTimeLimit
	ReasonDeviceLost
	ReasonReadError
)

func (r StopReason) String() string {
	switch r {
	case ReasonStopped:
		return "stopped"
	case ReasonMemoryLimit:
		return "memory_limit"
	case ReasonTimeLimit:
		return "time_limit"
	case ReasonDeviceLost:
		return "device_lost"
	case ReasonReadError:
		return "read_error"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

var (
	ErrAlreadyRecording = errors.New("a recording session is already active")
	ErrNotRecording     = errors.New("no recording in progress")
	ErrEmptyRecording   = errors.New("no audio captured")
	ErrDeviceLost       = errors.New("audio input device became unavailable")

	// ErrInputOverflow is the transient device condition the capture
	// loop swallows; host implementations map their native overflow
	// error onto it.
	ErrInputOverflow = errors.New("input overflowed")

	ErrNoInputDevice = errors.New("no working input device found")
)

// DeviceInitError reports that a working input device could not be
// acquired after the configured number of attempts. It is fatal: the
// daemon cannot run without audio hardware.
type DeviceInitError struct {
	Attempts int
	Err      error
}

func (e *DeviceInitError) Error() string {
	return fmt.Sprintf("audio device initialization failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *DeviceInitError) Unwrap() error { return e.Err }

// DeviceInfo describes one input device as enumerated by the host.
type DeviceInfo struct {
	Index         int
	Name          string
	InputChannels int
	Default       bool
}

// StreamConfig is what a session asks the host to open.
type StreamConfig struct {
	DeviceIndex int
	SampleRate  int
	Channels    int
	FrameSize   int // samples per read
}

// Stream is one open capture stream on a device.
type Stream interface {
	Start() error
	// Read fills buf with the next frame of samples, blocking until a
	// full frame is available.
	Read(buf []int16) error
	Stop() error
	Close() error
}

// Host abstracts the audio backend so the session logic can be driven
// by a fake in tests. The production implementation wraps PortAudio.
type Host interface {
	Devices() ([]DeviceInfo, error)
	Open(cfg StreamConfig) (Stream, error)
	Close() error
}

// Config bounds a recording session.
type Config struct {
	SampleRate          int
	Channels            int
	FrameSize           int
	MaxDuration         time.Duration
	MaxMemoryBytes      int64
	DeviceCheckInterval time.Duration
	InitAttempts        int
	InitBackoff         time.Duration
}

// withDefaults fills zero fields with the defaults inherited from the
// original tool: 16 kHz mono, 2048-sample chunks, 30 s / 100 MB caps,
// 2 s device probes, 3 init attempts 2 s apart.
func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.FrameSize <= 0 {
		c.FrameSize = 2048
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 30 * time.Second
	}
	if c.MaxMemoryBytes <= 0 {
		c.MaxMemoryBytes = 100 << 20
	}
	if c.DeviceCheckInterval <= 0 {
		c.DeviceCheckInterval = 2 * time.Second
	}
	if c.InitAttempts <= 0 {
		c.InitAttempts = 3
	}
	if c.InitBackoff <= 0 {
		c.InitBackoff = 2 * time.Second
	}
	return c
}

// Clip is the immutable result of a completed recording.
type Clip struct {
	SessionID  string
	PCM        []byte
	SampleRate int
	Channels   int
	Duration   time.Duration
	Reason     StopReason
}
