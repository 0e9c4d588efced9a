// Package controller binds the push-to-talk pieces together: hotkey
// transitions start and stop capture sessions, finished clips run
// through transcription and cleaning, and the result is typed at the
// cursor. Events fan out to every registered sink.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quillvoice/quill-core/internal/capture"
	"github.com/quillvoice/quill-core/internal/filler"
	"github.com/quillvoice/quill-core/internal/history"
	"github.com/quillvoice/quill-core/internal/protocol"
	"github.com/quillvoice/quill-core/internal/transcribe"
)

// EventSink receives every dictation event. Implementations must not
// block; slow consumers drop events, they do not stall dictation.
type EventSink interface {
	Publish(ev protocol.Event)
}

// Deliverer types or pastes the cleaned transcript.
type Deliverer interface {
	Deliver(ctx context.Context, text string) error
}

// Historian records finished dictations.
type Historian interface {
	Record(ctx context.Context, e history.Entry) error
}

type Config struct {
	RemoveFillers bool
	CustomPhrases string
}

type Controller struct {
	recorder    *capture.Recorder
	transcriber transcribe.Transcriber
	deliverer   Deliverer
	historian   Historian
	metrics     *Metrics
	logger      *slog.Logger
	fatal       chan error

	mu            sync.Mutex
	sinks         []EventSink
	cleaner       *filler.Cleaner
	removeFillers bool
	session       *capture.Session
	processing    int
	lastError     string
}

func New(recorder *capture.Recorder, transcriber transcribe.Transcriber, deliverer Deliverer, historian Historian, cfg Config, metrics *Metrics, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		recorder:      recorder,
		transcriber:   transcriber,
		deliverer:     deliverer,
		historian:     historian,
		metrics:       metrics,
		logger:        logger,
		fatal:         make(chan error, 1),
		cleaner:       filler.NewCleaner(filler.NewSet(filler.ParseCustom(cfg.CustomPhrases))),
		removeFillers: cfg.RemoveFillers,
	}
}

// AddSink registers an event consumer.
func (c *Controller) AddSink(sink EventSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, sink)
}

// Fatal delivers errors the daemon cannot recover from, like rejected
// API credentials or unusable audio hardware.
func (c *Controller) Fatal() <-chan error {
	return c.fatal
}

// HotkeyPressed starts a recording session.
func (c *Controller) HotkeyPressed(ctx context.Context) {
	c.StartRecording(ctx)
}

// HotkeyReleased stops the active session and processes the clip.
func (c *Controller) HotkeyReleased(ctx context.Context) {
	c.StopRecording(ctx)
}

// StartRecording opens the device and begins buffering audio.
func (c *Controller) StartRecording(ctx context.Context) error {
	sess, err := c.recorder.Start(ctx)
	if err != nil {
		c.reportError(err)
		var initErr *capture.DeviceInitError
		if errors.As(err, &initErr) {
			c.reportFatal(err)
		}
		return err
	}

	c.mu.Lock()
	c.session = sess
	c.lastError = ""
	c.mu.Unlock()

	c.metrics.recordStart(ctx)
	c.publish(protocol.Event{
		Type:      protocol.EventRecordingStarted,
		SessionID: sess.ID(),
		Device:    c.recorder.Device(),
	})
	return nil
}

// StopRecording finalizes the active session and hands the clip to the
// processing pipeline. Processing runs in the background so the next
// push-to-talk can begin immediately.
func (c *Controller) StopRecording(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		err := capture.ErrNotRecording
		c.reportError(err)
		return err
	}

	clip, err := sess.Stop()
	if err != nil {
		c.reportError(err)
		if !errors.Is(err, capture.ErrEmptyRecording) && !errors.Is(err, capture.ErrNotRecording) {
			c.metrics.recordFailed(ctx)
		}
		return err
	}

	c.publish(protocol.Event{
		Type:      protocol.EventRecordingStopped,
		SessionID: clip.SessionID,
		Duration:  clip.Duration.Seconds(),
		State:     clip.Reason.String(),
	})

	c.mu.Lock()
	c.processing++
	c.mu.Unlock()
	go c.process(ctx, sess, clip)
	return nil
}

func (c *Controller) process(ctx context.Context, sess *capture.Session, clip capture.Clip) {
	defer func() {
		sess.Finish()
		c.mu.Lock()
		c.processing--
		c.mu.Unlock()
	}()

	started := time.Now()
	result, err := c.transcriber.Transcribe(ctx, clip.PCM, clip.SampleRate, clip.Channels)
	transcribeSeconds := time.Since(started).Seconds()
	if err != nil {
		c.reportError(err)
		c.metrics.recordFailed(ctx)
		var authErr *transcribe.AuthError
		if errors.As(err, &authErr) {
			c.reportFatal(err)
		}
		return
	}

	c.mu.Lock()
	cleaner := c.cleaner
	remove := c.removeFillers
	c.mu.Unlock()

	var clean string
	if remove {
		clean = cleaner.Clean(result.Text)
	} else {
		clean = filler.Normalize(result.Text)
	}

	if c.historian != nil {
		entry := history.Entry{
			SessionID:  clip.SessionID,
			RawText:    result.Text,
			CleanText:  clean,
			Duration:   clip.Duration,
			Device:     c.recorder.Device(),
			StopReason: clip.Reason.String(),
		}
		if err := c.historian.Record(ctx, entry); err != nil {
			c.logger.Warn("history record failed", slog.String("error", err.Error()))
		}
	}

	if err := c.deliverer.Deliver(ctx, clean); err != nil {
		c.reportErrorCode(protocol.CodeDeliveryFailed, err)
		c.metrics.recordFailed(ctx)
		return
	}

	c.metrics.recordCompleted(ctx, clip.Duration.Seconds(), transcribeSeconds)
	c.publish(protocol.Event{
		Type:      protocol.EventTranscript,
		SessionID: clip.SessionID,
		Text:      clean,
		RawText:   result.Text,
		Duration:  clip.Duration.Seconds(),
	})
}

// Configure applies runtime setting changes from the control channel.
func (c *Controller) Configure(settings map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, value := range settings {
		switch key {
		case "remove_fillers":
			b, ok := value.(bool)
			if !ok {
				return fmt.Errorf("remove_fillers must be a boolean")
			}
			c.removeFillers = b
		case "custom_phrases":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("custom_phrases must be a string")
			}
			c.cleaner = filler.NewCleaner(filler.NewSet(filler.ParseCustom(s)))
		default:
			return fmt.Errorf("unknown setting %q", key)
		}
	}
	c.logger.Info("settings updated", slog.Int("count", len(settings)))
	return nil
}

// Status reports the current session state.
func (c *Controller) Status() protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := "idle"
	sessionID := ""
	if c.session != nil && c.session.State() == capture.StateRecording {
		state = "recording"
		sessionID = c.session.ID()
	} else if c.processing > 0 {
		state = "processing"
	}
	return protocol.Event{
		Type:      protocol.EventStatus,
		State:     state,
		SessionID: sessionID,
		Device:    c.recorder.Device(),
		Error:     c.lastError,
	}
}

func (c *Controller) publish(ev protocol.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	c.mu.Lock()
	sinks := make([]EventSink, len(c.sinks))
	copy(sinks, c.sinks)
	c.mu.Unlock()
	for _, sink := range sinks {
		sink.Publish(ev)
	}
}

func (c *Controller) reportError(err error) {
	c.reportErrorCode(errorCode(err), err)
}

func (c *Controller) reportErrorCode(code string, err error) {
	c.mu.Lock()
	c.lastError = err.Error()
	c.mu.Unlock()
	c.logger.Error("dictation error",
		slog.String("code", code),
		slog.String("error", err.Error()))
	c.publish(protocol.Event{
		Type:      protocol.EventError,
		ErrorCode: code,
		Error:     err.Error(),
	})
}

func (c *Controller) reportFatal(err error) {
	select {
	case c.fatal <- err:
	default:
	}
}

func errorCode(err error) string {
	var initErr *capture.DeviceInitError
	var authErr *transcribe.AuthError
	var transientErr *transcribe.TransientError
	switch {
	case errors.As(err, &initErr):
		return protocol.CodeDeviceInit
	case errors.Is(err, capture.ErrDeviceLost):
		return protocol.CodeDeviceLost
	case errors.Is(err, capture.ErrAlreadyRecording):
		return protocol.CodeAlreadyRecording
	case errors.Is(err, capture.ErrNotRecording):
		return protocol.CodeNotRecording
	case errors.Is(err, capture.ErrEmptyRecording):
		return protocol.CodeEmptyRecording
	case errors.As(err, &authErr):
		return protocol.CodeTranscribeAuth
	case errors.As(err, &transientErr):
		return protocol.CodeTranscribeFailed
	default:
		return protocol.CodeInternal
	}
}
