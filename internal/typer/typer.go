// Package typer delivers cleaned transcripts to the focused
// application, either by synthesizing keystrokes or by a
// clipboard-backed paste. Desktop notifications report the outcome.
package typer

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sink pushes text at the cursor position.
type Sink interface {
	Deliver(ctx context.Context, text string) error
}

// Notifier shows a short desktop notification.
type Notifier interface {
	Notify(title, message string) error
}

type Config struct {
	Mode         string // type or paste
	CharInterval time.Duration
	Notify       bool
}

// Typer wraps the configured sink with logging and notifications.
type Typer struct {
	sink     Sink
	notifier Notifier
	notify   bool
	logger   *slog.Logger
}

// New builds a Typer for the configured delivery mode.
func New(cfg Config, logger *slog.Logger) (*Typer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var sink Sink
	switch cfg.Mode {
	case "", "type":
		ks, err := newKeystrokeSink(cfg.CharInterval)
		if err != nil {
			return nil, fmt.Errorf("keystroke sink: %w", err)
		}
		sink = ks
	case "paste":
		ps, err := newPasteSink()
		if err != nil {
			return nil, fmt.Errorf("paste sink: %w", err)
		}
		sink = ps
	default:
		return nil, fmt.Errorf("unknown output mode %q", cfg.Mode)
	}
	return newTyperWith(sink, beeepNotifier{}, cfg.Notify, logger), nil
}

func newTyperWith(sink Sink, notifier Notifier, notify bool, logger *slog.Logger) *Typer {
	return &Typer{sink: sink, notifier: notifier, notify: notify, logger: logger}
}

// Deliver types or pastes text and reports the outcome. Empty text is a
// no-op with a notification so the user knows the take produced
// nothing.
func (t *Typer) Deliver(ctx context.Context, text string) error {
	if text == "" {
		t.logger.Info("nothing to deliver, transcript empty")
		t.post("Dictation", "No speech detected")
		return nil
	}
	if err := t.sink.Deliver(ctx, text); err != nil {
		t.logger.Error("text delivery failed", slog.String("error", err.Error()))
		t.post("Dictation", "Could not type the transcript")
		return err
	}
	t.logger.Info("transcript delivered", slog.Int("chars", len(text)))
	t.post("Dictation", "Transcript inserted")
	return nil
}

func (t *Typer) post(title, message string) {
	if !t.notify || t.notifier == nil {
		return
	}
	if err := t.notifier.Notify(title, message); err != nil {
		t.logger.Debug("notification failed", slog.String("error", err.Error()))
	}
}
