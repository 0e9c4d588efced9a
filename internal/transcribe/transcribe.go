// Package transcribe turns recorded PCM into text through a pluggable
// speech-to-text backend. All backends sit behind the Transcriber
// interface; retry policy is layered on top so the backends themselves
// stay single-shot.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Result captures backend output for one clip.
type Result struct {
	Text       string
	Confidence float64
}

// Transcriber converts one clip of raw PCM into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int) (Result, error)
}

// AuthError means the API rejected our credentials. It is never
// retried: the key will not become valid by waiting.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("transcription auth rejected (status %d): %s", e.Status, e.Message)
}

// TransientError covers conditions worth retrying: rate limits, server
// errors, network failures.
type TransientError struct {
	Status  int
	Message string
	Err     error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient transcription failure: %v", e.Err)
	}
	return fmt.Sprintf("transient transcription failure (status %d): %s", e.Status, e.Message)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Config selects and parameterizes a backend.
type Config struct {
	Mode     string // http, openai, exec, mock
	Endpoint string
	APIKey   string
	Model    string
	Language string
	Command  string // exec mode only
	Timeout  time.Duration

	MaxAttempts    int
	InitialBackoff time.Duration
	EnableHTTP2    bool
}

// New builds the configured backend wrapped in the retry layer.
func New(cfg Config, logger *slog.Logger) (Transcriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	// "auto" means no language hint; the API detects it.
	if cfg.Language == "auto" {
		cfg.Language = ""
	}
	var (
		backend Transcriber
		err     error
	)
	switch cfg.Mode {
	case "", "http":
		backend, err = newHTTPBackend(cfg)
	case "openai":
		backend, err = newOpenAIBackend(cfg)
	case "exec":
		backend, err = newExecBackend(cfg)
	case "mock":
		backend = NewMock("")
	default:
		return nil, fmt.Errorf("unknown transcription mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	return withRetry(backend, cfg, logger), nil
}
