package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = time.Second
)

// retrying re-runs the inner backend on transient failures with
// exponential backoff. Auth rejections and other permanent errors pass
// through on the first attempt.
type retrying struct {
	inner       Transcriber
	maxAttempts int
	initial     time.Duration
	logger      *slog.Logger
}

func withRetry(inner Transcriber, cfg Config, logger *slog.Logger) Transcriber {
	r := &retrying{
		inner:       inner,
		maxAttempts: cfg.MaxAttempts,
		initial:     cfg.InitialBackoff,
		logger:      logger,
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.initial <= 0 {
		r.initial = defaultInitialBackoff
	}
	return r
}

func (r *retrying) Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int) (Result, error) {
	attempt := 0
	op := func() (Result, error) {
		attempt++
		res, err := r.inner.Transcribe(ctx, pcm, sampleRate, channels)
		if err == nil {
			return res, nil
		}
		var transient *TransientError
		if !errors.As(err, &transient) {
			return Result{}, backoff.Permanent(err)
		}
		r.logger.Warn("transcription attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", r.maxAttempts),
			slog.String("error", err.Error()))
		return Result{}, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initial
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(r.maxAttempts)))
}
