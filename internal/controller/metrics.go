package controller

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Metrics tracks dictation outcomes. All methods are nil-safe so the
// controller runs unchanged when telemetry is disabled.
type Metrics struct {
	sessionsStarted   metric.Int64Counter
	sessionsCompleted metric.Int64Counter
	sessionsFailed    metric.Int64Counter
	audioSeconds      metric.Float64Histogram
	transcribeSeconds metric.Float64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	started, err := meter.Int64Counter("dictation.sessions.started",
		metric.WithDescription("Recording sessions started"))
	if err != nil {
		return nil, err
	}
	completed, err := meter.Int64Counter("dictation.sessions.completed",
		metric.WithDescription("Sessions that delivered a transcript"))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("dictation.sessions.failed",
		metric.WithDescription("Sessions that ended in an error"))
	if err != nil {
		return nil, err
	}
	audio, err := meter.Float64Histogram("dictation.audio.seconds",
		metric.WithDescription("Recorded clip duration"))
	if err != nil {
		return nil, err
	}
	transcribe, err := meter.Float64Histogram("dictation.transcribe.seconds",
		metric.WithDescription("Time spent in the transcription backend"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		sessionsStarted:   started,
		sessionsCompleted: completed,
		sessionsFailed:    failed,
		audioSeconds:      audio,
		transcribeSeconds: transcribe,
	}, nil
}

func (m *Metrics) recordStart(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsStarted.Add(ctx, 1)
}

func (m *Metrics) recordCompleted(ctx context.Context, audioSeconds, transcribeSeconds float64) {
	if m == nil {
		return
	}
	m.sessionsCompleted.Add(ctx, 1)
	m.audioSeconds.Record(ctx, audioSeconds)
	m.transcribeSeconds.Record(ctx, transcribeSeconds)
}

func (m *Metrics) recordFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsFailed.Add(ctx, 1)
}
