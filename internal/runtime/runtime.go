// Package runtime assembles the dictation daemon: audio capture,
// transcription, filler cleaning, text delivery, history, the control
// channel and the optional event bus, plus health and metrics
// endpoints.
package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/quillvoice/quill-core/internal/bus"
	"github.com/quillvoice/quill-core/internal/capture"
	"github.com/quillvoice/quill-core/internal/config"
	"github.com/quillvoice/quill-core/internal/controller"
	"github.com/quillvoice/quill-core/internal/history"
	"github.com/quillvoice/quill-core/internal/hotkey"
	"github.com/quillvoice/quill-core/internal/ipc"
	"github.com/quillvoice/quill-core/internal/natsserver"
	"github.com/quillvoice/quill-core/internal/protocol"
	"github.com/quillvoice/quill-core/internal/transcribe"
	"github.com/quillvoice/quill-core/internal/typer"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	hotkeySource hotkey.Source
	controlIn    io.Reader
	controlOut   io.Writer
	captureHost  capture.Host

	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup
}

type Option func(*Runtime)

// WithHotkeySource installs the OS key hook feeding push-to-talk
// transitions. Without one the daemon is driven by the control channel
// alone.
func WithHotkeySource(src hotkey.Source) Option {
	return func(r *Runtime) { r.hotkeySource = src }
}

// WithControlStreams overrides stdin/stdout for the control channel.
func WithControlStreams(in io.Reader, out io.Writer) Option {
	return func(r *Runtime) {
		r.controlIn = in
		r.controlOut = out
	}
}

// WithCaptureHost overrides the PortAudio host, mainly for tests.
func WithCaptureHost(host capture.Host) Option {
	return func(r *Runtime) { r.captureHost = host }
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:        cfg,
		logger:     logger,
		controlIn:  os.Stdin,
		controlOut: os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs the daemon until the context ends or a fatal error occurs.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	binding, err := hotkey.Parse(r.cfg.Hotkey.Binding)
	if err != nil {
		return fmt.Errorf("invalid hotkey binding: %w", err)
	}

	var store *history.Store
	var historian controller.Historian
	if r.cfg.History.Enabled {
		store, err = history.Open(ctx, r.cfg.History, r.logger)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		historian = store
	}

	host := r.captureHost
	if host == nil {
		host, err = capture.NewPortAudioHost()
		if err != nil {
			return fmt.Errorf("initialize audio host: %w", err)
		}
	}
	recorder := capture.NewRecorder(host, captureConfig(r.cfg.Audio), r.logger)
	if err := recorder.Init(ctx); err != nil {
		return fmt.Errorf("initialize audio device: %w", err)
	}

	transcriber, err := transcribe.New(transcribeConfig(r.cfg.Transcription), r.logger)
	if err != nil {
		return fmt.Errorf("initialize transcription: %w", err)
	}

	deliverer, err := typer.New(typer.Config{
		Mode:         r.cfg.Output.Mode,
		CharInterval: time.Duration(r.cfg.Output.CharIntervalMS) * time.Millisecond,
		Notify:       r.cfg.Output.Notifications,
	}, r.logger)
	if err != nil {
		return fmt.Errorf("initialize text output: %w", err)
	}

	metrics, err := controller.NewMetrics(otel.Meter("quill-core"))
	if err != nil {
		r.logger.Warn("metrics disabled", slog.String("error", err.Error()))
	}

	ctrl := controller.New(recorder, transcriber, deliverer, historian, controller.Config{
		RemoveFillers: r.cfg.Cleaning.RemoveFillers,
		CustomPhrases: r.cfg.Cleaning.CustomPhrases,
	}, metrics, r.logger)

	var natsServer *natsserver.EmbeddedServer
	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		natsServer, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		busCfg := r.cfg.Bus
		if natsServer != nil {
			busCfg.Servers = []string{natsServer.ClientURL()}
		}
		busClient, err = bus.Connect(busCfg, r.logger)
		if err != nil {
			natsServer.Shutdown()
			return fmt.Errorf("connect to bus: %w", err)
		}
		ctrl.AddSink(busSink{client: busClient})
	}

	var control *ipc.Server
	if r.cfg.IPC.Enabled {
		control = ipc.New(r.controlIn, r.controlOut, ctrl, r.logger)
		ctrl.AddSink(control)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := control.Run(ctx); err != nil {
				r.logger.Error("control channel failed", slog.String("error", err.Error()))
			}
			// A closed stdin means the front-end is gone.
			cancel()
		}()
	}

	if r.hotkeySource != nil {
		listener := hotkey.NewListener(binding, r.hotkeySource, r.logger)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := listener.Run(ctx, ctrl); err != nil && ctx.Err() == nil {
				r.logger.Error("hotkey listener failed", slog.String("error", err.Error()))
			}
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("daemon started",
		slog.String("addr", addr),
		slog.String("hotkey", binding.String()),
		slog.String("device", recorder.Device()))
	if control != nil {
		control.Publish(protocol.Event{
			Type:   protocol.EventReady,
			State:  "idle",
			Device: recorder.Device(),
		})
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-ctrl.Fatal():
		r.logger.Error("fatal dictation error", slog.String("error", err.Error()))
		runErr = err
	}

	r.ready.Store(false)
	cancel()
	r.logger.Info("daemon stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if err := recorder.Close(); err != nil {
		r.logger.Warn("audio host close error", slog.String("error", err.Error()))
	}
	busClient.Close()
	natsServer.Shutdown()
	if store != nil {
		if err := store.Close(); err != nil {
			r.logger.Warn("history close error", slog.String("error", err.Error()))
		}
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return runErr
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// busSink adapts the NATS client to the controller's sink interface.
type busSink struct {
	client *bus.Client
}

func (s busSink) Publish(ev protocol.Event) {
	s.client.PublishEvent(ev)
}

func captureConfig(cfg config.AudioConfig) capture.Config {
	return capture.Config{
		SampleRate:          cfg.SampleRate,
		Channels:            cfg.Channels,
		FrameSize:           cfg.FrameSize,
		MaxDuration:         time.Duration(cfg.MaxRecordingSeconds) * time.Second,
		MaxMemoryBytes:      int64(cfg.MaxMemoryMB) << 20,
		DeviceCheckInterval: time.Duration(cfg.DeviceCheckMS) * time.Millisecond,
		InitAttempts:        cfg.InitAttempts,
		InitBackoff:         time.Duration(cfg.InitBackoffMS) * time.Millisecond,
	}
}

func transcribeConfig(cfg config.TranscriptionConfig) transcribe.Config {
	return transcribe.Config{
		Mode:           cfg.Mode,
		Endpoint:       cfg.Endpoint,
		APIKey:         cfg.APIKey,
		Model:          cfg.Model,
		Language:       cfg.Language,
		Command:        cfg.Command,
		Timeout:        time.Duration(cfg.TimeoutMS) * time.Millisecond,
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: time.Duration(cfg.InitialBackoffMS) * time.Millisecond,
		EnableHTTP2:    cfg.EnableHTTP2,
	}
}
