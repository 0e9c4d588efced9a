package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quillvoice/quill-core/internal/capture"
	"github.com/quillvoice/quill-core/internal/history"
	"github.com/quillvoice/quill-core/internal/protocol"
	"github.com/quillvoice/quill-core/internal/transcribe"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStream struct {
	readFn func(buf []int16) error
	mu     sync.Mutex
	closed bool
}

func (s *fakeStream) Start() error { return nil }

func (s *fakeStream) Read(buf []int16) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("read on closed stream")
	}
	return s.readFn(buf)
}

func (s *fakeStream) Stop() error { return nil }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeHost struct {
	readFn func(buf []int16) error
}

func (h *fakeHost) Devices() ([]capture.DeviceInfo, error) {
	return []capture.DeviceInfo{{Index: 0, Name: "mic", InputChannels: 1, Default: true}}, nil
}

func (h *fakeHost) Open(capture.StreamConfig) (capture.Stream, error) {
	return &fakeStream{readFn: h.readFn}, nil
}

func (h *fakeHost) Close() error { return nil }

func fillRead(buf []int16) error {
	time.Sleep(time.Millisecond)
	for i := range buf {
		buf[i] = int16(i%50 + 1)
	}
	return nil
}

func silentRead([]int16) error {
	time.Sleep(time.Millisecond)
	return capture.ErrInputOverflow
}

type fakeTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, pcm []byte, _, _ int) (transcribe.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return transcribe.Result{}, f.err
	}
	return transcribe.Result{Text: f.text}, nil
}

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []string
	err       error
}

func (f *fakeDeliverer) Deliver(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, text)
	return nil
}

func (f *fakeDeliverer) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.delivered))
	copy(out, f.delivered)
	return out
}

type fakeHistorian struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (f *fakeHistorian) Record(_ context.Context, e history.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (s *recordingSink) Publish(ev protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) find(eventType string) (protocol.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Type == eventType {
			return ev, true
		}
	}
	return protocol.Event{}, false
}

func (s *recordingSink) waitFor(t *testing.T, eventType string) protocol.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ev, ok := s.find(eventType); ok {
			return ev
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no %s event arrived", eventType)
	return protocol.Event{}
}

func newTestController(readFn func([]int16) error, tr transcribe.Transcriber, del Deliverer, hist Historian) (*Controller, *recordingSink) {
	recorder := capture.NewRecorder(&fakeHost{readFn: readFn}, capture.Config{
		SampleRate:   16000,
		Channels:     1,
		FrameSize:    64,
		InitAttempts: 1,
		InitBackoff:  time.Millisecond,
	}, testLogger())
	ctrl := New(recorder, tr, del, hist, Config{RemoveFillers: true}, nil, testLogger())
	sink := &recordingSink{}
	ctrl.AddSink(sink)
	return ctrl, sink
}

func TestFullDictationCycle(t *testing.T) {
	t.Parallel()
	tr := &fakeTranscriber{text: "um, hello there you know"}
	del := &fakeDeliverer{}
	hist := &fakeHistorian{}
	ctrl, sink := newTestController(fillRead, tr, del, hist)
	ctx := context.Background()

	ctrl.HotkeyPressed(ctx)
	started := sink.waitFor(t, protocol.EventRecordingStarted)
	if started.Device != "mic" {
		t.Fatalf("started event device = %q", started.Device)
	}
	if st := ctrl.Status(); st.State != "recording" {
		t.Fatalf("status = %q, want recording", st.State)
	}

	time.Sleep(20 * time.Millisecond)
	ctrl.HotkeyReleased(ctx)
	stopped := sink.waitFor(t, protocol.EventRecordingStopped)
	if stopped.SessionID != started.SessionID {
		t.Fatal("stop event has a different session id")
	}

	transcript := sink.waitFor(t, protocol.EventTranscript)
	if transcript.Text != "Hello there" {
		t.Fatalf("transcript = %q, want cleaned text", transcript.Text)
	}
	if transcript.RawText != "um, hello there you know" {
		t.Fatalf("raw text = %q", transcript.RawText)
	}

	if texts := del.texts(); len(texts) != 1 || texts[0] != "Hello there" {
		t.Fatalf("delivered = %v", texts)
	}

	hist.mu.Lock()
	defer hist.mu.Unlock()
	if len(hist.entries) != 1 || hist.entries[0].CleanText != "Hello there" {
		t.Fatalf("history entries = %+v", hist.entries)
	}
	if hist.entries[0].RawText != "um, hello there you know" {
		t.Fatalf("history raw = %q", hist.entries[0].RawText)
	}
}

func TestStartWhileRecordingPublishesError(t *testing.T) {
	t.Parallel()
	ctrl, sink := newTestController(fillRead, &fakeTranscriber{text: "x"}, &fakeDeliverer{}, nil)
	ctx := context.Background()

	if err := ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := ctrl.StartRecording(ctx); !errors.Is(err, capture.ErrAlreadyRecording) {
		t.Fatalf("second start = %v", err)
	}
	ev := sink.waitFor(t, protocol.EventError)
	if ev.ErrorCode != protocol.CodeAlreadyRecording {
		t.Fatalf("error code = %q", ev.ErrorCode)
	}

	time.Sleep(10 * time.Millisecond)
	if err := ctrl.StopRecording(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestStopWithoutSession(t *testing.T) {
	t.Parallel()
	ctrl, sink := newTestController(fillRead, &fakeTranscriber{text: "x"}, &fakeDeliverer{}, nil)

	if err := ctrl.StopRecording(context.Background()); !errors.Is(err, capture.ErrNotRecording) {
		t.Fatalf("stop = %v, want ErrNotRecording", err)
	}
	ev := sink.waitFor(t, protocol.EventError)
	if ev.ErrorCode != protocol.CodeNotRecording {
		t.Fatalf("error code = %q", ev.ErrorCode)
	}
}

func TestEmptyRecordingPublishesError(t *testing.T) {
	t.Parallel()
	del := &fakeDeliverer{}
	ctrl, sink := newTestController(silentRead, &fakeTranscriber{text: "x"}, del, nil)
	ctx := context.Background()

	if err := ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := ctrl.StopRecording(ctx); !errors.Is(err, capture.ErrEmptyRecording) {
		t.Fatalf("stop = %v, want ErrEmptyRecording", err)
	}
	ev := sink.waitFor(t, protocol.EventError)
	if ev.ErrorCode != protocol.CodeEmptyRecording {
		t.Fatalf("error code = %q", ev.ErrorCode)
	}
	if len(del.texts()) != 0 {
		t.Fatal("nothing must be delivered for an empty take")
	}
}

func TestAuthErrorIsFatal(t *testing.T) {
	t.Parallel()
	tr := &fakeTranscriber{err: &transcribe.AuthError{Status: 401, Message: "bad key"}}
	ctrl, sink := newTestController(fillRead, tr, &fakeDeliverer{}, nil)
	ctx := context.Background()

	if err := ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := ctrl.StopRecording(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	ev := sink.waitFor(t, protocol.EventError)
	if ev.ErrorCode != protocol.CodeTranscribeAuth {
		t.Fatalf("error code = %q", ev.ErrorCode)
	}
	select {
	case err := <-ctrl.Fatal():
		var authErr *transcribe.AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("fatal error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("auth failure did not reach the fatal channel")
	}
}

func TestConfigureTogglesFillerRemoval(t *testing.T) {
	t.Parallel()
	tr := &fakeTranscriber{text: "um hello"}
	del := &fakeDeliverer{}
	ctrl, sink := newTestController(fillRead, tr, del, nil)
	ctx := context.Background()

	if err := ctrl.Configure(map[string]any{"remove_fillers": false}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := ctrl.StopRecording(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	ev := sink.waitFor(t, protocol.EventTranscript)
	if ev.Text != "Um hello" {
		t.Fatalf("transcript = %q, want normalization only", ev.Text)
	}
}

func TestConfigureRejectsUnknownSetting(t *testing.T) {
	t.Parallel()
	ctrl, _ := newTestController(fillRead, &fakeTranscriber{text: "x"}, &fakeDeliverer{}, nil)
	if err := ctrl.Configure(map[string]any{"volume": 11}); err == nil {
		t.Fatal("expected error for unknown setting")
	}
	if err := ctrl.Configure(map[string]any{"remove_fillers": "yes"}); err == nil {
		t.Fatal("expected error for wrong value type")
	}
}

func TestStatusReflectsLifecycle(t *testing.T) {
	t.Parallel()
	ctrl, sink := newTestController(fillRead, &fakeTranscriber{text: "ok"}, &fakeDeliverer{}, nil)
	ctx := context.Background()

	if st := ctrl.Status(); st.State != "idle" {
		t.Fatalf("initial state = %q", st.State)
	}
	if err := ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if st := ctrl.Status(); st.State != "recording" || st.SessionID == "" {
		t.Fatalf("status = %+v, want recording with session id", st)
	}
	time.Sleep(10 * time.Millisecond)
	if err := ctrl.StopRecording(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	sink.waitFor(t, protocol.EventTranscript)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ctrl.Status().State == "idle" {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %q, want idle after processing", ctrl.Status().State)
}
