package ipc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/quillvoice/quill-core/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHandler struct {
	mu         sync.Mutex
	starts     int
	stops      int
	configured []map[string]any
	cfgErr     error
	state      string
}

func (h *fakeHandler) StartRecording(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts++
	return nil
}

func (h *fakeHandler) StopRecording(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops++
	return nil
}

func (h *fakeHandler) Configure(settings map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cfgErr != nil {
		return h.cfgErr
	}
	h.configured = append(h.configured, settings)
	return nil
}

func (h *fakeHandler) Status() protocol.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	state := h.state
	if state == "" {
		state = "idle"
	}
	return protocol.Event{Type: protocol.EventStatus, State: state}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines(t *testing.T) []protocol.Event {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var events []protocol.Event
	scanner := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for scanner.Scan() {
		var ev protocol.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("malformed event line %q: %v", scanner.Text(), err)
		}
		events = append(events, ev)
	}
	return events
}

func runServer(t *testing.T, input string, handler Handler) (*syncBuffer, error) {
	t.Helper()
	out := &syncBuffer{}
	srv := New(strings.NewReader(input), out, handler, testLogger())
	err := srv.Run(context.Background())
	return out, err
}

func TestDispatchCommands(t *testing.T) {
	t.Parallel()
	handler := &fakeHandler{}
	input := `{"type":"start_recording"}
{"type":"stop_recording"}
{"type":"get_status"}
`
	out, err := runServer(t, input, handler)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if handler.starts != 1 || handler.stops != 1 {
		t.Fatalf("starts=%d stops=%d, want 1/1", handler.starts, handler.stops)
	}
	events := out.lines(t)
	if len(events) != 1 || events[0].Type != protocol.EventStatus {
		t.Fatalf("events = %+v, want one status", events)
	}
	if events[0].Timestamp.IsZero() {
		t.Fatal("status event missing timestamp")
	}
}

func TestConfigureCommand(t *testing.T) {
	t.Parallel()
	handler := &fakeHandler{}
	input := `{"type":"configure","settings":{"remove_fillers":false}}
`
	out, err := runServer(t, input, handler)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(handler.configured) != 1 {
		t.Fatalf("configured calls = %d", len(handler.configured))
	}
	if v, ok := handler.configured[0]["remove_fillers"].(bool); !ok || v {
		t.Fatalf("settings = %v", handler.configured[0])
	}
	events := out.lines(t)
	if len(events) != 1 || events[0].Type != protocol.EventStatus {
		t.Fatalf("expected status ack, got %+v", events)
	}
}

func TestConfigureFailurePublishesError(t *testing.T) {
	t.Parallel()
	handler := &fakeHandler{cfgErr: errors.New("unknown setting")}
	out, err := runServer(t, `{"type":"configure","settings":{"volume":11}}`+"\n", handler)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	events := out.lines(t)
	if len(events) != 1 || events[0].ErrorCode != protocol.CodeInvalidCommand {
		t.Fatalf("events = %+v, want invalid_command error", events)
	}
}

func TestMalformedAndUnknownCommands(t *testing.T) {
	t.Parallel()
	handler := &fakeHandler{}
	input := `this is not json
{"type":"fly_to_moon"}
{"type":"get_status"}
`
	out, err := runServer(t, input, handler)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	events := out.lines(t)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %+v", events)
	}
	if events[0].ErrorCode != protocol.CodeInvalidCommand || events[1].ErrorCode != protocol.CodeInvalidCommand {
		t.Fatalf("expected invalid_command errors, got %+v", events[:2])
	}
	if events[2].Type != protocol.EventStatus {
		t.Fatal("later commands must still be processed")
	}
}

func TestPublishAsSink(t *testing.T) {
	t.Parallel()
	out := &syncBuffer{}
	srv := New(strings.NewReader(""), out, &fakeHandler{}, testLogger())
	srv.Publish(protocol.Event{Type: protocol.EventTranscript, Text: "Hello"})

	events := out.lines(t)
	if len(events) != 1 || events[0].Text != "Hello" {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Timestamp.IsZero() {
		t.Fatal("published event missing timestamp")
	}
}

func TestEmptyLinesIgnored(t *testing.T) {
	t.Parallel()
	handler := &fakeHandler{}
	out, err := runServer(t, "\n\n{\"type\":\"start_recording\"}\n\n", handler)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if handler.starts != 1 {
		t.Fatalf("starts = %d, want 1", handler.starts)
	}
	if events := out.lines(t); len(events) != 0 {
		t.Fatalf("unexpected events: %+v", events)
	}
}
