// Package ipc exposes the daemon over a newline-delimited JSON control
// channel, one command or event per line. Front-ends launch the daemon
// with pipes on stdin/stdout and drive it through this channel.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/quillvoice/quill-core/internal/protocol"
)

// maxLineBytes bounds one command line; a configure payload never
// comes close.
const maxLineBytes = 1 << 20

// Handler is the daemon surface the control channel drives.
type Handler interface {
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	Configure(settings map[string]any) error
	Status() protocol.Event
}

// Server decodes commands from one stream and writes events to
// another. It doubles as an event sink so controller events reach the
// front-end on the same channel.
type Server struct {
	in      io.Reader
	handler Handler
	logger  *slog.Logger

	mu  sync.Mutex
	out io.Writer
}

func New(in io.Reader, out io.Writer, handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{in: in, out: out, handler: handler, logger: logger}
}

// Run consumes commands until the input stream closes or the context
// ends. Malformed lines produce error events, not disconnects. The
// reader goroutine may stay blocked on the stream after cancellation;
// it holds no resources beyond the stream itself.
func (s *Server) Run(ctx context.Context) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(s.in)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read control channel: %w", err)
			}
			s.logger.Info("control channel closed")
			return nil
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			var cmd protocol.Command
			if err := json.Unmarshal(line, &cmd); err != nil {
				s.publishError(fmt.Errorf("malformed command: %w", err))
				continue
			}
			s.dispatch(ctx, cmd)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, cmd protocol.Command) {
	switch cmd.Type {
	case protocol.CommandStartRecording:
		// Failures surface as error events from the controller.
		_ = s.handler.StartRecording(ctx)
	case protocol.CommandStopRecording:
		_ = s.handler.StopRecording(ctx)
	case protocol.CommandConfigure:
		if err := s.handler.Configure(cmd.Settings); err != nil {
			s.publishError(err)
			return
		}
		s.Publish(s.handler.Status())
	case protocol.CommandGetStatus:
		s.Publish(s.handler.Status())
	default:
		s.publishError(fmt.Errorf("unknown command type %q", cmd.Type))
	}
}

// Publish writes one event as a JSON line.
func (s *Server) Publish(ev protocol.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("encode event", slog.String("error", err.Error()))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(append(payload, '\n')); err != nil {
		s.logger.Warn("write control channel", slog.String("error", err.Error()))
	}
}

func (s *Server) publishError(err error) {
	s.logger.Warn("control channel error", slog.String("error", err.Error()))
	s.Publish(protocol.Event{
		Type:      protocol.EventError,
		ErrorCode: protocol.CodeInvalidCommand,
		Error:     err.Error(),
	})
}
