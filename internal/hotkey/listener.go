package hotkey

import (
	"context"
	"log/slog"
	"time"
)

// Source produces raw key transitions. The production source is a
// platform keyboard hook; tests and the control channel feed a
// ChanSource instead.
type Source interface {
	Events() <-chan Event
	Close() error
}

// ChanSource is a Source fed by hand.
type ChanSource struct {
	ch chan Event
}

func NewChanSource(buffer int) *ChanSource {
	return &ChanSource{ch: make(chan Event, buffer)}
}

func (s *ChanSource) Events() <-chan Event { return s.ch }

func (s *ChanSource) Close() error {
	close(s.ch)
	return nil
}

// Emit injects one transition.
func (s *ChanSource) Emit(code uint32, mods Modifier, pressed bool) {
	s.ch <- Event{Code: code, Mods: mods, Pressed: pressed, When: time.Now()}
}

// Handler receives push-to-talk transitions.
type Handler interface {
	HotkeyPressed(ctx context.Context)
	HotkeyReleased(ctx context.Context)
}

// Listener collapses raw transitions into press/release pairs for one
// binding. Auto-repeat presses while the key is held are dropped, and a
// release is honored even if the modifiers were let go first.
type Listener struct {
	binding Binding
	source  Source
	logger  *slog.Logger
}

func NewListener(binding Binding, source Source, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{binding: binding, source: source, logger: logger}
}

// Run dispatches to the handler until the context ends or the source
// closes.
func (l *Listener) Run(ctx context.Context, handler Handler) error {
	held := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-l.source.Events():
			if !ok {
				return nil
			}
			switch {
			case ev.Pressed && !held && l.binding.Matches(ev.Code, ev.Mods):
				held = true
				l.logger.Debug("hotkey pressed", slog.String("binding", l.binding.Name))
				handler.HotkeyPressed(ctx)
			case !ev.Pressed && held && ev.Code == l.binding.Code:
				held = false
				l.logger.Debug("hotkey released", slog.String("binding", l.binding.Name))
				handler.HotkeyReleased(ctx)
			}
		}
	}
}
