package typer

import (
	"context"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"
)

// clipboardAPI mirrors the atotto/clipboard package surface.
type clipboardAPI interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

type systemClipboard struct{}

func (systemClipboard) ReadAll() (string, error)   { return clipboard.ReadAll() }
func (systemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// pasteSink puts the transcript on the clipboard, sends Ctrl+V, and
// restores whatever was there before. Faster than typing for long
// transcripts and immune to key layout differences.
type pasteSink struct {
	clip       clipboardAPI
	tapper     keyTapper
	settleWait time.Duration
	pasteWait  time.Duration
}

func newPasteSink() (*pasteSink, error) {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, err
	}
	return &pasteSink{
		clip:       systemClipboard{},
		tapper:     &ctrlTapper{kb: kb},
		settleWait: 80 * time.Millisecond,
		pasteWait:  120 * time.Millisecond,
	}, nil
}

func (s *pasteSink) Deliver(ctx context.Context, text string) error {
	original, _ := s.clip.ReadAll()
	if err := s.clip.WriteAll(text); err != nil {
		return err
	}
	// Give the clipboard owner a moment before the paste chord.
	select {
	case <-time.After(s.settleWait):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := s.tapper.Tap(keybd_event.VK_V, false); err != nil {
		return err
	}
	select {
	case <-time.After(s.pasteWait):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.clip.WriteAll(original)
}

// ctrlTapper presses its key with Ctrl held.
type ctrlTapper struct {
	kb keybd_event.KeyBonding
}

func (t *ctrlTapper) Tap(code int, shift bool) error {
	t.kb.HasCTRL(true)
	t.kb.HasSHIFT(shift)
	t.kb.SetKeys(code)
	return t.kb.Launching()
}
