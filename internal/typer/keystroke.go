package typer

import (
	"context"
	"log/slog"
	"time"

	"github.com/micmonay/keybd_event"
)

const defaultCharInterval = 10 * time.Millisecond

// keyTapper presses one key, optionally shifted. Abstracted so tests
// can record taps instead of driving the real keyboard.
type keyTapper interface {
	Tap(code int, shift bool) error
}

type keybdTapper struct {
	kb keybd_event.KeyBonding
}

func newKeybdTapper() (*keybdTapper, error) {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, err
	}
	return &keybdTapper{kb: kb}, nil
}

func (t *keybdTapper) Tap(code int, shift bool) error {
	t.kb.HasSHIFT(shift)
	t.kb.SetKeys(code)
	return t.kb.Launching()
}

// keystrokeSink types text one character at a time with a small pause
// between keys so the receiving application keeps up.
type keystrokeSink struct {
	tapper   keyTapper
	interval time.Duration
}

func newKeystrokeSink(interval time.Duration) (*keystrokeSink, error) {
	tapper, err := newKeybdTapper()
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = defaultCharInterval
	}
	return &keystrokeSink{tapper: tapper, interval: interval}, nil
}

func (s *keystrokeSink) Deliver(ctx context.Context, text string) error {
	skipped := 0
	for _, r := range text {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		stroke, ok := strokeFor(r)
		if !ok {
			skipped++
			continue
		}
		if err := s.tapper.Tap(stroke.code, stroke.shift); err != nil {
			return err
		}
		time.Sleep(s.interval)
	}
	if skipped > 0 {
		slog.Debug("skipped characters without key mapping", slog.Int("count", skipped))
	}
	return nil
}

type keystroke struct {
	code  int
	shift bool
}

// strokeFor maps a rune onto a US-layout key press. Characters outside
// the table are skipped by the caller.
func strokeFor(r rune) (keystroke, bool) {
	if r >= 'a' && r <= 'z' {
		return keystroke{code: letterCodes[r-'a']}, true
	}
	if r >= 'A' && r <= 'Z' {
		return keystroke{code: letterCodes[r-'A'], shift: true}, true
	}
	if r >= '0' && r <= '9' {
		return keystroke{code: digitCodes[r-'0']}, true
	}
	s, ok := symbolCodes[r]
	return s, ok
}

var letterCodes = [26]int{
	keybd_event.VK_A, keybd_event.VK_B, keybd_event.VK_C, keybd_event.VK_D,
	keybd_event.VK_E, keybd_event.VK_F, keybd_event.VK_G, keybd_event.VK_H,
	keybd_event.VK_I, keybd_event.VK_J, keybd_event.VK_K, keybd_event.VK_L,
	keybd_event.VK_M, keybd_event.VK_N, keybd_event.VK_O, keybd_event.VK_P,
	keybd_event.VK_Q, keybd_event.VK_R, keybd_event.VK_S, keybd_event.VK_T,
	keybd_event.VK_U, keybd_event.VK_V, keybd_event.VK_W, keybd_event.VK_X,
	keybd_event.VK_Y, keybd_event.VK_Z,
}

var digitCodes = [10]int{
	keybd_event.VK_0, keybd_event.VK_1, keybd_event.VK_2, keybd_event.VK_3,
	keybd_event.VK_4, keybd_event.VK_5, keybd_event.VK_6, keybd_event.VK_7,
	keybd_event.VK_8, keybd_event.VK_9,
}

var symbolCodes = map[rune]keystroke{
	' ':  {code: keybd_event.VK_SPACE},
	'\n': {code: keybd_event.VK_ENTER},
	'\t': {code: keybd_event.VK_TAB},
	'-':  {code: keybd_event.VK_SP2},
	'=':  {code: keybd_event.VK_SP3},
	'[':  {code: keybd_event.VK_SP4},
	']':  {code: keybd_event.VK_SP5},
	';':  {code: keybd_event.VK_SP6},
	'\'': {code: keybd_event.VK_SP7},
	'\\': {code: keybd_event.VK_SP8},
	',':  {code: keybd_event.VK_SP9},
	'.':  {code: keybd_event.VK_SP10},
	'/':  {code: keybd_event.VK_SP11},
	'!':  {code: keybd_event.VK_1, shift: true},
	'@':  {code: keybd_event.VK_2, shift: true},
	'#':  {code: keybd_event.VK_3, shift: true},
	'$':  {code: keybd_event.VK_4, shift: true},
	'%':  {code: keybd_event.VK_5, shift: true},
	'^':  {code: keybd_event.VK_6, shift: true},
	'&':  {code: keybd_event.VK_7, shift: true},
	'*':  {code: keybd_event.VK_8, shift: true},
	'(':  {code: keybd_event.VK_9, shift: true},
	')':  {code: keybd_event.VK_0, shift: true},
	'_':  {code: keybd_event.VK_SP2, shift: true},
	'+':  {code: keybd_event.VK_SP3, shift: true},
	':':  {code: keybd_event.VK_SP6, shift: true},
	'"':  {code: keybd_event.VK_SP7, shift: true},
	'<':  {code: keybd_event.VK_SP9, shift: true},
	'>':  {code: keybd_event.VK_SP10, shift: true},
	'?':  {code: keybd_event.VK_SP11, shift: true},
}
