package wavenc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/go-audio/wav"
)

func pcmFromSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestEncodeRoundTrip(t *testing.T) {
	samples := []int16{0, 42, -42, 32767, -32768, 1000}
	data, err := Encode(pcmFromSamples(samples), 16000, 1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if !dec.IsValidFile() {
		t.Fatal("encoded buffer is not a valid wav file")
	}
	if dec.SampleRate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", dec.SampleRate)
	}
	if dec.NumChans != 1 {
		t.Fatalf("channels = %d, want 1", dec.NumChans)
	}
	if dec.BitDepth != 16 {
		t.Fatalf("bit depth = %d, want 16", dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode pcm: %v", err)
	}
	if len(buf.Data) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Data), len(samples))
	}
	for i, s := range samples {
		if buf.Data[i] != int(s) {
			t.Fatalf("sample %d = %d, want %d", i, buf.Data[i], s)
		}
	}
}

func TestEncodeRejectsBadInput(t *testing.T) {
	if _, err := Encode(nil, 16000, 1); !errors.Is(err, ErrEmptyPCM) {
		t.Fatalf("expected ErrEmptyPCM, got %v", err)
	}
	if _, err := Encode([]byte{1}, 16000, 1); err == nil {
		t.Fatal("expected error for unaligned payload")
	}
	if _, err := Encode([]byte{1, 2}, 0, 1); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
	if _, err := Encode([]byte{1, 2}, 16000, 0); err == nil {
		t.Fatal("expected error for zero channels")
	}
}

func TestDuration(t *testing.T) {
	// One second of 16 kHz mono: 16000 samples, 2 bytes each.
	if d := Duration(32000, 16000, 1); d != time.Second {
		t.Fatalf("duration = %v, want 1s", d)
	}
	if d := Duration(0, 16000, 1); d != 0 {
		t.Fatalf("duration = %v, want 0", d)
	}
	if d := Duration(32000, 0, 1); d != 0 {
		t.Fatalf("duration = %v, want 0 for invalid rate", d)
	}
}
