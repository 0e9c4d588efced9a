package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/quillvoice/quill-core/internal/wavenc"
)

// execBackend shells out to a local transcription command, handing it a
// temporary WAV file. Useful for offline whisper.cpp style setups. One
// invocation at a time; dictation clips are serialized anyway.
type execBackend struct {
	cmd      []string
	model    string
	language string
	mu       sync.Mutex
}

type execOutput struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func newExecBackend(cfg Config) (*execBackend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcription command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcription command is empty")
	}
	return &execBackend{cmd: args, model: cfg.Model, language: cfg.Language}, nil
}

func (b *execBackend) Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wavData, err := wavenc.Encode(pcm, sampleRate, channels)
	if err != nil {
		return Result{}, fmt.Errorf("encode clip: %w", err)
	}
	file, err := os.CreateTemp("", "quill_clip_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	if _, err := file.Write(wavData); err != nil {
		file.Close()
		return Result{}, fmt.Errorf("write temp wav: %w", err)
	}
	if err := file.Close(); err != nil {
		return Result{}, fmt.Errorf("close temp wav: %w", err)
	}

	args := append([]string{}, b.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if b.model != "" {
		args = append(args, "--model", b.model)
	}
	if b.language != "" {
		args = append(args, "--language", b.language)
	}

	command := exec.CommandContext(ctx, b.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("transcription command failed: %w: %s", err, stderr.String())
	}

	var out execOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Result{}, fmt.Errorf("decode transcription output: %w", err)
	}
	return Result{Text: out.Text, Confidence: out.Confidence}, nil
}
