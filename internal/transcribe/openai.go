package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/quillvoice/quill-core/internal/wavenc"
)

// openaiBackend uses the official OpenAI audio transcription API
// through the go-openai client.
type openaiBackend struct {
	client   *openai.Client
	model    string
	language string
}

func newOpenAIBackend(cfg Config) (*openaiBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("transcription api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &openaiBackend{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    model,
		language: cfg.Language,
	}, nil
}

func (b *openaiBackend) Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int) (Result, error) {
	wavData, err := wavenc.Encode(pcm, sampleRate, channels)
	if err != nil {
		return Result{}, fmt.Errorf("encode clip: %w", err)
	}

	resp, err := b.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    b.model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(wavData),
		Language: b.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return Result{}, classifyOpenAIError(err)
	}
	return Result{Text: resp.Text}, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			return &AuthError{Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500:
			return &TransientError{Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
		default:
			return fmt.Errorf("openai transcription rejected: %w", err)
		}
	}
	// Transport-level failure.
	return &TransientError{Err: err}
}
