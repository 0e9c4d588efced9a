package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/quillvoice/quill-core/internal/wavenc"
)

// httpBackend posts WAV clips to a Whisper-compatible transcription
// endpoint as multipart form data. The client is shared across requests
// so connections stay warm between dictations.
type httpBackend struct {
	endpoint string
	apiKey   string
	model    string
	language string
	client   *http.Client
}

type httpResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func newHTTPBackend(cfg Config) (*httpBackend, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("transcription endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("transcription api key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.EnableHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, fmt.Errorf("configure http2: %w", err)
		}
	}
	return &httpBackend{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		client:   &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

func (b *httpBackend) Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int) (Result, error) {
	wavData, err := wavenc.Encode(pcm, sampleRate, channels)
	if err != nil {
		return Result{}, fmt.Errorf("encode clip: %w", err)
	}

	body, contentType, err := b.multipartBody(wavData)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, body)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, &TransientError{Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{}, &AuthError{Status: resp.StatusCode, Message: string(respBody)}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Result{}, &TransientError{Status: resp.StatusCode, Message: string(respBody)}
	default:
		return Result{}, fmt.Errorf("transcription request rejected (status %d): %s", resp.StatusCode, respBody)
	}

	var parsed httpResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	return Result{Text: parsed.Text, Confidence: parsed.Confidence}, nil
}

func (b *httpBackend) multipartBody(wavData []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fileWriter.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("write audio payload: %w", err)
	}

	fields := map[string]string{
		"model":           b.model,
		"response_format": "json",
	}
	if b.language != "" {
		fields["language"] = b.language
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
