package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPCM() []byte {
	pcm := make([]byte, 640)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	return pcm
}

func newTestTranscriber(t *testing.T, endpoint string) Transcriber {
	t.Helper()
	tr, err := New(Config{
		Mode:           "http",
		Endpoint:       endpoint,
		APIKey:         "test-key",
		Model:          "whisper-1",
		Language:       "en",
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	}, testLogger())
	if err != nil {
		t.Fatalf("new transcriber: %v", err)
	}
	return tr
}

func TestHTTPTranscribeSuccess(t *testing.T) {
	t.Parallel()
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("model") != "whisper-1" {
			t.Errorf("model field = %q", r.FormValue("model"))
		}
		if r.FormValue("language") != "en" {
			t.Errorf("language field = %q", r.FormValue("language"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			file.Close()
			if header.Filename != "audio.wav" {
				t.Errorf("filename = %q", header.Filename)
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"text": "hello world"})
	}))
	defer srv.Close()

	res, err := newTestTranscriber(t, srv.URL).Transcribe(context.Background(), testPCM(), 16000, 1)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "hello world" {
		t.Fatalf("text = %q, want hello world", res.Text)
	}
	if n := requests.Load(); n != 1 {
		t.Fatalf("server saw %d requests, want 1", n)
	}
}

func TestHTTPTranscribeAuthFailureIsFatal(t *testing.T) {
	t.Parallel()
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestTranscriber(t, srv.URL).Transcribe(context.Background(), testPCM(), 16000, 1)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want AuthError", err)
	}
	if authErr.Status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", authErr.Status)
	}
	if n := requests.Load(); n != 1 {
		t.Fatalf("auth failure was retried: %d requests", n)
	}
}

func TestHTTPTranscribeRetriesServerErrors(t *testing.T) {
	t.Parallel()
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "upstream down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestTranscriber(t, srv.URL).Transcribe(context.Background(), testPCM(), 16000, 1)
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("error = %v, want TransientError", err)
	}
	if n := requests.Load(); n != 3 {
		t.Fatalf("server saw %d requests, want 3", n)
	}
}

func TestHTTPTranscribeRecoversAfterRateLimit(t *testing.T) {
	t.Parallel()
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"text": "second try"})
	}))
	defer srv.Close()

	res, err := newTestTranscriber(t, srv.URL).Transcribe(context.Background(), testPCM(), 16000, 1)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "second try" {
		t.Fatalf("text = %q, want second try", res.Text)
	}
	if n := requests.Load(); n != 2 {
		t.Fatalf("server saw %d requests, want 2", n)
	}
}

func TestHTTPTranscribeBadRequestNotRetried(t *testing.T) {
	t.Parallel()
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "unsupported format", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestTranscriber(t, srv.URL).Transcribe(context.Background(), testPCM(), 16000, 1)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		t.Fatalf("400 classified as transient: %v", err)
	}
	if n := requests.Load(); n != 1 {
		t.Fatalf("bad request was retried: %d requests", n)
	}
}

func TestHTTPTranscribeNetworkFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	_, err := newTestTranscriber(t, endpoint).Transcribe(context.Background(), testPCM(), 16000, 1)
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("error = %v, want TransientError", err)
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Mode: "telepathy"}, testLogger()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Mode: "http", Endpoint: "http://localhost"}, testLogger()); err == nil {
		t.Fatal("expected error for missing api key")
	}
	if _, err := New(Config{Mode: "http", APIKey: "k"}, testLogger()); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestMockBackend(t *testing.T) {
	t.Parallel()
	res, err := NewMock("canned").Transcribe(context.Background(), testPCM(), 16000, 1)
	if err != nil {
		t.Fatalf("mock: %v", err)
	}
	if res.Text != "canned" {
		t.Fatalf("text = %q, want canned", res.Text)
	}
}
