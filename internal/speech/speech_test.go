package speech

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videobrief/internal/apperr"
	"videobrief/internal/config"
)

func writeTestChunk(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "chunk.mp3")
	require.NoError(t, os.WriteFile(path, []byte("fake audio"), 0o644))
	return path
}

func TestTranscribeSucceedsOnPrimary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hello world","segments":[{"start":0,"end":1.5,"text":"hello world"}]}`))
	}))
	defer srv.Close()

	c := New(config.SpeechConfig{
		APIBaseURL: srv.URL, PrimaryModel: "whisper-primary", FallbackModel: "whisper-fallback",
		MaxRetries: 3, RequestTimeout: 5 * time.Second,
	})

	result, err := c.Transcribe(context.Background(), writeTestChunk(t))
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Text)
	assert.Equal(t, "whisper-primary", result.ModelUsed)
	require.Len(t, result.Segments, 1)
}

func TestTranscribeFallsBackAfterPrimaryExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		model := r.FormValue("model")
		if model == "whisper-primary" {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("down"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"fallback text","segments":[]}`))
	}))
	defer srv.Close()

	c := New(config.SpeechConfig{
		APIBaseURL: srv.URL, PrimaryModel: "whisper-primary", FallbackModel: "whisper-fallback",
		MaxRetries: 1, RequestTimeout: 5 * time.Second,
	})

	result, err := c.Transcribe(context.Background(), writeTestChunk(t))
	require.NoError(t, err)
	assert.Equal(t, "fallback text", result.Text)
	assert.Equal(t, "whisper-fallback", result.ModelUsed)
}

func TestTranscribeNonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad request"))
	}))
	defer srv.Close()

	c := New(config.SpeechConfig{
		APIBaseURL: srv.URL, PrimaryModel: "whisper-primary", FallbackModel: "whisper-fallback",
		MaxRetries: 3, RequestTimeout: 5 * time.Second,
	})

	_, err := c.Transcribe(context.Background(), writeTestChunk(t))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindSpeechError))
	assert.Equal(t, 1, calls)
}
