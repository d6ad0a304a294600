package notes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videobrief/internal/config"
	"videobrief/internal/store"
)

func chatCompletionBody(content string) string {
	return `{"choices":[{"message":{"role":"assistant","content":` + jsonQuote(content) + `}}]}`
}

func jsonQuote(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for _, r := range s {
		switch r {
		case '"':
			out = append(out, '\\', '"')
		case '\\':
			out = append(out, '\\', '\\')
		case '\n':
			out = append(out, '\\', 'n')
		default:
			out = append(out, byte(r))
		}
	}
	out = append(out, '"')
	return string(out)
}

func TestGenerateCoercesBareStringKeyPoints(t *testing.T) {
	docContent := `{"summary":"a summary","key_points":["point one","point two"],"tags":["go"],"chapters":[]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatCompletionBody(docContent)))
	}))
	defer srv.Close()

	c := New(config.NotesConfig{APIBaseURL: srv.URL, Model: "gpt-test", RequestTimeout: 5 * time.Second})
	result, err := c.Generate(context.Background(), "full transcript", []store.Segment{{StartS: 0, EndS: 1, Text: "hi"}})
	require.NoError(t, err)
	require.Len(t, result.KeyPoints, 2)
	assert.Equal(t, "point one", result.KeyPoints[0].Content)
	assert.Nil(t, result.KeyPoints[0].TimestampS)
}

func TestGenerateRejectsInvalidDocument(t *testing.T) {
	docContent := `{"detailed_notes":"missing the required fields"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatCompletionBody(docContent)))
	}))
	defer srv.Close()

	c := New(config.NotesConfig{APIBaseURL: srv.URL, Model: "gpt-test", RequestTimeout: 5 * time.Second})
	_, err := c.Generate(context.Background(), "full transcript", nil)
	require.Error(t, err)
}
