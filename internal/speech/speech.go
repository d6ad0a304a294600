// Package speech is the single-call contract against a speech-to-text
// HTTP API, with retry on transient failures and a one-shot fallback to a
// secondary model.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"videobrief/internal/apperr"
	"videobrief/internal/config"
)

// Segment is one timed span of a transcription result.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the outcome of Transcribe.
type Result struct {
	Text      string
	ModelUsed string
	Segments  []Segment
}

type transcriptionResponse struct {
	Text     string    `json:"text"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
}

// Client is the SpeechClient implementation.
type Client struct {
	cfg  config.SpeechConfig
	http *http.Client
}

// New builds a Client from configuration.
func New(cfg config.SpeechConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Transcribe submits a single audio chunk and returns its transcript.
//
// Retry policy: up to cfg.MaxRetries attempts with exponential backoff
// against the primary model on transient errors (timeouts, 5xx, 429). If
// the primary model is exhausted, the client falls back once to the
// secondary model; the model actually used is reported in ModelUsed.
// Non-retryable errors (4xx other than 429) surface immediately as
// SpeechError.
func (c *Client) Transcribe(ctx context.Context, chunkPath string) (Result, error) {
	result, err := c.transcribeWithModel(ctx, chunkPath, c.cfg.PrimaryModel)
	if err == nil {
		return result, nil
	}
	if apperr.IsUnretriable(err) || c.cfg.FallbackModel == "" {
		return Result{}, err
	}

	result, fallbackErr := c.transcribeWithModel(ctx, chunkPath, c.cfg.FallbackModel)
	if fallbackErr != nil {
		return Result{}, fallbackErr
	}
	result.ModelUsed = c.cfg.FallbackModel
	return result, nil
}

func (c *Client) transcribeWithModel(ctx context.Context, chunkPath, model string) (Result, error) {
	var result Result

	op := func() error {
		r, err := c.doRequest(ctx, chunkPath, model)
		if err != nil {
			return err
		}
		result = r
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	// WithMaxRetries counts retries after the first call, so MaxRetries
	// attempts means MaxRetries-1 retries.
	retries := c.cfg.MaxRetries - 1
	if retries < 0 {
		retries = 0
	}
	retryErr := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), ctx))
	if retryErr != nil {
		return Result{}, retryErr
	}
	result.ModelUsed = model
	return result, nil
}

func (c *Client) doRequest(ctx context.Context, chunkPath, model string) (Result, error) {
	file, err := os.Open(chunkPath)
	if err != nil {
		return Result{}, backoff.Permanent(apperr.Unretriable(apperr.SpeechError(err, "open %s", chunkPath)))
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("model", model); err != nil {
		return Result{}, backoff.Permanent(apperr.Unretriable(apperr.SpeechError(err, "build request")))
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return Result{}, backoff.Permanent(apperr.Unretriable(apperr.SpeechError(err, "build request")))
	}
	if err := writer.WriteField("timestamp_granularities[]", "segment"); err != nil {
		return Result{}, backoff.Permanent(apperr.Unretriable(apperr.SpeechError(err, "build request")))
	}
	part, err := writer.CreateFormFile("file", filepath.Base(chunkPath))
	if err != nil {
		return Result{}, backoff.Permanent(apperr.Unretriable(apperr.SpeechError(err, "build request")))
	}
	if _, err := io.Copy(part, file); err != nil {
		return Result{}, backoff.Permanent(apperr.Unretriable(apperr.SpeechError(err, "read %s", chunkPath)))
	}
	if err := writer.Close(); err != nil {
		return Result{}, backoff.Permanent(apperr.Unretriable(apperr.SpeechError(err, "build request")))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return Result{}, backoff.Permanent(apperr.Unretriable(apperr.SpeechError(err, "build request")))
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, apperr.SpeechError(err, "transcribe %s", chunkPath)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, apperr.SpeechError(err, "read transcription response")
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Result{}, apperr.SpeechError(fmt.Errorf("status %d: %s", resp.StatusCode, respBody), "transcribe %s", chunkPath)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, backoff.Permanent(apperr.Unretriable(apperr.SpeechError(fmt.Errorf("status %d: %s", resp.StatusCode, respBody), "transcribe %s", chunkPath)))
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, backoff.Permanent(apperr.Unretriable(apperr.SpeechError(err, "parse transcription response")))
	}

	return Result{Text: parsed.Text, Segments: parsed.Segments}, nil
}
