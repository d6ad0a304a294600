// Package notes derives a structured note document from a transcript: a
// single completion request that asks a language model for a
// StructuredNotes document and validates the response against a JSON
// schema before decoding it.
package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/xeipuuv/gojsonschema"

	"videobrief/internal/apperr"
	"videobrief/internal/config"
	"videobrief/internal/store"
)

// notesSchemaDefinition allows either a bare string or a
// {content, timestamp_s} object for timestamped list entries, so documents
// written before timestamps were added still validate.
const notesSchemaDefinition = `{
  "type": "object",
  "required": ["summary", "key_points", "tags"],
  "properties": {
    "summary": {"type": "string"},
    "detailed_notes": {"type": "string"},
    "key_points": {"type": "array", "items": {"$ref": "#/definitions/timestamped"}},
    "takeaways": {"type": "array", "items": {"$ref": "#/definitions/timestamped"}},
    "quotes": {"type": "array", "items": {"$ref": "#/definitions/timestamped"}},
    "tags": {"type": "array", "items": {"type": "string"}},
    "questions": {"type": "array", "items": {"type": "string"}},
    "actionable_insights": {"type": "array", "items": {"type": "string"}},
    "chapters": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title", "start_s", "end_s"],
        "properties": {
          "title": {"type": "string"},
          "start_s": {"type": "number"},
          "end_s": {"type": "number"},
          "description": {"type": "string"}
        }
      }
    },
    "themes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["theme"],
        "properties": {
          "theme": {"type": "string"},
          "frequency": {"type": "integer"},
          "key_moments": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "sentiment_timeline": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["timestamp_s", "sentiment"],
        "properties": {
          "timestamp_s": {"type": "number"},
          "sentiment": {"type": "string"},
          "intensity": {"type": "number"},
          "description": {"type": "string"}
        }
      }
    }
  },
  "definitions": {
    "timestamped": {
      "oneOf": [
        {"type": "string"},
        {
          "type": "object",
          "required": ["content"],
          "properties": {
            "content": {"type": "string"},
            "timestamp_s": {"type": ["number", "null"]}
          }
        }
      ]
    }
  }
}`

var compiledSchema = mustCompileSchema(notesSchemaDefinition)

func mustCompileSchema(def string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(def))
	if err != nil {
		panic(fmt.Errorf("compile notes schema: %w", err))
	}
	return schema
}

// Client is the NotesClient implementation.
type Client struct {
	cfg  config.NotesConfig
	http *http.Client
}

// New builds a Client from configuration.
func New(cfg config.NotesConfig) *Client {
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.RequestTimeout}}
}

const systemPrompt = `You produce structured notes for a video transcript. Respond with a single JSON object matching this shape: {"summary": string, "detailed_notes": string, "key_points": [string|{"content":string,"timestamp_s":number}], "takeaways": [...], "quotes": [...], "tags": [string], "questions": [string], "chapters": [{"title":string,"start_s":number,"end_s":number,"description":string}], "themes": [{"theme":string,"frequency":int,"key_moments":[string]}], "sentiment_timeline": [{"timestamp_s":number,"sentiment":string,"intensity":number,"description":string}], "actionable_insights": [string]}. Respond with JSON only, no prose.`

type chatRequest struct {
	Model           string        `json:"model"`
	Messages        []chatMessage `json:"messages"`
	ResponseFormat  responseFmt   `json:"response_format"`
	ReasoningEffort string        `json:"reasoning_effort,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFmt struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate produces a StructuredNotes document from the transcript. The
// transcript is presented with inline [start_s - end_s] markers before each
// segment so the model can attribute timestamps. Transient
// failures (timeouts, 429, 5xx) are retried with exponential backoff;
// malformed or schema-invalid responses are not.
func (c *Client) Generate(ctx context.Context, transcriptText string, segments []store.Segment) (*store.StructuredNotes, error) {
	userMessage := renderTimestampedTranscript(transcriptText, segments)

	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		ResponseFormat: responseFmt{Type: "json_object"},
	}
	if c.cfg.DisableReasoning {
		req.ReasoningEffort = "none"
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, apperr.NotesError(err, "build notes request")
	}

	var notes *store.StructuredNotes
	op := func() error {
		doc, err := c.doRequest(ctx, payload)
		if err != nil {
			return err
		}
		notes = doc
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 10 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx)); err != nil {
		return nil, err
	}
	return notes, nil
}

func (c *Client) doRequest(ctx context.Context, payload []byte) (*store.StructuredNotes, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(apperr.NotesError(err, "build notes request"))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, apperr.NotesError(err, "generate notes")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, apperr.NotesError(fmt.Errorf("status %d", resp.StatusCode), "generate notes")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(apperr.NotesError(fmt.Errorf("status %d", resp.StatusCode), "generate notes"))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, backoff.Permanent(apperr.NotesError(err, "parse notes response"))
	}
	if len(parsed.Choices) == 0 {
		return nil, backoff.Permanent(apperr.NotesError(fmt.Errorf("response carried no choices"), "generate notes"))
	}

	raw := []byte(parsed.Choices[0].Message.Content)
	result, err := compiledSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, backoff.Permanent(apperr.NotesError(err, "validate notes response"))
	}
	if !result.Valid() {
		return nil, backoff.Permanent(apperr.NotesError(fmt.Errorf("%v", result.Errors()), "notes response failed schema validation"))
	}

	var notes store.StructuredNotes
	if err := json.Unmarshal(raw, &notes); err != nil {
		return nil, backoff.Permanent(apperr.NotesError(err, "decode notes response"))
	}
	return &notes, nil
}

func renderTimestampedTranscript(text string, segments []store.Segment) string {
	if len(segments) == 0 {
		return text
	}
	var b strings.Builder
	for _, seg := range segments {
		fmt.Fprintf(&b, "[%.2f - %.2f] %s\n", seg.StartS, seg.EndS, seg.Text)
	}
	return b.String()
}
