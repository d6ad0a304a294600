package store

import (
	"encoding/json"
	"time"
)

// VideoStatus is the lifecycle state of a Video row.
type VideoStatus string

const (
	VideoUploading  VideoStatus = "uploading"
	VideoUploaded   VideoStatus = "uploaded"
	VideoProcessing VideoStatus = "processing"
	VideoCompleted  VideoStatus = "completed"
	VideoFailed     VideoStatus = "failed"
)

// StreamStatus is the playback-readiness of a Video's streamable artifact.
type StreamStatus string

const (
	StreamNone   StreamStatus = "none"
	StreamReady  StreamStatus = "ready"
	StreamFailed StreamStatus = "failed"
)

// SourceType distinguishes the two ingest paths.
type SourceType string

const (
	SourceUpload SourceType = "upload"
	SourceURL    SourceType = "url"
)

// Video is the root entity of the pipeline.
type Video struct {
	ID      string     `json:"id"`
	OwnerID string     `json:"owner_id"`
	Source  SourceType `json:"source_type"`

	SourceFilename    string `json:"source_filename,omitempty"`
	SourceContentType string `json:"source_content_type,omitempty"`
	SourceOriginURL   string `json:"source_origin_url,omitempty"`

	StorageKey string   `json:"-"`
	ByteSize   int64    `json:"byte_size"`
	DurationS  *float64 `json:"duration_s,omitempty"`

	Status       VideoStatus `json:"status"`
	ErrorMessage string      `json:"error_message,omitempty"`

	Title        string  `json:"title"`
	CollectionID *string `json:"collection_id,omitempty"`

	StreamStatus      StreamStatus `json:"stream_status"`
	StreamPlaylistKey string       `json:"-"`

	CreatedAt   time.Time  `json:"created_at"`
	UploadedAt  *time.Time `json:"uploaded_at,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// TimestampedItem is the tagged-variant replacement for the source's
// dynamically-typed notes entries: either a bare string (legacy) or an
// object carrying an optional timestamp.
type TimestampedItem struct {
	Content    string
	TimestampS *float64
}

// MarshalJSON always emits the object form.
func (t TimestampedItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Content    string   `json:"content"`
		TimestampS *float64 `json:"timestamp_s"`
	}{Content: t.Content, TimestampS: t.TimestampS})
}

// UnmarshalJSON accepts either a bare JSON string or the object form, so
// legacy documents written before the timestamped-item redesign still
// decode cleanly.
func (t *TimestampedItem) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		t.Content = plain
		t.TimestampS = nil
		return nil
	}

	var obj struct {
		Content    string   `json:"content"`
		TimestampS *float64 `json:"timestamp_s"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	t.Content = obj.Content
	t.TimestampS = obj.TimestampS
	return nil
}

// Segment is a single timestamped span of transcribed text.
type Segment struct {
	StartS float64 `json:"start_s"`
	EndS   float64 `json:"end_s"`
	Text   string  `json:"text"`
}

// Chapter is a structured-notes chapter boundary.
type Chapter struct {
	Title       string  `json:"title"`
	StartS      float64 `json:"start_s"`
	EndS        float64 `json:"end_s"`
	Description string  `json:"description,omitempty"`
}

// Theme is an optional analytical grouping over the transcript.
type Theme struct {
	Theme       string   `json:"theme"`
	Frequency   int      `json:"frequency"`
	KeyMoments  []string `json:"key_moments,omitempty"`
}

// SentimentPoint is one entry of the optional sentiment timeline.
type SentimentPoint struct {
	TimestampS  float64 `json:"timestamp_s"`
	Sentiment   string  `json:"sentiment"`
	Intensity   float64 `json:"intensity"`
	Description string  `json:"description"`
}

// StructuredNotes is the document produced by NotesClient and stored
// inside Transcription.
type StructuredNotes struct {
	Summary            string            `json:"summary"`
	KeyPoints          []TimestampedItem `json:"key_points"`
	DetailedNotes      string            `json:"detailed_notes"`
	Takeaways          []TimestampedItem `json:"takeaways"`
	Quotes             []TimestampedItem `json:"quotes"`
	Tags               []string          `json:"tags"`
	Questions          []string          `json:"questions,omitempty"`
	Chapters           []Chapter         `json:"chapters"`
	Themes             []Theme           `json:"themes,omitempty"`
	SentimentTimeline  []SentimentPoint  `json:"sentiment_timeline,omitempty"`
	ActionableInsights []string          `json:"actionable_insights,omitempty"`
}

// Transcription is one-to-one with a completed Video.
type Transcription struct {
	VideoID              string           `json:"video_id"`
	TranscriptText       string           `json:"transcript_text"`
	TranscriptSegments   []Segment        `json:"transcript_segments"`
	ModelUsed            string           `json:"model_used"`
	ProcessingDurationMS int64            `json:"processing_duration_ms"`
	AudioSizeBytes       int64            `json:"audio_size_bytes"`
	Notes                *StructuredNotes `json:"notes,omitempty"`
	NotesModelUsed       string           `json:"notes_model_used,omitempty"`
	NotesDurationMS      int64            `json:"notes_duration_ms,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
}

// Collection is an owner-scoped named grouping.
type Collection struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Tag is an owner-scoped label, many-to-many with Video.
type Tag struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Name    string `json:"name"`
}
