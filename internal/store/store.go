// Package store is the relational store for Video and Transcription: a
// database/sql handle over modernc.org/sqlite. The methods the API uses
// take the owner id explicitly and fold it into the WHERE clause; the
// methods the job runner uses (GetVideoForProcessing,
// AcquireForProcessing, CompleteProcessing, FailProcessing,
// UpdateStorageKey, SetStreamReady, SetStreamFailed, UpsertTranscription,
// UpdateNotes) address a video by its bare id.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"

	"videobrief/internal/apperr"
	"videobrief/internal/config"
)

// Store wraps a *sql.DB opened against the configured DSN.
type Store struct {
	db *sql.DB
}

// Open opens the database and applies the schema if it is not present yet.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY storms

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS videos (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  source_type TEXT NOT NULL,
  source_filename TEXT,
  source_content_type TEXT,
  source_origin_url TEXT,
  storage_key TEXT NOT NULL,
  byte_size INTEGER NOT NULL DEFAULT 0,
  duration_s REAL,
  status TEXT NOT NULL,
  error_message TEXT,
  title TEXT NOT NULL,
  collection_id TEXT,
  stream_status TEXT NOT NULL DEFAULT 'none',
  stream_playlist_key TEXT,
  created_at DATETIME NOT NULL,
  uploaded_at DATETIME,
  processed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_videos_owner ON videos(owner_id, created_at DESC);

CREATE TABLE IF NOT EXISTS transcriptions (
  video_id TEXT PRIMARY KEY REFERENCES videos(id),
  transcript_text TEXT NOT NULL,
  transcript_segments TEXT NOT NULL,
  model_used TEXT NOT NULL,
  processing_duration_ms INTEGER NOT NULL,
  audio_size_bytes INTEGER NOT NULL,
  notes TEXT,
  notes_model_used TEXT,
  notes_duration_ms INTEGER,
  created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS collections (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  name TEXT NOT NULL,
  created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tags (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS video_tags (
  video_id TEXT NOT NULL REFERENCES videos(id),
  tag_id TEXT NOT NULL REFERENCES tags(id),
  PRIMARY KEY (video_id, tag_id)
);
`

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateVideo inserts a new Video row. Callers set Status=Uploading (upload
// flow) or Status=Uploaded (URL-ingest flow) before calling this.
func (s *Store) CreateVideo(ctx context.Context, v *Video) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO videos (
			id, owner_id, source_type, source_filename, source_content_type,
			source_origin_url, storage_key, byte_size, duration_s, status,
			error_message, title, collection_id, stream_status,
			stream_playlist_key, created_at, uploaded_at, processed_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		v.ID, v.OwnerID, string(v.Source), nullStr(v.SourceFilename), nullStr(v.SourceContentType),
		nullStr(v.SourceOriginURL), v.StorageKey, v.ByteSize, v.DurationS, string(v.Status),
		nullStr(v.ErrorMessage), v.Title, v.CollectionID, string(v.StreamStatus),
		nullStr(v.StreamPlaylistKey), v.CreatedAt, v.UploadedAt, v.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("insert video: %w", err)
	}
	return nil
}

const videoColumns = `id, owner_id, source_type, source_filename, source_content_type,
	source_origin_url, storage_key, byte_size, duration_s, status, error_message,
	title, collection_id, stream_status, stream_playlist_key, created_at, uploaded_at, processed_at`

func scanVideo(row interface{ Scan(...any) error }) (*Video, error) {
	var v Video
	var sourceFilename, sourceContentType, sourceOriginURL, errMsg, streamPlaylistKey sql.NullString
	var collectionID sql.NullString
	var durationS sql.NullFloat64
	var uploadedAt, processedAt sql.NullTime

	if err := row.Scan(
		&v.ID, &v.OwnerID, &v.Source, &sourceFilename, &sourceContentType,
		&sourceOriginURL, &v.StorageKey, &v.ByteSize, &durationS, &v.Status,
		&errMsg, &v.Title, &collectionID, &v.StreamStatus, &streamPlaylistKey,
		&v.CreatedAt, &uploadedAt, &processedAt,
	); err != nil {
		return nil, err
	}
	v.SourceFilename = sourceFilename.String
	v.SourceContentType = sourceContentType.String
	v.SourceOriginURL = sourceOriginURL.String
	v.ErrorMessage = errMsg.String
	v.StreamPlaylistKey = streamPlaylistKey.String
	if collectionID.Valid {
		v.CollectionID = &collectionID.String
	}
	if durationS.Valid {
		v.DurationS = &durationS.Float64
	}
	if uploadedAt.Valid {
		v.UploadedAt = &uploadedAt.Time
	}
	if processedAt.Valid {
		v.ProcessedAt = &processedAt.Time
	}
	return &v, nil
}

// GetVideo loads a Video, scoped to ownerID. Returns apperr NotFound if
// the row doesn't exist or belongs to a different owner. Callers must not
// distinguish the two cases in their response, or probes could reveal
// which ids exist.
func (s *Store) GetVideo(ctx context.Context, ownerID, id string) (*Video, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ? AND owner_id = ?`, id, ownerID)
	v, err := scanVideo(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("video %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}
	return v, nil
}

// GetVideoForProcessing loads a Video by id without an owner filter; only
// JobRunner, which receives a bare video id off the queue, uses this.
func (s *Store) GetVideoForProcessing(ctx context.Context, id string) (*Video, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	v, err := scanVideo(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("video %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get video for processing: %w", err)
	}
	return v, nil
}

// ListVideos returns an owner's videos, reverse-chronological.
func (s *Store) ListVideos(ctx context.Context, ownerID string) ([]*Video, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	var out []*Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// MarkUploaded transitions Uploading -> Uploaded, conditionally so two
// callers racing the same upload cannot both succeed. Returns false if
// the update affected no rows.
func (s *Store) MarkUploaded(ctx context.Context, ownerID, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE videos SET status = ?, uploaded_at = ?
		WHERE id = ? AND owner_id = ? AND status = ?`,
		string(VideoUploaded), time.Now().UTC(), id, ownerID, string(VideoUploading))
	if err != nil {
		return false, fmt.Errorf("mark uploaded: %w", err)
	}
	return affected(res)
}

// FailUpload transitions Uploading -> Failed (the orphaned-upload path).
func (s *Store) FailUpload(ctx context.Context, ownerID, id, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE videos SET status = ?, error_message = ?
		WHERE id = ? AND owner_id = ? AND status = ?`,
		string(VideoFailed), reason, id, ownerID, string(VideoUploading))
	if err != nil {
		return false, fmt.Errorf("fail upload: %w", err)
	}
	return affected(res)
}

// AcquireForProcessing is the job runner's opening conditional update: it
// only succeeds if the video is currently Uploaded or Failed, which is how
// two workers racing the same video id are kept from both proceeding.
func (s *Store) AcquireForProcessing(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE videos SET status = ?, error_message = NULL
		WHERE id = ? AND status IN (?, ?)`,
		string(VideoProcessing), id, string(VideoUploaded), string(VideoFailed))
	if err != nil {
		return false, fmt.Errorf("acquire for processing: %w", err)
	}
	return affected(res)
}

// CompleteProcessing transitions Processing -> Completed and stamps
// processed_at/duration_s.
func (s *Store) CompleteProcessing(ctx context.Context, id string, durationS *float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE videos SET status = ?, processed_at = ?, duration_s = COALESCE(duration_s, ?)
		WHERE id = ?`,
		string(VideoCompleted), time.Now().UTC(), durationS, id)
	if err != nil {
		return fmt.Errorf("complete processing: %w", err)
	}
	return nil
}

// FailProcessing transitions Processing -> Failed with a human-readable
// cause.
func (s *Store) FailProcessing(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE videos SET status = ?, error_message = ? WHERE id = ?`,
		string(VideoFailed), reason, id)
	if err != nil {
		return fmt.Errorf("fail processing: %w", err)
	}
	return nil
}

// SetStreamReady records a generated streamable artifact's key.
func (s *Store) SetStreamReady(ctx context.Context, id, playlistKey string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE videos SET stream_status = ?, stream_playlist_key = ? WHERE id = ?`,
		string(StreamReady), playlistKey, id)
	return err
}

// SetStreamFailed records that the streamable artifact could not be produced.
func (s *Store) SetStreamFailed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE videos SET stream_status = ? WHERE id = ?`, string(StreamFailed), id)
	return err
}

// UpdateStorageKey rewrites the storage key after the compressed artifact
// replaces the pre-compression upload.
func (s *Store) UpdateStorageKey(ctx context.Context, id, key string, byteSize int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE videos SET storage_key = ?, byte_size = ? WHERE id = ?`, key, byteSize, id)
	return err
}

// PatchVideo updates the limited editable fields (title, collection),
// scoped to the owner.
func (s *Store) PatchVideo(ctx context.Context, ownerID, id string, title, collectionID *string) (bool, error) {
	if title == nil && collectionID == nil {
		return true, nil
	}
	if title != nil {
		res, err := s.db.ExecContext(ctx, `UPDATE videos SET title = ? WHERE id = ? AND owner_id = ?`, *title, id, ownerID)
		if err != nil {
			return false, fmt.Errorf("patch title: %w", err)
		}
		if ok, err := affected(res); err != nil || !ok {
			return ok, err
		}
	}
	if collectionID != nil {
		res, err := s.db.ExecContext(ctx, `UPDATE videos SET collection_id = ? WHERE id = ? AND owner_id = ?`, *collectionID, id, ownerID)
		if err != nil {
			return false, fmt.Errorf("patch collection: %w", err)
		}
		return affected(res)
	}
	return true, nil
}

// DeleteVideo removes the Video and its Transcription row, scoped to the
// owner. Storage object deletion is the caller's responsibility
// (ObjectStoreGateway.Delete), since the store knows nothing of the backend.
func (s *Store) DeleteVideo(ctx context.Context, ownerID, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Child rows go first so the foreign keys to videos(id) still hold; if
	// the owner-scoped video delete then matches nothing, the deferred
	// Rollback restores them.
	if _, err := tx.ExecContext(ctx, `DELETE FROM transcriptions WHERE video_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete transcription: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM video_tags WHERE video_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete video tags: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM videos WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete video: %w", err)
	}
	ok, err := affected(res)
	if err != nil || !ok {
		return ok, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// UpsertTranscription writes or atomically replaces the Transcription row
// for a video, clearing any notes left over from a prior run.
func (s *Store) UpsertTranscription(ctx context.Context, t *Transcription) error {
	segJSON, err := json.Marshal(t.TranscriptSegments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transcriptions (
			video_id, transcript_text, transcript_segments, model_used,
			processing_duration_ms, audio_size_bytes, notes, notes_model_used,
			notes_duration_ms, created_at
		) VALUES (?,?,?,?,?,?,NULL,NULL,NULL,?)
		ON CONFLICT(video_id) DO UPDATE SET
			transcript_text = excluded.transcript_text,
			transcript_segments = excluded.transcript_segments,
			model_used = excluded.model_used,
			processing_duration_ms = excluded.processing_duration_ms,
			audio_size_bytes = excluded.audio_size_bytes,
			notes = NULL, notes_model_used = NULL, notes_duration_ms = NULL,
			created_at = excluded.created_at`,
		t.VideoID, t.TranscriptText, string(segJSON), t.ModelUsed,
		t.ProcessingDurationMS, t.AudioSizeBytes, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert transcription: %w", err)
	}
	return nil
}

// UpdateNotes attaches the structured-notes document after generation
// succeeds; note-generation failures simply never call this.
func (s *Store) UpdateNotes(ctx context.Context, videoID string, notes *StructuredNotes, modelUsed string, durationMS int64) error {
	notesJSON, err := json.Marshal(notes)
	if err != nil {
		return fmt.Errorf("marshal notes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE transcriptions SET notes = ?, notes_model_used = ?, notes_duration_ms = ? WHERE video_id = ?`,
		string(notesJSON), modelUsed, durationMS, videoID)
	if err != nil {
		return fmt.Errorf("update notes: %w", err)
	}
	return nil
}

// GetTranscription loads the Transcription for a video, scoped to the
// owner via a join against videos.
func (s *Store) GetTranscription(ctx context.Context, ownerID, videoID string) (*Transcription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT t.video_id, t.transcript_text, t.transcript_segments, t.model_used,
		       t.processing_duration_ms, t.audio_size_bytes, t.notes,
		       t.notes_model_used, t.notes_duration_ms, t.created_at
		FROM transcriptions t
		JOIN videos v ON v.id = t.video_id
		WHERE t.video_id = ? AND v.owner_id = ?`, videoID, ownerID)

	var t Transcription
	var segJSON string
	var notesJSON, notesModelUsed sql.NullString
	var notesDurationMS sql.NullInt64

	if err := row.Scan(
		&t.VideoID, &t.TranscriptText, &segJSON, &t.ModelUsed,
		&t.ProcessingDurationMS, &t.AudioSizeBytes, &notesJSON,
		&notesModelUsed, &notesDurationMS, &t.CreatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("transcription for video %s not found", videoID)
		}
		return nil, fmt.Errorf("get transcription: %w", err)
	}

	if err := json.Unmarshal([]byte(segJSON), &t.TranscriptSegments); err != nil {
		return nil, fmt.Errorf("unmarshal segments: %w", err)
	}
	if notesJSON.Valid {
		var notes StructuredNotes
		if err := json.Unmarshal([]byte(notesJSON.String), &notes); err != nil {
			return nil, fmt.Errorf("unmarshal notes: %w", err)
		}
		t.Notes = &notes
	}
	t.NotesModelUsed = notesModelUsed.String
	t.NotesDurationMS = notesDurationMS.Int64
	return &t, nil
}

// CreateCollection inserts an owner-scoped Collection.
func (s *Store) CreateCollection(ctx context.Context, c *Collection) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO collections (id, owner_id, name, created_at) VALUES (?,?,?,?)`,
		c.ID, c.OwnerID, c.Name, c.CreatedAt)
	return err
}

// ListCollections returns an owner's collections.
func (s *Store) ListCollections(ctx context.Context, ownerID string) ([]*Collection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, owner_id, name, created_at FROM collections WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Collection
	for rows.Next() {
		var c Collection
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// CreateTag inserts an owner-scoped Tag.
func (s *Store) CreateTag(ctx context.Context, t *Tag) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO tags (id, owner_id, name) VALUES (?,?,?)`, t.ID, t.OwnerID, t.Name)
	return err
}

// ListTags returns an owner's tags.
func (s *Store) ListTags(ctx context.Context, ownerID string) ([]*Tag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, owner_id, name FROM tags WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Name); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// AttachTag links a tag to a video, scoped to the owner of both rows.
func (s *Store) AttachTag(ctx context.Context, ownerID, videoID, tagID string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM videos v, tags t
		WHERE v.id = ? AND v.owner_id = ? AND t.id = ? AND t.owner_id = ?`,
		videoID, ownerID, tagID, ownerID).Scan(&exists)
	if err == sql.ErrNoRows {
		return apperr.NotFound("video or tag not found")
	}
	if err != nil {
		return fmt.Errorf("check ownership: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR IGNORE INTO video_tags (video_id, tag_id) VALUES (?,?)`, videoID, tagID)
	return err
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
