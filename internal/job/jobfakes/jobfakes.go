// Package jobfakes holds hand-written fakes of the Runner's collaborators
// for internal/job tests.
package jobfakes

import (
	"context"
	"sync"

	"videobrief/internal/config"
	"videobrief/internal/media"
	"videobrief/internal/store"
	"videobrief/internal/transcription"
)

// Store fakes job.Store.
type Store struct {
	mu sync.Mutex

	Video              *store.Video
	AcquireOK          bool
	AcquireErr         error
	CompleteErr        error
	FailErr            error
	UpdateStorageErr   error
	UpsertErr          error
	UpdateNotesErr     error
	SetStreamReadyErr  error
	SetStreamFailedErr error

	CompletedDurationS *float64
	FailReason         string
	UpdatedStorageKey  string
	Transcription      *store.Transcription
	Notes              *store.StructuredNotes
	NotesModelUsed     string
	StreamReadyCalled  bool
	StreamFailedCalled bool
}

func (f *Store) GetVideoForProcessing(ctx context.Context, id string) (*store.Video, error) {
	return f.Video, nil
}

func (f *Store) AcquireForProcessing(ctx context.Context, id string) (bool, error) {
	return f.AcquireOK, f.AcquireErr
}

func (f *Store) CompleteProcessing(ctx context.Context, id string, durationS *float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CompletedDurationS = durationS
	return f.CompleteErr
}

func (f *Store) FailProcessing(ctx context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailReason = reason
	return f.FailErr
}

func (f *Store) UpdateStorageKey(ctx context.Context, id, key string, byteSize int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpdatedStorageKey = key
	return f.UpdateStorageErr
}

func (f *Store) UpsertTranscription(ctx context.Context, t *store.Transcription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Transcription = t
	return f.UpsertErr
}

func (f *Store) UpdateNotes(ctx context.Context, videoID string, notes *store.StructuredNotes, modelUsed string, durationMS int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Notes = notes
	f.NotesModelUsed = modelUsed
	return f.UpdateNotesErr
}

func (f *Store) SetStreamReady(ctx context.Context, id, playlistKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StreamReadyCalled = true
	return f.SetStreamReadyErr
}

func (f *Store) SetStreamFailed(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StreamFailedCalled = true
	return f.SetStreamFailedErr
}

// ObjectStore fakes job.ObjectStore.
type ObjectStore struct {
	LocalPath    string
	GetErr       error
	PutBytes     int64
	PutErr       error
	DeleteErr    error
	DeletedKeys  []string
	PutKeys      []string
}

func (f *ObjectStore) GetToLocal(ctx context.Context, key, tmpDir string) (string, error) {
	return f.LocalPath, f.GetErr
}

func (f *ObjectStore) PutLocal(ctx context.Context, path, key, contentType string) (int64, error) {
	f.PutKeys = append(f.PutKeys, key)
	return f.PutBytes, f.PutErr
}

func (f *ObjectStore) Delete(ctx context.Context, key string) error {
	f.DeletedKeys = append(f.DeletedKeys, key)
	return f.DeleteErr
}

// MediaProcessor fakes job.MediaProcessor.
type MediaProcessor struct {
	ProbeResult media.ProbeResult
	ProbeErr    error

	CompressOutPath  string
	CompressBytes    int64
	CompressSkipped  bool
	CompressErr      error

	AudioPath string
	AudioErr  error

	Chunks    []media.Chunk
	ChunkErr  error
}

func (f *MediaProcessor) Probe(ctx context.Context, path string) (media.ProbeResult, error) {
	return f.ProbeResult, f.ProbeErr
}

func (f *MediaProcessor) Compress(ctx context.Context, inPath string, cfg config.CompressionConfig) (string, int64, bool, error) {
	return f.CompressOutPath, f.CompressBytes, f.CompressSkipped, f.CompressErr
}

func (f *MediaProcessor) ExtractAudio(ctx context.Context, path string) (string, int64, error) {
	return f.AudioPath, 0, f.AudioErr
}

func (f *MediaProcessor) ChunkAudio(ctx context.Context, path string, maxChunkBytes int64) ([]media.Chunk, error) {
	return f.Chunks, f.ChunkErr
}

// TranscriptionEngine fakes job.TranscriptionEngine.
type TranscriptionEngine struct {
	Result transcription.Result
	Err    error
}

func (f *TranscriptionEngine) Transcribe(ctx context.Context, chunks []media.Chunk) (transcription.Result, error) {
	return f.Result, f.Err
}

// NotesClient fakes job.NotesClient.
type NotesClient struct {
	Notes *store.StructuredNotes
	Err   error
}

func (f *NotesClient) Generate(ctx context.Context, transcriptText string, segments []store.Segment) (*store.StructuredNotes, error) {
	return f.Notes, f.Err
}
