// Package apifakes holds hand-written fakes of the API's collaborators
// for internal/api tests.
package apifakes

import (
	"context"
	"sync"
	"time"

	"videobrief/internal/apperr"
	"videobrief/internal/store"
)

// Store fakes api.Store.
type Store struct {
	mu sync.Mutex

	Videos         map[string]*store.Video
	Transcriptions map[string]*store.Transcription

	CreateErr    error
	MarkErr      error
	FailErr      error
	PatchFound   bool
	PatchErr     error
	DeleteFound  bool
	DeleteErr    error
}

func NewStore() *Store {
	return &Store{Videos: map[string]*store.Video{}, Transcriptions: map[string]*store.Transcription{}}
}

func (f *Store) CreateVideo(ctx context.Context, v *store.Video) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return f.CreateErr
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	f.Videos[v.ID] = v
	return nil
}

func (f *Store) GetVideo(ctx context.Context, ownerID, id string) (*store.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.Videos[id]
	if !ok || v.OwnerID != ownerID {
		return nil, notFound(id)
	}
	return v, nil
}

func (f *Store) ListVideos(ctx context.Context, ownerID string) ([]*store.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Video
	for _, v := range f.Videos {
		if v.OwnerID == ownerID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *Store) MarkUploaded(ctx context.Context, ownerID, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MarkErr != nil {
		return false, f.MarkErr
	}
	v, ok := f.Videos[id]
	if !ok || v.Status != store.VideoUploading {
		return false, nil
	}
	v.Status = store.VideoUploaded
	return true, nil
}

func (f *Store) FailUpload(ctx context.Context, ownerID, id, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailErr != nil {
		return false, f.FailErr
	}
	v, ok := f.Videos[id]
	if !ok {
		return false, nil
	}
	v.Status = store.VideoFailed
	v.ErrorMessage = reason
	return true, nil
}

func (f *Store) PatchVideo(ctx context.Context, ownerID, id string, title, collectionID *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PatchErr != nil {
		return false, f.PatchErr
	}
	v, ok := f.Videos[id]
	if !ok || v.OwnerID != ownerID {
		return false, nil
	}
	if title != nil {
		v.Title = *title
	}
	if collectionID != nil {
		v.CollectionID = collectionID
	}
	return true, nil
}

func (f *Store) DeleteVideo(ctx context.Context, ownerID, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return false, f.DeleteErr
	}
	v, ok := f.Videos[id]
	if !ok || v.OwnerID != ownerID {
		return false, nil
	}
	delete(f.Videos, id)
	return true, nil
}

func (f *Store) GetTranscription(ctx context.Context, ownerID, videoID string) (*store.Transcription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.Transcriptions[videoID]
	if !ok {
		return nil, notFound(videoID)
	}
	return t, nil
}

func notFound(id string) error {
	return apperr.NotFound("video %s not found", id)
}

// ObjectStore fakes api.ObjectStore.
type ObjectStore struct {
	mu sync.Mutex

	PutURL      string
	GetURL      string
	ExistsValue bool
	ExistsErr   error
	DeleteErr   error
	DeletedKeys []string
	PutLocalErr error
}

func (f *ObjectStore) IssuePut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return f.PutURL, nil
}

func (f *ObjectStore) IssueGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return f.GetURL, nil
}

func (f *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	return f.ExistsValue, f.ExistsErr
}

func (f *ObjectStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeletedKeys = append(f.DeletedKeys, key)
	return f.DeleteErr
}

func (f *ObjectStore) PutLocal(ctx context.Context, path, key, contentType string) (int64, error) {
	return 0, f.PutLocalErr
}

// Dispatcher fakes api.Dispatcher.
type Dispatcher struct {
	mu       sync.Mutex
	Enqueued []string
	Err      error
}

func (f *Dispatcher) Enqueue(ctx context.Context, ownerID, videoID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Enqueued = append(f.Enqueued, videoID)
	return f.Err
}
