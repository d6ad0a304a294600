package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videobrief/internal/api/apifakes"
	"videobrief/internal/config"
	"videobrief/internal/store"
)

func testServer(t *testing.T) (*gin.Engine, *apifakes.Store, *apifakes.ObjectStore, *apifakes.Dispatcher) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := apifakes.NewStore()
	objects := &apifakes.ObjectStore{PutURL: "https://upload.example/put", GetURL: "https://read.example/get"}
	dispatcher := &apifakes.Dispatcher{}

	cfg := &config.Config{
		MaxUploadBytes:    100 * 1024 * 1024,
		AllowedExtensions: []string{"mp4", "mov"},
		PresignedURLTTL:   time.Hour,
	}
	keyFor := func(ownerID, videoID, suffix string) string { return "videos/" + ownerID + "/" + videoID + suffix }

	srv := New(st, objects, dispatcher, keyFor, cfg)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("owner_id", "owner-1")
		c.Next()
	})
	srv.RegisterRoutes(r, func(c *gin.Context) { c.Next() })
	return r, st, objects, dispatcher
}

func TestPresignedUploadRejectsDisallowedExtension(t *testing.T) {
	r, _, _, _ := testServer(t)
	body, _ := json.Marshal(presignedUploadRequest{Filename: "clip.exe", FileSize: 100, ContentType: "application/octet-stream"})
	req := httptest.NewRequest(http.MethodPost, "/api/videos/upload/presigned", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPresignedUploadCreatesUploadingVideo(t *testing.T) {
	r, st, _, _ := testServer(t)
	body, _ := json.Marshal(presignedUploadRequest{Filename: "clip.mp4", FileSize: 1024, ContentType: "video/mp4"})
	req := httptest.NewRequest(http.MethodPost, "/api/videos/upload/presigned", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	videoID := resp["video_id"].(string)
	require.Contains(t, st.Videos, videoID)
	assert.Equal(t, store.VideoUploading, st.Videos[videoID].Status)
}

func TestUploadCompleteEnqueuesWhenObjectExists(t *testing.T) {
	r, st, objects, dispatcher := testServer(t)
	video := &store.Video{ID: "vid-1", OwnerID: "owner-1", StorageKey: "videos/owner-1/vid-1.mp4", Status: store.VideoUploading}
	st.Videos[video.ID] = video
	objects.ExistsValue = true

	req := httptest.NewRequest(http.MethodPost, "/api/videos/vid-1/upload/complete", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, store.VideoUploaded, st.Videos["vid-1"].Status)
	assert.Equal(t, []string{"vid-1"}, dispatcher.Enqueued)
}

// staleReadStore wraps apifakes.Store but always reports the video as
// Uploading from GetVideo, mimicking two requests that both read the row
// before either has written it. MarkUploaded still delegates to the real
// conditional-update fake, which only flips the row once. This isolates
// the test to the handler's handling of MarkUploaded's bool result rather
// than the earlier status read.
type staleReadStore struct {
	*apifakes.Store
}

func (s staleReadStore) GetVideo(ctx context.Context, ownerID, id string) (*store.Video, error) {
	v, err := s.Store.GetVideo(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	stale := *v
	stale.Status = store.VideoUploading
	return &stale, nil
}

func TestUploadCompleteIsNotDoubleEnqueuedOnRace(t *testing.T) {
	_, st, objects, dispatcher := testServer(t)
	video := &store.Video{ID: "vid-1", OwnerID: "owner-1", StorageKey: "videos/owner-1/vid-1.mp4", Status: store.VideoUploading}
	st.Videos[video.ID] = video
	objects.ExistsValue = true

	srv := New(staleReadStore{st}, objects, dispatcher, func(ownerID, videoID, suffix string) string {
		return "videos/" + ownerID + "/" + videoID + suffix
	}, &config.Config{MaxUploadBytes: 100 * 1024 * 1024, AllowedExtensions: []string{"mp4"}, PresignedURLTTL: time.Hour})
	raceRouter := gin.New()
	raceRouter.Use(func(c *gin.Context) { c.Set("owner_id", "owner-1"); c.Next() })
	srv.RegisterRoutes(raceRouter, func(c *gin.Context) { c.Next() })

	req1 := httptest.NewRequest(http.MethodPost, "/api/videos/vid-1/upload/complete", nil)
	w1 := httptest.NewRecorder()
	raceRouter.ServeHTTP(w1, req1)
	require.Equal(t, http.StatusOK, w1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/api/videos/vid-1/upload/complete", nil)
	w2 := httptest.NewRecorder()
	raceRouter.ServeHTTP(w2, req2)

	assert.Equal(t, http.StatusConflict, w2.Code)
	assert.Equal(t, []string{"vid-1"}, dispatcher.Enqueued)
}

func TestUploadCompleteFailsWhenObjectMissing(t *testing.T) {
	r, st, objects, dispatcher := testServer(t)
	video := &store.Video{ID: "vid-1", OwnerID: "owner-1", StorageKey: "videos/owner-1/vid-1.mp4", Status: store.VideoUploading}
	st.Videos[video.ID] = video
	objects.ExistsValue = false

	req := httptest.NewRequest(http.MethodPost, "/api/videos/vid-1/upload/complete", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, store.VideoFailed, st.Videos["vid-1"].Status)
	assert.Empty(t, dispatcher.Enqueued)
}

func TestGetStatusNotFoundForUnknownVideo(t *testing.T) {
	r, _, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/videos/missing/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetStreamReportsGeneratingBeforeReady(t *testing.T) {
	r, st, _, _ := testServer(t)
	st.Videos["vid-1"] = &store.Video{ID: "vid-1", OwnerID: "owner-1", StreamStatus: store.StreamNone}

	req := httptest.NewRequest(http.MethodGet, "/api/videos/vid-1/stream", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "generating", resp["status"])
}

func TestDeleteVideoRemovesStorageAndRow(t *testing.T) {
	r, st, objects, _ := testServer(t)
	st.Videos["vid-1"] = &store.Video{ID: "vid-1", OwnerID: "owner-1", StorageKey: "videos/owner-1/vid-1.mp4"}

	req := httptest.NewRequest(http.MethodDelete, "/api/videos/vid-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, st.Videos, "vid-1")
	assert.Equal(t, []string{"videos/owner-1/vid-1.mp4"}, objects.DeletedKeys)
}
