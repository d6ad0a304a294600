// Package api is the gin HTTP surface for uploading, ingesting, listing,
// and reading back videos and their transcripts.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"videobrief/internal/apperr"
	"videobrief/internal/config"
	"videobrief/internal/store"
)

// Store is the subset of *store.Store the API depends on.
type Store interface {
	CreateVideo(ctx context.Context, v *store.Video) error
	GetVideo(ctx context.Context, ownerID, id string) (*store.Video, error)
	ListVideos(ctx context.Context, ownerID string) ([]*store.Video, error)
	MarkUploaded(ctx context.Context, ownerID, id string) (bool, error)
	FailUpload(ctx context.Context, ownerID, id, reason string) (bool, error)
	PatchVideo(ctx context.Context, ownerID, id string, title, collectionID *string) (bool, error)
	DeleteVideo(ctx context.Context, ownerID, id string) (bool, error)
	GetTranscription(ctx context.Context, ownerID, videoID string) (*store.Transcription, error)
}

// ObjectStore is the subset of *objectstore.Gateway the API depends on.
type ObjectStore interface {
	IssuePut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	IssueGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	PutLocal(ctx context.Context, path, key, contentType string) (int64, error)
}

// Dispatcher is the subset of *dispatch.Dispatcher the API depends on.
type Dispatcher interface {
	Enqueue(ctx context.Context, ownerID, videoID string) error
}

// KeyFunc builds an owner-prefixed object key; production wires
// objectstore.Key.
type KeyFunc func(ownerID, videoID, suffix string) string

// Server holds the collaborators every handler needs.
type Server struct {
	store      Store
	objects    ObjectStore
	dispatcher Dispatcher
	keyFor     KeyFunc
	cfg        *config.Config
}

// New builds a Server.
func New(st Store, objects ObjectStore, dispatcher Dispatcher, keyFor KeyFunc, cfg *config.Config) *Server {
	return &Server{store: st, objects: objects, dispatcher: dispatcher, keyFor: keyFor, cfg: cfg}
}

// RegisterRoutes wires every endpoint onto r under /api. The /videos
// endpoints run behind authMiddleware; /api/health does not.
func (s *Server) RegisterRoutes(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	apiGroup := r.Group("/api")
	apiGroup.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "videobrief"})
	})

	videos := apiGroup.Group("/videos")
	videos.Use(authMiddleware)
	{
		videos.POST("/upload/presigned", s.handlePresignedUpload)
		videos.POST("/:id/upload/complete", s.handleUploadComplete)
		videos.POST("/youtube", s.handleIngestURL)
		videos.GET("", s.handleListVideos)
		videos.GET("/:id/status", s.handleGetStatus)
		videos.GET("/:id/transcription", s.handleGetTranscription)
		videos.GET("/:id/stream", s.handleGetStream)
		videos.PATCH("/:id", s.handlePatchVideo)
		videos.DELETE("/:id", s.handleDeleteVideo)
	}
}

func ownerID(c *gin.Context) (string, bool) {
	v, exists := c.Get("owner_id")
	if !exists {
		apperr.WriteHTTP(c, apperr.Unauthorized("missing authenticated subject"))
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		apperr.WriteHTTP(c, apperr.Unauthorized("missing authenticated subject"))
		return "", false
	}
	return s, true
}

func allowedExtension(filename string, allowed []string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	for _, a := range allowed {
		if ext == a {
			return true
		}
	}
	return false
}

type presignedUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	FileSize    int64  `json:"file_size" binding:"required"`
	ContentType string `json:"content_type"`
}

// handlePresignedUpload implements POST /videos/upload/presigned.
func (s *Server) handlePresignedUpload(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	var req presignedUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.WriteHTTP(c, apperr.InvalidInput(err, "invalid upload request"))
		return
	}
	if !allowedExtension(req.Filename, s.cfg.AllowedExtensions) {
		apperr.WriteHTTP(c, apperr.InvalidInput(nil, "file extension not allowed"))
		return
	}
	if req.FileSize <= 0 || req.FileSize > s.cfg.MaxUploadBytes {
		apperr.WriteHTTP(c, apperr.InvalidInput(nil, "file size exceeds maximum"))
		return
	}

	videoID := uuid.New().String()
	key := s.keyFor(owner, videoID, filepath.Ext(req.Filename))

	video := &store.Video{
		ID:                videoID,
		OwnerID:           owner,
		Source:            store.SourceUpload,
		SourceFilename:    req.Filename,
		SourceContentType: req.ContentType,
		StorageKey:        key,
		ByteSize:          req.FileSize,
		Status:            store.VideoUploading,
		Title:             req.Filename,
	}
	if err := s.store.CreateVideo(c.Request.Context(), video); err != nil {
		apperr.WriteHTTP(c, fmt.Errorf("create video: %w", err))
		return
	}

	uploadURL, err := s.objects.IssuePut(c.Request.Context(), key, req.ContentType, s.cfg.PresignedURLTTL)
	if err != nil {
		apperr.WriteHTTP(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"video_id":    videoID,
		"upload_url":  uploadURL,
		"object_key":  key,
		"expires_in":  int(s.cfg.PresignedURLTTL.Seconds()),
		"status_url":  "/api/videos/" + videoID + "/status",
	})
}

// handleUploadComplete implements POST /videos/{id}/upload/complete.
func (s *Server) handleUploadComplete(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id := c.Param("id")

	video, err := s.store.GetVideo(c.Request.Context(), owner, id)
	if err != nil {
		apperr.WriteHTTP(c, err)
		return
	}
	if video.Status != store.VideoUploading {
		apperr.WriteHTTP(c, apperr.Conflict("upload already completed or never started"))
		return
	}

	exists, err := s.objects.Exists(c.Request.Context(), video.StorageKey)
	if err != nil {
		apperr.WriteHTTP(c, err)
		return
	}
	if !exists {
		if _, err := s.store.FailUpload(c.Request.Context(), owner, id, "uploaded object not found"); err != nil {
			apperr.WriteHTTP(c, fmt.Errorf("fail upload: %w", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"video_id": id, "status": string(store.VideoFailed)})
		return
	}

	marked, err := s.store.MarkUploaded(c.Request.Context(), owner, id)
	if err != nil {
		apperr.WriteHTTP(c, fmt.Errorf("mark uploaded: %w", err))
		return
	}
	if !marked {
		apperr.WriteHTTP(c, apperr.Conflict("upload already completed or never started"))
		return
	}
	if err := s.dispatcher.Enqueue(c.Request.Context(), owner, id); err != nil {
		apperr.WriteHTTP(c, fmt.Errorf("enqueue job: %w", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"video_id": id, "status": string(store.VideoUploaded)})
}

type ingestURLRequest struct {
	URL string `json:"url" binding:"required"`
}

// handleIngestURL implements POST /videos/youtube: it downloads the
// source inline, uploads it under an owner-scoped key, and enqueues
// processing. Fetching inline means the job runner never needs to know
// about URL sources; by the time the pipeline starts, the storage key
// points at a plain media object either way.
func (s *Server) handleIngestURL(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	var req ingestURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.WriteHTTP(c, apperr.InvalidInput(err, "invalid URL ingest request"))
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		apperr.WriteHTTP(c, apperr.InvalidInput(nil, "url must be http(s)"))
		return
	}

	videoID := uuid.New().String()
	localPath, byteSize, err := fetchURLToTemp(c.Request.Context(), req.URL)
	if err != nil {
		apperr.WriteHTTP(c, apperr.StorageUnavailable(err, "fetch source url"))
		return
	}
	defer os.Remove(localPath)

	key := s.keyFor(owner, videoID, filepath.Ext(req.URL))
	if _, err := s.objects.PutLocal(c.Request.Context(), localPath, key, ""); err != nil {
		apperr.WriteHTTP(c, err)
		return
	}

	video := &store.Video{
		ID:              videoID,
		OwnerID:         owner,
		Source:          store.SourceURL,
		SourceOriginURL: req.URL,
		StorageKey:      key,
		ByteSize:        byteSize,
		Status:          store.VideoUploaded,
		Title:           req.URL,
		UploadedAt:      timePtr(time.Now().UTC()),
	}
	if err := s.store.CreateVideo(c.Request.Context(), video); err != nil {
		apperr.WriteHTTP(c, fmt.Errorf("create video: %w", err))
		return
	}
	if err := s.dispatcher.Enqueue(c.Request.Context(), owner, videoID); err != nil {
		apperr.WriteHTTP(c, fmt.Errorf("enqueue job: %w", err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"video_id":   videoID,
		"status":     string(store.VideoUploaded),
		"status_url": "/api/videos/" + videoID + "/status",
	})
}

func fetchURLToTemp(ctx context.Context, url string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "videobrief-ingest-*")
	if err != nil {
		return "", 0, err
	}
	defer tmp.Close()

	written, err := io.Copy(tmp, resp.Body)
	if err != nil {
		return "", 0, err
	}
	return tmp.Name(), written, nil
}

func timePtr(t time.Time) *time.Time { return &t }

// handleListVideos implements GET /videos.
func (s *Server) handleListVideos(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	videos, err := s.store.ListVideos(c.Request.Context(), owner)
	if err != nil {
		apperr.WriteHTTP(c, fmt.Errorf("list videos: %w", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"videos": videos})
}

// handleGetStatus implements GET /videos/{id}/status.
func (s *Server) handleGetStatus(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	video, err := s.store.GetVideo(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		apperr.WriteHTTP(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        video.Status,
		"uploaded_at":   video.UploadedAt,
		"duration_s":    video.DurationS,
		"title":         video.Title,
		"error_message": video.ErrorMessage,
	})
}

// handleGetTranscription implements GET /videos/{id}/transcription.
func (s *Server) handleGetTranscription(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id := c.Param("id")

	video, err := s.store.GetVideo(c.Request.Context(), owner, id)
	if err != nil {
		apperr.WriteHTTP(c, err)
		return
	}
	if video.Status != store.VideoCompleted {
		apperr.WriteHTTP(c, apperr.NotFound("video %s has no completed transcription", id))
		return
	}

	transcript, err := s.store.GetTranscription(c.Request.Context(), owner, id)
	if err != nil {
		apperr.WriteHTTP(c, err)
		return
	}
	c.JSON(http.StatusOK, transcript)
}

// handleGetStream implements GET /videos/{id}/stream, returning the
// playback descriptor.
func (s *Server) handleGetStream(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	video, err := s.store.GetVideo(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		apperr.WriteHTTP(c, err)
		return
	}

	switch video.StreamStatus {
	case store.StreamReady:
		url, err := s.objects.IssueGet(c.Request.Context(), video.StorageKey, s.cfg.PresignedURLTTL)
		if err != nil {
			apperr.WriteHTTP(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":       "ready",
			"source_type":  video.Source,
			"playback_url": url,
		})
	case store.StreamFailed:
		c.JSON(http.StatusOK, gin.H{"status": "failed", "source_type": video.Source})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "generating", "source_type": video.Source, "retry_after": 5})
	}
}

type patchVideoRequest struct {
	Title        *string `json:"title"`
	CollectionID *string `json:"collection_id"`
}

// handlePatchVideo implements PATCH /videos/{id}.
func (s *Server) handlePatchVideo(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	var req patchVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.WriteHTTP(c, apperr.InvalidInput(err, "invalid patch request"))
		return
	}

	found, err := s.store.PatchVideo(c.Request.Context(), owner, c.Param("id"), req.Title, req.CollectionID)
	if err != nil {
		apperr.WriteHTTP(c, fmt.Errorf("patch video: %w", err))
		return
	}
	if !found {
		apperr.WriteHTTP(c, apperr.NotFound("video %s not found", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, gin.H{"video_id": c.Param("id")})
}

// handleDeleteVideo implements DELETE /videos/{id}: removes the storage
// object before the DB rows, so a failed object delete leaves the row in
// place rather than leaving bytes that no row points at.
func (s *Server) handleDeleteVideo(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id := c.Param("id")

	video, err := s.store.GetVideo(c.Request.Context(), owner, id)
	if err != nil {
		apperr.WriteHTTP(c, err)
		return
	}
	if err := s.objects.Delete(c.Request.Context(), video.StorageKey); err != nil {
		apperr.WriteHTTP(c, err)
		return
	}
	found, err := s.store.DeleteVideo(c.Request.Context(), owner, id)
	if err != nil {
		apperr.WriteHTTP(c, fmt.Errorf("delete video: %w", err))
		return
	}
	if !found {
		apperr.WriteHTTP(c, apperr.NotFound("video %s not found", id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"video_id": id})
}
