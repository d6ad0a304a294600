package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videobrief/internal/apperr"
	"videobrief/internal/config"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), config.StoreConfig{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetVideoRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := &Video{OwnerID: "owner-1", Source: SourceUpload, StorageKey: "videos/owner-1/x.mp4", Title: "clip", Status: VideoUploading}
	require.NoError(t, s.CreateVideo(ctx, v))
	require.NotEmpty(t, v.ID)

	got, err := s.GetVideo(ctx, "owner-1", v.ID)
	require.NoError(t, err)
	assert.Equal(t, "clip", got.Title)
	assert.Equal(t, VideoUploading, got.Status)
}

func TestGetVideoEnforcesOwnerIsolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := &Video{OwnerID: "owner-a", Source: SourceUpload, StorageKey: "k", Title: "clip", Status: VideoUploading}
	require.NoError(t, s.CreateVideo(ctx, v))

	_, err := s.GetVideo(ctx, "owner-b", v.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestAcquireForProcessingOnlyFromEligibleStatuses(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := &Video{OwnerID: "owner-1", Source: SourceUpload, StorageKey: "k", Title: "clip", Status: VideoUploaded}
	require.NoError(t, s.CreateVideo(ctx, v))

	ok, err := s.AcquireForProcessing(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetVideoForProcessing(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, VideoProcessing, got.Status)

	// Already processing: a second acquire must not succeed, so two
	// workers can never interleave attempts on the same video.
	ok, err = s.AcquireForProcessing(ctx, v.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertTranscriptionReplacesAtomically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := &Video{OwnerID: "owner-1", Source: SourceUpload, StorageKey: "k", Title: "clip", Status: VideoProcessing}
	require.NoError(t, s.CreateVideo(ctx, v))

	first := &Transcription{
		VideoID:            v.ID,
		TranscriptText:     "first pass",
		TranscriptSegments: []Segment{{StartS: 0, EndS: 1, Text: "first pass"}},
		ModelUsed:          "whisper-1",
	}
	require.NoError(t, s.UpsertTranscription(ctx, first))

	require.NoError(t, s.UpdateNotes(ctx, v.ID, &StructuredNotes{Summary: "stale summary"}, "gpt-test", 10))

	second := &Transcription{
		VideoID:            v.ID,
		TranscriptText:     "second pass",
		TranscriptSegments: []Segment{{StartS: 0, EndS: 2, Text: "second pass"}},
		ModelUsed:          "whisper-2",
	}
	require.NoError(t, s.UpsertTranscription(ctx, second))

	got, err := s.GetTranscription(ctx, "owner-1", v.ID)
	require.NoError(t, err)
	assert.Equal(t, "second pass", got.TranscriptText)
	assert.Equal(t, "whisper-2", got.ModelUsed)
	assert.Nil(t, got.Notes, "a re-run must clear the stale notes from the prior pass")
}

func TestTimestampedItemAcceptsBareStringOrObject(t *testing.T) {
	var plain TimestampedItem
	require.NoError(t, jsonUnmarshal(t, `"just a string"`, &plain))
	assert.Equal(t, "just a string", plain.Content)
	assert.Nil(t, plain.TimestampS)

	var timed TimestampedItem
	require.NoError(t, jsonUnmarshal(t, `{"content":"with time","timestamp_s":12.5}`, &timed))
	assert.Equal(t, "with time", timed.Content)
	require.NotNil(t, timed.TimestampS)
	assert.Equal(t, 12.5, *timed.TimestampS)
}

func jsonUnmarshal(t *testing.T, data string, v *TimestampedItem) error {
	t.Helper()
	return v.UnmarshalJSON([]byte(data))
}
