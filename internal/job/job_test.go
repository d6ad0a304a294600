package job

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videobrief/internal/config"
	"videobrief/internal/job/jobfakes"
	"videobrief/internal/media"
	"videobrief/internal/store"
	"videobrief/internal/transcription"
)

func baseCfg() *config.Config {
	return &config.Config{
		JobDeadline:              time.Minute,
		StepDeadline:             time.Minute,
		AudioChunkThresholdBytes: 1024,
		Compression:              config.CompressionConfig{SkipAboveBytes: 1024 * 1024},
		Notes:                    config.NotesConfig{Model: "gpt-test"},
	}
}

func writeScratchFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "src.mov")
	require.NoError(t, os.WriteFile(path, []byte("fake video bytes"), 0o644))
	return path
}

func newHarness(t *testing.T, srcPath string) (*jobfakes.Store, *jobfakes.ObjectStore, *jobfakes.MediaProcessor, *jobfakes.TranscriptionEngine, *jobfakes.NotesClient, *Runner) {
	video := &store.Video{ID: "vid-1", OwnerID: "owner-1", StorageKey: "videos/owner-1/vid-1.mov", Status: store.VideoUploaded}
	st := &jobfakes.Store{Video: video, AcquireOK: true}
	objects := &jobfakes.ObjectStore{LocalPath: srcPath}
	mediaProc := &jobfakes.MediaProcessor{
		ProbeResult:     media.ProbeResult{DurationS: 12.5, AudioPresent: true, VideoPresent: true},
		CompressSkipped: true,
		AudioPath:       srcPath,
		Chunks:          []media.Chunk{{Path: srcPath, StartOffsetS: 0}},
	}
	transcriber := &jobfakes.TranscriptionEngine{Result: transcription.Result{FullText: "hello world", ModelUsed: "whisper-1"}}
	notesClient := &jobfakes.NotesClient{Notes: &store.StructuredNotes{Summary: "a summary"}}

	runner := New(st, objects, mediaProc, transcriber, notesClient, baseCfg())
	return st, objects, mediaProc, transcriber, notesClient, runner
}

func TestRunHappyPath(t *testing.T) {
	srcPath := writeScratchFile(t)
	st, _, _, _, _, runner := newHarness(t, srcPath)

	err := runner.Run(context.Background(), "vid-1")
	require.NoError(t, err)

	require.NotNil(t, st.Transcription)
	assert.Equal(t, "hello world", st.Transcription.TranscriptText)
	require.NotNil(t, st.Notes)
	assert.Equal(t, "a summary", st.Notes.Summary)
	require.NotNil(t, st.CompletedDurationS)
	assert.Equal(t, 12.5, *st.CompletedDurationS)
	assert.True(t, st.StreamReadyCalled)
	assert.Empty(t, st.FailReason)
}

func TestRunSkipsWhenNotAcquired(t *testing.T) {
	srcPath := writeScratchFile(t)
	st, _, _, _, _, runner := newHarness(t, srcPath)
	st.AcquireOK = false

	err := runner.Run(context.Background(), "vid-1")
	require.NoError(t, err)
	assert.Nil(t, st.Transcription)
}

func TestRunUploadsCompressedArtifactAndSwapsStorageKey(t *testing.T) {
	srcPath := writeScratchFile(t)
	st, objects, mediaProc, _, _, runner := newHarness(t, srcPath)
	mediaProc.CompressSkipped = false
	mediaProc.CompressOutPath = srcPath + ".compressed.mp4"
	mediaProc.CompressBytes = 42

	err := runner.Run(context.Background(), "vid-1")
	require.NoError(t, err)

	require.Len(t, objects.PutKeys, 1)
	assert.Contains(t, objects.PutKeys[0], "_compressed.mp4")
	require.Len(t, objects.DeletedKeys, 1)
	assert.Equal(t, "videos/owner-1/vid-1.mov", objects.DeletedKeys[0])
	assert.Equal(t, objects.PutKeys[0], st.UpdatedStorageKey)
}

func TestRunContinuesWithoutNotesOnFailure(t *testing.T) {
	srcPath := writeScratchFile(t)
	st, _, _, _, notesClient, runner := newHarness(t, srcPath)
	notesClient.Notes = nil
	notesClient.Err = assert.AnError

	err := runner.Run(context.Background(), "vid-1")
	require.NoError(t, err)
	assert.Nil(t, st.Notes)
	require.NotNil(t, st.Transcription)
	assert.True(t, st.StreamReadyCalled)
}

func TestRunFailsProcessingOnTranscriptionError(t *testing.T) {
	srcPath := writeScratchFile(t)
	st, _, _, transcriber, _, runner := newHarness(t, srcPath)
	transcriber.Err = assert.AnError

	err := runner.Run(context.Background(), "vid-1")
	require.Error(t, err)
	assert.NotEmpty(t, st.FailReason)
	assert.Nil(t, st.Transcription)
}
