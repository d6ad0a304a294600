// Package media holds the local media transformations: probe, compress,
// audio extraction, and audio chunking over file paths. No network calls
// happen here; every remote object is expected to already be on local
// disk before these methods are called.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"gopkg.in/vansante/go-ffprobe.v2"

	"videobrief/internal/apperr"
	"videobrief/internal/config"
)

// unsupportedVideoCodecs mirrors the still-image codecs ffprobe happily
// reports a "video stream" for but that carry no motion content.
var unsupportedVideoCodecs = []string{"mjpeg", "jpeg", "png"}

// ProbeResult is the outcome of Probe.
type ProbeResult struct {
	DurationS    float64
	SizeBytes    int64
	VideoPresent bool
	AudioPresent bool
}

// Chunk is one element of ChunkAudio's output: a local audio file and the
// absolute offset, in seconds, at which it begins within the original audio.
type Chunk struct {
	Path         string
	StartOffsetS float64
}

// Processor implements MediaProcessor. It is stateless; every method takes
// the paths and configuration it needs.
type Processor struct{}

// New constructs a Processor.
func New() *Processor {
	return &Processor{}
}

// Probe inspects a local media file and reports its duration, size, and
// which stream types are present. A file that ffprobe cannot decode at all
// fails with apperr.MediaError.
func (p *Processor) Probe(ctx context.Context, path string) (ProbeResult, error) {
	var data *ffprobe.ProbeData
	op := func() error {
		probeCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		d, err := ffprobe.ProbeURL(probeCtx, path, "-loglevel", "error")
		if err != nil {
			return err
		}
		data = d
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx)); err != nil {
		return ProbeResult{}, apperr.MediaError(err, "probe %s", path)
	}
	if data.Format == nil {
		return ProbeResult{}, apperr.MediaError(errors.New("format information missing"), "probe %s", path)
	}

	result := ProbeResult{}

	if v := data.FirstVideoStream(); v != nil {
		codec := strings.ToLower(v.CodecName)
		if !isUnsupportedCodec(codec) {
			result.VideoPresent = true
		}
	}
	if data.FirstAudioStream() != nil {
		result.AudioPresent = true
	}
	if !result.VideoPresent && !result.AudioPresent {
		return ProbeResult{}, apperr.MediaError(errors.New("no decodable audio or video stream"), "probe %s", path)
	}

	if size, err := strconv.ParseInt(data.Format.Size, 10, 64); err == nil {
		result.SizeBytes = size
	} else if info, statErr := os.Stat(path); statErr == nil {
		result.SizeBytes = info.Size()
	}

	result.DurationS = data.Format.DurationSeconds

	return result, nil
}

func isUnsupportedCodec(codec string) bool {
	for _, c := range unsupportedVideoCodecs {
		if codec == c {
			return true
		}
	}
	return false
}

// Compress transcodes in_path to H.264/AAC with a fast-start layout.
// Files whose size already exceeds cfg.SkipAboveBytes are left untouched
// and reported via the skipped return value.
func (p *Processor) Compress(ctx context.Context, inPath string, cfg config.CompressionConfig) (outPath string, bytes_ int64, skipped bool, err error) {
	info, statErr := os.Stat(inPath)
	if statErr != nil {
		return "", 0, false, apperr.MediaError(statErr, "stat %s", inPath)
	}
	if info.Size() > cfg.SkipAboveBytes {
		return inPath, info.Size(), true, nil
	}

	out := inPath + ".compressed.mp4"
	scaleFilter := fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease", cfg.MaxWidth, cfg.MaxHeight)

	var ffmpegErr bytes.Buffer
	runErr := ffmpeg.Input(inPath).
		Output(out, ffmpeg.KwArgs{
			"c:v":      "libx264",
			"preset":   cfg.Preset,
			"crf":      cfg.CRF,
			"vf":       scaleFilter,
			"r":        cfg.MaxFPS,
			"c:a":      "aac",
			"b:a":      fmt.Sprintf("%dk", cfg.AudioBitrateKbps),
			"movflags": "faststart",
		}).
		OverWriteOutput().WithErrorOutput(&ffmpegErr).Run()
	if runErr != nil {
		os.Remove(out)
		return "", 0, false, apperr.MediaError(fmt.Errorf("%w: %s", runErr, ffmpegErr.String()), "compress %s", inPath)
	}

	outInfo, statErr := os.Stat(out)
	if statErr != nil {
		return "", 0, false, apperr.MediaError(statErr, "stat compressed output %s", out)
	}
	return out, outInfo.Size(), false, nil
}

// ExtractAudio pulls the audio track out of path as a moderate-bitrate MP3
// suitable for speech recognition.
func (p *Processor) ExtractAudio(ctx context.Context, path string) (audioPath string, bytes_ int64, err error) {
	out := strings.TrimSuffix(path, filepath.Ext(path)) + ".audio.mp3"

	var ffmpegErr bytes.Buffer
	runErr := ffmpeg.Input(path).
		Output(out, ffmpeg.KwArgs{
			"vn":  "",
			"c:a": "libmp3lame",
			"b:a": "64k",
			"ar":  "16000",
			"ac":  1,
		}).
		OverWriteOutput().WithErrorOutput(&ffmpegErr).Run()
	if runErr != nil {
		os.Remove(out)
		return "", 0, apperr.MediaError(fmt.Errorf("%w: %s", runErr, ffmpegErr.String()), "extract audio from %s", path)
	}

	info, statErr := os.Stat(out)
	if statErr != nil {
		return "", 0, apperr.MediaError(statErr, "stat extracted audio %s", out)
	}
	return out, info.Size(), nil
}

// ChunkAudio splits path into time-bounded chunks of at most maxChunkBytes
// each. A file already under the threshold is returned as a single chunk
// at offset zero without invoking ffmpeg.
func (p *Processor) ChunkAudio(ctx context.Context, path string, maxChunkBytes int64) ([]Chunk, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, apperr.MediaError(err, "stat %s", path)
	}
	if info.Size() <= maxChunkBytes {
		return []Chunk{{Path: path, StartOffsetS: 0}}, nil
	}

	probeResult, err := p.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if probeResult.DurationS <= 0 {
		return nil, apperr.MediaError(errors.New("cannot chunk audio with unknown duration"), "chunk %s", path)
	}

	numChunks := int(math.Ceil(float64(info.Size()) / float64(maxChunkBytes)))
	if numChunks < 1 {
		numChunks = 1
	}
	segmentSeconds := probeResult.DurationS / float64(numChunks)

	dir, err := os.MkdirTemp(filepath.Dir(path), "chunks-*")
	if err != nil {
		return nil, apperr.MediaError(err, "create chunk dir for %s", path)
	}
	pattern := filepath.Join(dir, "chunk_%04d.mp3")

	var ffmpegErr bytes.Buffer
	runErr := ffmpeg.Input(path).
		Output(pattern, ffmpeg.KwArgs{
			"f":                "segment",
			"segment_time":     fmt.Sprintf("%.3f", segmentSeconds),
			"c":                "copy",
			"reset_timestamps": "1",
		}).
		OverWriteOutput().WithErrorOutput(&ffmpegErr).Run()
	if runErr != nil {
		os.RemoveAll(dir)
		return nil, apperr.MediaError(fmt.Errorf("%w: %s", runErr, ffmpegErr.String()), "chunk %s", path)
	}

	entries, err := filepath.Glob(filepath.Join(dir, "chunk_*.mp3"))
	if err != nil {
		os.RemoveAll(dir)
		return nil, apperr.MediaError(err, "list chunks for %s", path)
	}
	sort.Strings(entries)
	if len(entries) == 0 {
		os.RemoveAll(dir)
		return nil, apperr.MediaError(errors.New("segmenting produced no chunks"), "chunk %s", path)
	}

	chunks := make([]Chunk, len(entries))
	for i, entry := range entries {
		chunks[i] = Chunk{Path: entry, StartOffsetS: float64(i) * segmentSeconds}
	}
	return chunks, nil
}
