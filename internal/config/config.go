package config

import (
	"os"
	"strconv"
	"time"
)

// Config is built once at startup and passed by reference to every
// component constructor; nothing in the business logic reads the
// environment directly.
type Config struct {
	MaxUploadBytes    int64
	AllowedExtensions []string
	PresignedURLTTL   time.Duration

	MaxConcurrentTranscriptions int
	AudioChunkThresholdBytes    int64
	JobDeadline                 time.Duration
	StepDeadline                time.Duration

	Compression CompressionConfig
	Speech      SpeechConfig
	Notes       NotesConfig

	Store       StoreConfig
	ObjectStore ObjectStoreConfig
	Queue       QueueConfig
	Auth        AuthConfig
}

// CompressionConfig controls MediaProcessor.Compress.
type CompressionConfig struct {
	CRF              int
	MaxWidth         int
	MaxHeight        int
	MaxFPS           int
	AudioBitrateKbps int
	Preset           string
	SkipAboveBytes   int64
}

// SpeechConfig controls SpeechClient retry and model selection.
type SpeechConfig struct {
	APIBaseURL     string
	APIKey         string
	PrimaryModel   string
	FallbackModel  string
	MaxRetries     int
	RequestTimeout time.Duration
}

// NotesConfig controls NotesClient.
type NotesConfig struct {
	APIBaseURL       string
	APIKey           string
	Model            string
	DisableReasoning bool
	RequestTimeout   time.Duration
}

// StoreConfig points at the relational store.
type StoreConfig struct {
	DSN string
}

// ObjectStoreConfig configures the S3-compatible backend.
type ObjectStoreConfig struct {
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	EndpointURL  string
	UsePathStyle bool
}

// QueueConfig configures the Redis-backed job queue.
type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	SharedSecret string
}

// Load builds a Config from the environment.
func Load() *Config {
	return &Config{
		MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_BYTES", 500*1024*1024)),
		AllowedExtensions: []string{"mp4", "mov", "avi", "mkv"},
		PresignedURLTTL:   time.Duration(getEnvInt("PRESIGNED_URL_TTL_S", 3600)) * time.Second,

		MaxConcurrentTranscriptions: getEnvInt("MAX_CONCURRENT_TRANSCRIPTIONS", 3),
		AudioChunkThresholdBytes:    int64(getEnvInt("AUDIO_CHUNK_THRESHOLD_BYTES", 25*1024*1024)),
		JobDeadline:                 time.Duration(getEnvInt("JOB_DEADLINE_S", 3600)) * time.Second,
		StepDeadline:                time.Duration(getEnvInt("STEP_DEADLINE_S", 600)) * time.Second,

		Compression: CompressionConfig{
			CRF:              getEnvInt("COMPRESSION_CRF", 26),
			MaxWidth:         getEnvInt("COMPRESSION_MAX_W", 1920),
			MaxHeight:        getEnvInt("COMPRESSION_MAX_H", 1080),
			MaxFPS:           getEnvInt("COMPRESSION_MAX_FPS", 30),
			AudioBitrateKbps: getEnvInt("COMPRESSION_AUDIO_KBPS", 128),
			Preset:           getEnvWithDefault("COMPRESSION_PRESET", "medium"),
			SkipAboveBytes:   int64(getEnvInt("COMPRESSION_SKIP_ABOVE_BYTES", 1024*1024*1024)),
		},

		Speech: SpeechConfig{
			APIBaseURL:     getEnvWithDefault("SPEECH_API_BASE_URL", "https://api.openai.com/v1"),
			APIKey:         os.Getenv("SPEECH_API_KEY"),
			PrimaryModel:   getEnvWithDefault("SPEECH_PRIMARY_MODEL", "whisper-1"),
			FallbackModel:  getEnvWithDefault("SPEECH_FALLBACK_MODEL", "whisper-1"),
			MaxRetries:     getEnvInt("SPEECH_MAX_RETRIES", 3),
			RequestTimeout: time.Duration(getEnvInt("SPEECH_REQUEST_TIMEOUT_S", 120)) * time.Second,
		},

		Notes: NotesConfig{
			APIBaseURL:       getEnvWithDefault("NOTES_API_BASE_URL", "https://api.openai.com/v1"),
			APIKey:           os.Getenv("NOTES_API_KEY"),
			Model:            getEnvWithDefault("NOTES_MODEL", "gpt-4o-mini"),
			DisableReasoning: getEnvWithDefault("NOTES_DISABLE_REASONING", "true") == "true",
			RequestTimeout:   time.Duration(getEnvInt("NOTES_REQUEST_TIMEOUT_S", 120)) * time.Second,
		},

		Store: StoreConfig{
			DSN: getEnvWithDefault("STORE_DSN", "file:videobrief.db?_pragma=foreign_keys(1)"),
		},

		ObjectStore: ObjectStoreConfig{
			Region:       getEnvWithDefault("AWS_REGION", "auto"),
			Bucket:       os.Getenv("S3_BUCKET"),
			AccessKey:    os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretKey:    os.Getenv("AWS_SECRET_ACCESS_KEY"),
			EndpointURL:  os.Getenv("AWS_ENDPOINT_URL"),
			UsePathStyle: getEnvWithDefault("S3_USE_PATH_STYLE", "true") == "true",
		},

		Queue: QueueConfig{
			RedisAddr:     getEnvWithDefault("REDIS_ADDR", "localhost:6379"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			KeyPrefix:     getEnvWithDefault("QUEUE_KEY_PREFIX", "videobrief"),
		},

		Auth: AuthConfig{
			SharedSecret: os.Getenv("AUTH_SHARED_SECRET"),
		},
	}
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
