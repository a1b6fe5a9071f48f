package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the pipeline configuration. Values come from environment
// variables (optionally via a .env file) with sensible defaults.
type Config struct {
	// External encoder
	FFmpegPath        string
	AudioBitrate      string // e.g. "192k"
	AudioSampleRate   int
	AudioChannels     int
	HLSSegmentSeconds int
	PreviewSeconds    int // length of the trimmed preview stream

	// Local scratch space for in-flight jobs
	TempDir string

	// MySQL
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis (job queue)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO / object storage
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
	MinioRegion    string
	// Base URL under which final-bucket objects are publicly reachable,
	// e.g. "https://media.example.com". Derived image URLs are built from it.
	MediaBaseURL string

	// Audio fingerprinting (advisory). Empty token disables the stage.
	FingerprintAPIURL   string
	FingerprintAPIToken string

	// Queue tuning
	JobMaxAttempts   int
	JobBackoff       time.Duration
	StallTimeout     time.Duration
	HeartbeatPeriod  time.Duration
	SweepPeriod      time.Duration
	CleanupRetention time.Duration

	// Status HTTP listener, e.g. ":8090"
	StatusAddr string

	// Logging
	LogLevel string
	LogPath  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// getEnvDuration gets an environment variable as a duration in seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		FFmpegPath:        getEnv("FFMPEG_PATH", "ffmpeg"),
		AudioBitrate:      getEnv("AUDIO_BITRATE", "192k"),
		AudioSampleRate:   getEnvInt("AUDIO_SAMPLE_RATE", 48000),
		AudioChannels:     getEnvInt("AUDIO_CHANNELS", 2),
		HLSSegmentSeconds: getEnvInt("HLS_SEGMENT_SECONDS", 10),
		PreviewSeconds:    getEnvInt("PREVIEW_SECONDS", 30),

		TempDir: getEnv("TEMP_DIR", filepath.Join(os.TempDir(), "mirlo-pipeline")),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "mirlo"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MediaBaseURL:   getEnv("MEDIA_BASE_URL", "http://127.0.0.1:9000"),

		FingerprintAPIURL:   getEnv("FINGERPRINT_API_URL", "https://api.audd.io/recognize"),
		FingerprintAPIToken: os.Getenv("FINGERPRINT_API_TOKEN"),

		JobMaxAttempts:   getEnvInt("JOB_MAX_ATTEMPTS", 3),
		JobBackoff:       getEnvDuration("JOB_BACKOFF_SECONDS", 10*time.Second),
		StallTimeout:     getEnvDuration("STALL_TIMEOUT_SECONDS", 60*time.Second),
		HeartbeatPeriod:  getEnvDuration("HEARTBEAT_SECONDS", 15*time.Second),
		SweepPeriod:      getEnvDuration("SWEEP_SECONDS", 10*time.Second),
		CleanupRetention: getEnvDuration("CLEANUP_RETENTION_SECONDS", 48*time.Hour),

		StatusAddr: getEnv("STATUS_ADDR", ":8090"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  getEnv("LOG_PATH", ""),
	}
}
