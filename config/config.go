package config

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// It is resolved once at start-up and passed explicitly to every component.
type Config struct {
	HTTPAddr string

	// 外部二进制
	FFmpegPath  string
	FFprobePath string
	YtDlpPath   string

	SongsDir        string        // Root of the id-keyed song cache: SongsDir/<id>/{audio.mp3,metadata.json}
	AudioBitrate    string        // yt-dlp --audio-quality, e.g. "192K"
	PipelineTimeout time.Duration // Upper bound for one fetch+analyze run
	ProbeTimeout    time.Duration

	// MySQL (song catalog, game stats)
	DBEnabled  bool
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisEnabled    bool
	RedisHost       string
	RedisPort       string
	RedisPassword   string
	RedisDB         int
	ResolveCacheTTL time.Duration
	LockTTL         time.Duration

	// MinIO 镜像
	MinioEnabled   bool
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// 日志
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
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

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	ffmpegPath := getEnv("FFMPEG_PATH", "ffmpeg")

	return &Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8000"),
		FFmpegPath:      ffmpegPath,
		FFprobePath:     getEnv("FFPROBE_PATH", deriveFFprobePath(ffmpegPath)),
		YtDlpPath:       getEnv("YTDLP_PATH", "yt-dlp"),
		SongsDir:        getEnv("SONGS_DIR", "songs"),
		AudioBitrate:    getEnv("AUDIO_BITRATE", "192K"),
		PipelineTimeout: getEnvDuration("PIPELINE_TIMEOUT", 15*time.Minute),
		ProbeTimeout:    getEnvDuration("PROBE_TIMEOUT", 60*time.Second),

		DBEnabled:  getEnvBool("DB_ENABLED", false),
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // no hardcoded default for the password
		DBName:     getEnv("DB_NAME", "xslicer"),

		RedisEnabled:    getEnvBool("REDIS_ENABLED", false),
		RedisHost:       getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:       getEnv("REDIS_PORT", "6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		ResolveCacheTTL: getEnvDuration("RESOLVE_CACHE_TTL", 6*time.Hour),
		LockTTL:         getEnvDuration("LOCK_TTL", 20*time.Minute),

		MinioEnabled:   getEnvBool("MINIO_ENABLED", false),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "xslicer"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),
	}
}

// deriveFFprobePath guesses the ffprobe binary that ships next to ffmpeg.
func deriveFFprobePath(ffmpegPath string) string {
	dir, base := filepath.Split(ffmpegPath)
	return dir + strings.Replace(base, "ffmpeg", "ffprobe", 1)
}

// Validate resolves the external binaries to absolute paths and makes sure the
// song directory exists. A missing binary is a start-up failure, not a per-request one.
func (c *Config) Validate() error {
	for _, bin := range []*string{&c.FFmpegPath, &c.FFprobePath, &c.YtDlpPath} {
		resolved, err := exec.LookPath(*bin)
		if err != nil {
			return fmt.Errorf("required binary %q not found: %w", *bin, err)
		}
		*bin = resolved
	}

	if c.PipelineTimeout <= 0 {
		return fmt.Errorf("PIPELINE_TIMEOUT must be positive, got %s", c.PipelineTimeout)
	}

	if err := os.MkdirAll(c.SongsDir, 0755); err != nil {
		return fmt.Errorf("failed to create songs directory %s: %w", c.SongsDir, err)
	}
	return nil
}

// DSN returns the MySQL data source name used by gorm.
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// RedisAddr returns host:port of the Redis server.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}
