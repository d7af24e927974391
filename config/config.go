package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Values come from the environment (optionally via a .env file) with
// simple defaults suitable for local development.
type Config struct {
	HTTPAddr   string
	FFmpegPath string
	YtdlpPath  string

	// WorkDir 是下载与渲染使用的临时目录
	WorkDir string

	// 数据库配置
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// 混音流水线参数
	Genres            []string // supported genre tags
	AnalyzeWorkers    int      // bounded analysis worker pool size
	CandidateCap      int      // hard cap on candidates examined per mix
	IntroSkipSec      float64  // trim-in anchor: skip at least this much intro
	OutroReserveSec   float64  // trim-out anchor: leave at least this much tail
	MinUsableSec      float64  // tracks with less usable audio are truncated input
	DurationTolerance float64  // acceptable deviation from target, fraction
	KeyConfidence     float64  // below this the detected key degrades to unknown
	RenderSampleRate  int
	RenderChannels    int
	AudioBitrate      string // e.g. "192k"

	// WeightsPath 指向选择器权重配置文件（JSON，支持热更新）
	WeightsPath string

	// 日志配置
	LogLevel string
	LogPath  string
}

// defaultGenres mirrors the catalog the service was launched with.
var defaultGenres = []string{
	"EDM", "House", "Techno", "Trance", "Dubstep", "Drum and Bass",
	"Hip Hop", "Pop", "Rock", "Jazz", "Classical", "Ambient", "Lofi",
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

// getEnvFloat gets an environment variable as float64 or returns a default value.
func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

	genres := defaultGenres
	if raw := os.Getenv("GENRES"); raw != "" {
		var parsed []string
		for _, g := range strings.Split(raw, ",") {
			if g = strings.TrimSpace(g); g != "" {
				parsed = append(parsed, g)
			}
		}
		if len(parsed) > 0 {
			genres = parsed
		}
	}

	workDir := getEnv("WORK_DIR", filepath.Join(os.TempDir(), "autofm"))

	return &Config{
		HTTPAddr:   getEnv("HTTP_ADDR", ":8080"),
		FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),
		YtdlpPath:  getEnv("YTDLP_PATH", "yt-dlp"),
		WorkDir:    workDir,

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // no hardcoded default for secrets
		DBName:     getEnv("DB_NAME", "autofm"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "autofm"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		Genres:            genres,
		AnalyzeWorkers:    getEnvInt("ANALYZE_WORKERS", 4),
		CandidateCap:      getEnvInt("CANDIDATE_CAP", 50),
		IntroSkipSec:      getEnvFloat("INTRO_SKIP_SEC", 8),
		OutroReserveSec:   getEnvFloat("OUTRO_RESERVE_SEC", 8),
		MinUsableSec:      getEnvFloat("MIN_USABLE_SEC", 30),
		DurationTolerance: getEnvFloat("DURATION_TOLERANCE", 0.10),
		KeyConfidence:     getEnvFloat("KEY_CONFIDENCE", 0.5),
		RenderSampleRate:  getEnvInt("RENDER_SAMPLE_RATE", 44100),
		RenderChannels:    getEnvInt("RENDER_CHANNELS", 2),
		AudioBitrate:      getEnv("AUDIO_BITRATE", "192k"),

		WeightsPath: getEnv("WEIGHTS_PATH", filepath.Join(workDir, "mix_weights.json")),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  getEnv("LOG_PATH", ""),
	}
}

// SupportsGenre reports whether the genre tag is in the configured catalog.
// Matching is case-insensitive.
func (c *Config) SupportsGenre(genre string) bool {
	for _, g := range c.Genres {
		if strings.EqualFold(g, genre) {
			return true
		}
	}
	return false
}
