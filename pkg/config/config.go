package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	CORS       CORSConfig
	Log        LogConfig
	Generation GenerationConfig
	Jobs       JobsConfig
	Artifacts  ArtifactsConfig
	Audit      AuditConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// GenerationConfig tunes the outbound content-generation engine.
type GenerationConfig struct {
	EngineURL      string
	Model          string
	AttemptTimeout time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
}

// JobsConfig governs the in-process worker pool.
type JobsConfig struct {
	WorkerConcurrency int
	BufferSize        int
	RecoveryBatch     int
}

// ArtifactsConfig controls rendered-document storage.
type ArtifactsConfig struct {
	StorageDir string
	ResultTTL  time.Duration
}

// AuditConfig controls the review-queue notification channel.
type AuditConfig struct {
	ReviewQueueKey     string
	NotifyReviewQueue  bool
	ExportDefaultLimit int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Generation = GenerationConfig{
		EngineURL:      v.GetString("GENERATION_ENGINE_URL"),
		Model:          v.GetString("GENERATION_MODEL"),
		AttemptTimeout: parseDuration(v.GetString("GENERATION_ATTEMPT_TIMEOUT"), 90*time.Second),
		MaxAttempts:    v.GetInt("GENERATION_MAX_ATTEMPTS"),
		RetryBackoff:   parseDuration(v.GetString("GENERATION_RETRY_BACKOFF"), 2*time.Second),
	}

	cfg.Jobs = JobsConfig{
		WorkerConcurrency: v.GetInt("JOBS_WORKER_CONCURRENCY"),
		BufferSize:        v.GetInt("JOBS_BUFFER_SIZE"),
		RecoveryBatch:     v.GetInt("JOBS_RECOVERY_BATCH"),
	}

	cfg.Artifacts = ArtifactsConfig{
		StorageDir: v.GetString("ARTIFACTS_STORAGE_DIR"),
		ResultTTL:  parseDuration(v.GetString("ARTIFACTS_RESULT_TTL"), 0),
	}

	cfg.Audit = AuditConfig{
		ReviewQueueKey:     v.GetString("AUDIT_REVIEW_QUEUE_KEY"),
		NotifyReviewQueue:  v.GetBool("AUDIT_NOTIFY_REVIEW_QUEUE"),
		ExportDefaultLimit: v.GetInt("AUDIT_EXPORT_DEFAULT_LIMIT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sop_api")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GENERATION_ENGINE_URL", "http://localhost:11434")
	v.SetDefault("GENERATION_MODEL", "llama3")
	v.SetDefault("GENERATION_ATTEMPT_TIMEOUT", "90s")
	v.SetDefault("GENERATION_MAX_ATTEMPTS", 3)
	v.SetDefault("GENERATION_RETRY_BACKOFF", "2s")

	v.SetDefault("JOBS_WORKER_CONCURRENCY", 4)
	v.SetDefault("JOBS_BUFFER_SIZE", 64)
	v.SetDefault("JOBS_RECOVERY_BATCH", 50)

	v.SetDefault("ARTIFACTS_STORAGE_DIR", "./artifacts")
	v.SetDefault("ARTIFACTS_RESULT_TTL", "0")

	v.SetDefault("AUDIT_REVIEW_QUEUE_KEY", "sop:review-queue")
	v.SetDefault("AUDIT_NOTIFY_REVIEW_QUEUE", false)
	v.SetDefault("AUDIT_EXPORT_DEFAULT_LIMIT", 100)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
