package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env             string
	Port            string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration

	DB    DBConfig
	Redis RedisConfig

	QuotaBackend        string
	ConversationBackend string

	GeminiAPIKey  string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	InferenceTimeout  time.Duration
	ChatContextWindow int
	TitleMaxRunes     int
	MaxUploadBytes    int64

	Media MediaConfig

	JWTSecret string
}

type DBConfig struct {
	Host     string
	User     string
	Password string
	Name     string
	Port     string
}

// DSN renders the postgres connection string used by gorm.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.Host, c.User, c.Password, c.Name, c.Port)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MediaConfig struct {
	Backend        string
	GCSBucketName  string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"

	MediaNone  = "none"
	MediaGCS   = "gcs"
	MediaMinio = "minio"
)

func NewConfig() *Config {
	return &Config{
		Env:                 "production",
		Port:                "8080",
		AllowedOrigins:      []string{"http://localhost:3000"},
		ShutdownTimeout:     15 * time.Second,
		DB:                  DBConfig{Host: "localhost", User: "postgres", Name: "glowscan", Port: "5432"},
		Redis:               RedisConfig{Addr: "localhost:6379"},
		QuotaBackend:        BackendPostgres,
		ConversationBackend: BackendPostgres,
		GeminiModel:         "gemini-1.5-flash",
		OpenAIModel:         "gpt-4o",
		InferenceTimeout:    30 * time.Second,
		ChatContextWindow:   20,
		TitleMaxRunes:       30,
		MaxUploadBytes:      20 << 20,
		Media:               MediaConfig{Backend: MediaNone},
	}
}

// Load starts from NewConfig and applies environment overrides.
func Load() (*Config, error) {
	cfg := NewConfig()

	cfg.Env = getEnv("ENV", cfg.Env)
	cfg.Port = getEnv("PORT", cfg.Port)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	}

	cfg.DB.Host = getEnv("DB_HOST", cfg.DB.Host)
	cfg.DB.User = getEnv("DB_USER", cfg.DB.User)
	cfg.DB.Password = getEnv("DB_PASSWORD", cfg.DB.Password)
	cfg.DB.Name = getEnv("DB_NAME", cfg.DB.Name)
	cfg.DB.Port = getEnv("DB_PORT", cfg.DB.Port)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.QuotaBackend = getEnv("QUOTA_BACKEND", cfg.QuotaBackend)
	cfg.ConversationBackend = getEnv("CONVERSATION_BACKEND", cfg.ConversationBackend)

	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.GeminiModel = getEnv("GEMINI_MODEL", cfg.GeminiModel)
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIModel = getEnv("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")

	cfg.Media.Backend = getEnv("MEDIA_BACKEND", cfg.Media.Backend)
	cfg.Media.GCSBucketName = os.Getenv("GCS_BUCKET_NAME")
	cfg.Media.MinioEndpoint = os.Getenv("MINIO_ENDPOINT")
	cfg.Media.MinioAccessKey = os.Getenv("MINIO_ACCESS_KEY")
	cfg.Media.MinioSecretKey = os.Getenv("MINIO_SECRET_KEY")
	cfg.Media.MinioBucket = getEnv("MINIO_BUCKET", "glowscan-media")

	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	var err error
	if cfg.Redis.DB, err = getInt("REDIS_DB", cfg.Redis.DB); err != nil {
		return nil, err
	}
	if cfg.ChatContextWindow, err = getInt("CHAT_CONTEXT_WINDOW", cfg.ChatContextWindow); err != nil {
		return nil, err
	}
	if cfg.TitleMaxRunes, err = getInt("TITLE_MAX_RUNES", cfg.TitleMaxRunes); err != nil {
		return nil, err
	}
	maxUpload, err := getInt("MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes))
	if err != nil {
		return nil, err
	}
	cfg.MaxUploadBytes = int64(maxUpload)
	if cfg.InferenceTimeout, err = getDuration("INFERENCE_TIMEOUT", cfg.InferenceTimeout); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return nil, err
	}
	if cfg.Media.MinioUseSSL, err = getBool("MINIO_USE_SSL", true); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	switch c.QuotaBackend {
	case BackendPostgres, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("QUOTA_BACKEND %q is not one of postgres, redis, memory", c.QuotaBackend)
	}
	switch c.ConversationBackend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("CONVERSATION_BACKEND %q is not one of postgres, memory", c.ConversationBackend)
	}
	switch c.Media.Backend {
	case MediaNone:
	case MediaGCS:
		if c.Media.GCSBucketName == "" {
			return fmt.Errorf("GCS_BUCKET_NAME is required when MEDIA_BACKEND=gcs")
		}
	case MediaMinio:
		if c.Media.MinioEndpoint == "" {
			return fmt.Errorf("MINIO_ENDPOINT is required when MEDIA_BACKEND=minio")
		}
	default:
		return fmt.Errorf("MEDIA_BACKEND %q is not one of none, gcs, minio", c.Media.Backend)
	}
	if c.InferenceTimeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT must be positive")
	}
	if c.ChatContextWindow < 0 {
		return fmt.Errorf("CHAT_CONTEXT_WINDOW must not be negative")
	}
	if c.TitleMaxRunes <= 0 {
		return fmt.Errorf("TITLE_MAX_RUNES must be positive")
	}
	return nil
}

// UsesPostgres reports whether any store needs the database connection.
func (c *Config) UsesPostgres() bool {
	return c.QuotaBackend == BackendPostgres || c.ConversationBackend == BackendPostgres
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
