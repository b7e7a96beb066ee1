package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	AIAPIKey     string
	EmbedModel   string
	OCRLanguage  string
	CacheDir     string
	CacheTTL     time.Duration
	WarmupLimit  int
	QueueSize    int
	WorkerCount  int
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	FetchTimeout time.Duration
	Port         string
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "tomeflow-books"),
		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-004"),
		OCRLanguage:  getEnv("OCR_LANGUAGE", "eng"),
		CacheDir:     getEnv("CACHE_DIR", "/var/lib/tomeflow/cache"),
		CacheTTL:     getEnvDuration("CACHE_TTL", time.Hour),
		WarmupLimit:  getEnvInt("WARMUP_LIMIT", 5),
		QueueSize:    getEnvInt("QUEUE_SIZE", 64),
		WorkerCount:  getEnvInt("WORKER_COUNT", 4),
		MaxAttempts:  getEnvInt("MAX_ATTEMPTS", 3),
		BackoffBase:  getEnvDuration("BACKOFF_BASE", 2*time.Second),
		BackoffMax:   getEnvDuration("BACKOFF_MAX", 5*time.Minute),
		FetchTimeout: getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		Port:         getEnv("PORT", "8080"),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
