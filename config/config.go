package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Capture  CaptureConfig
	Health   HealthConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/classroom?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings. Tokens are issued by the
// marketplace auth service; this backend only validates them.
type JWTConfig struct {
	Secret string
}

// AWSConfig holds AWS credentials and the recordings bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	PresignExpireMinutes int
}

// CaptureConfig holds client recording pipeline settings.
type CaptureConfig struct {
	ChunkIntervalSec  int    // timed capture interval per chunk
	MaxUploadAttempts int    // retry ceiling per chunk
	BackoffBaseMs     int    // backoff = base * attempt
	StoreDir          string // durable chunk store directory; empty = os.TempDir()
	UploadURL         string // chunk ingest endpoint base URL
}

// HealthConfig holds quality monitor settings.
type HealthConfig struct {
	WindowSize            int // rolling score window capacity per call
	RegionSwitchSamples   int
	RegionSwitchThreshold int
	FallbackSamples       int
	FallbackThreshold     int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/classroom?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "classroom"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-me-in-production"),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:     getEnv("AWS_S3_RECORDINGS_BUCKET", "classroom-recordings-bucket"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Capture: CaptureConfig{
			ChunkIntervalSec:  getEnvInt("CAPTURE_CHUNK_INTERVAL_SEC", 25),
			MaxUploadAttempts: getEnvInt("CAPTURE_MAX_UPLOAD_ATTEMPTS", 3),
			BackoffBaseMs:     getEnvInt("CAPTURE_BACKOFF_BASE_MS", 2000),
			StoreDir:          getEnv("CAPTURE_STORE_DIR", ""),
			UploadURL:         getEnv("CAPTURE_UPLOAD_URL", "http://localhost:8080"),
		},
		Health: HealthConfig{
			WindowSize:            getEnvInt("HEALTH_WINDOW_SIZE", 20),
			RegionSwitchSamples:   getEnvInt("HEALTH_REGION_SWITCH_SAMPLES", 5),
			RegionSwitchThreshold: getEnvInt("HEALTH_REGION_SWITCH_THRESHOLD", 40),
			FallbackSamples:       getEnvInt("HEALTH_FALLBACK_SAMPLES", 6),
			FallbackThreshold:     getEnvInt("HEALTH_FALLBACK_THRESHOLD", 20),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
