package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DBDriverMongo    = "mongo"
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	StorageLocal  = "local"
	StorageMemory = "memory"
	StorageS3     = "s3"

	QueueMemory = "memory"
	QueueRedis  = "redis"
)

type Config struct {
	Port        string
	JWTSecret   string
	SkipAuth    bool
	Environment string
	AppId       string
	CORSOrigins string

	DBDriver string
	MongoURI string
	DBName   string
	SQLDSN   string

	StorageBackend string
	FSPath         string // Root directory of the local blob backend
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3PathStyle    bool

	MaxUploadSize      int64
	MaxNameLength      int
	BlobTimeout        time.Duration
	BlobReadRetries    uint
	StepTimeout        time.Duration
	ThumbnailMax       int
	ThumbnailMaxPixels int64
	Scanner            string

	QueueDriver      string
	RedisAddr        string
	RedisPassword    string
	QueueConcurrency int
	QueueMaxRetry    int

	SweepSchedule string

	LogFile      string
	AuditLogFile string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	} else {
		log.Println("Loaded .env file successfully")
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		JWTSecret:   getEnv("JWT_SECRET", "secret"),
		SkipAuth:    getEnvBool("SKIP_AUTH", false),
		Environment: getEnv("ENVIRONMENT", "development"),
		AppId:       getEnv("APP_ID", "go-evidence"),
		CORSOrigins: getEnv("CORS_ORIGINS", ""),

		DBDriver: strings.ToLower(getEnv("DB_DRIVER", DBDriverSQLite)),
		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:   getEnv("DB_NAME", "go-evidence"),
		SQLDSN:   getEnv("SQL_DSN", "evidence.db"),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", StorageLocal)),
		FSPath:         getEnv("FS_PATH", "./uploads"),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Bucket:       getEnv("S3_BUCKET", ""),
		S3AccessKey:    getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("S3_SECRET_KEY", ""),
		S3PathStyle:    getEnvBool("S3_PATH_STYLE", false),

		MaxUploadSize:      getEnvInt64("MAX_UPLOAD_SIZE_MB", 50) << 20,
		MaxNameLength:      getEnvInt("MAX_NAME_LENGTH", 255),
		BlobTimeout:        getEnvDuration("BLOB_TIMEOUT", 30*time.Second),
		BlobReadRetries:    uint(getEnvInt("BLOB_READ_RETRIES", 3)),
		StepTimeout:        getEnvDuration("STEP_TIMEOUT", time.Minute),
		ThumbnailMax:       getEnvInt("THUMBNAIL_MAX", 300),
		ThumbnailMaxPixels: getEnvInt64("THUMBNAIL_MAX_PIXELS", 40_000_000),
		Scanner:            strings.ToLower(getEnv("SCANNER", "noop")),

		QueueDriver:      strings.ToLower(getEnv("QUEUE_DRIVER", QueueMemory)),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		QueueConcurrency: getEnvInt("QUEUE_CONCURRENCY", 4),
		QueueMaxRetry:    getEnvInt("QUEUE_MAX_RETRY", 3),

		SweepSchedule: getEnv("SWEEP_SCHEDULE", "@daily"),

		LogFile:      getEnv("LOG_FILE", ""),
		AuditLogFile: getEnv("AUDIT_LOG_FILE", "./logs/security.log"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case DBDriverMongo, DBDriverPostgres, DBDriverSQLite:
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	switch c.StorageBackend {
	case StorageLocal, StorageMemory, StorageS3:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	switch c.QueueDriver {
	case QueueMemory, QueueRedis:
	default:
		return fmt.Errorf("unknown QUEUE_DRIVER %q", c.QueueDriver)
	}
	if c.StorageBackend == StorageS3 && c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required for the s3 storage backend")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func getEnvInt64(key string, fallback int64) int64 {
	v, err := strconv.ParseInt(getEnv(key, ""), 10, 64)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
