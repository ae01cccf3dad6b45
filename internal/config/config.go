package config

import (
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

// MinIOConfig holds object storage settings for MinIO.
// PublicURL, when set, is used as the base of blob URLs (public-read bucket behind a CDN or proxy);
// otherwise blob URLs are presigned for PresignExpiry.
type MinIOConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	Region        string
	PublicURL     string
	PresignExpiry time.Duration
}

// SMTPConfig holds the relay used to deliver share notifications.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromName  string
	FromEmail string
	// TLSPolicy is one of "mandatory", "opportunistic" or "none".
	TLSPolicy string
	Timeout   time.Duration
}

// ShareConfig holds the lifecycle limits of a shared file.
type ShareConfig struct {
	MaxUploadBytes int64
	Retention      time.Duration
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost        string
	Port           string
	AppBaseURL     string
	Env            string
	LogLevel       string
	Timezone       string
	AllowedClients []string
	Share          ShareConfig
	Database       DatabaseConfig
	MinIO          MinIOConfig
	SMTP           SMTPConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	port := getEnv("PORT", "8080")
	return &AppConfig{
		AppHost:        getEnv("APP_HOST", "localhost:"+port),
		Port:           port,
		AppBaseURL:     strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:"+port), "/"),
		Env:            getEnv("APP_ENV", "production"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Timezone:       getEnv("APP_TIMEZONE", "UTC"),
		AllowedClients: getEnvList("ALLOWED_CLIENTS"),
		Share: ShareConfig{
			MaxUploadBytes: getEnvInt64("SHARE_MAX_UPLOAD_BYTES", 100*1000*1000),
			Retention:      getEnvDuration("SHARE_RETENTION", 24*time.Hour),
		},
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
		},
		MinIO: MinIOConfig{
			Endpoint:      getEnv("MINIO_ENDPOINT", ""),
			AccessKey:     getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey:     getEnv("MINIO_SECRET_KEY", ""),
			Bucket:        getEnv("MINIO_BUCKET", ""),
			UseSSL:        getEnvBool("MINIO_USE_SSL", false),
			Region:        getEnv("MINIO_REGION", "us-east-1"),
			PublicURL:     strings.TrimRight(getEnv("MINIO_PUBLIC_URL", ""), "/"),
			PresignExpiry: getEnvDuration("MINIO_PRESIGN_EXPIRY", 48*time.Hour),
		},
		SMTP: SMTPConfig{
			Host:      getEnv("SMTP_HOST", ""),
			Port:      getEnvInt("SMTP_PORT", 587),
			Username:  getEnv("MAIL_USER", ""),
			Password:  getEnv("MAIL_PASSWORD", ""),
			FromName:  getEnv("MAIL_FROM_NAME", "sharelink"),
			FromEmail: getEnv("MAIL_FROM_EMAIL", ""),
			TLSPolicy: getEnv("SMTP_TLS_POLICY", "opportunistic"),
			Timeout:   getEnvDuration("SMTP_TIMEOUT", 15*time.Second),
		},
	}
}

// Location resolves the configured timezone, falling back to UTC.
func (c *AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
