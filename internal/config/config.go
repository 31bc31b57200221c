package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr           string
	DatabaseURL    string
	MigrationsDir  string
	TokenSecret    string
	TokenTTL       time.Duration
	CORSOrigin     string
	MeiliURL       string
	MeiliMasterKey string
	LogLevel       string
	LogFormat      string
	// SMTP Configuration
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	// Redis Configuration
	RedisURL string
	// Object storage
	BlobEndpoint  string
	BlobAccessKey string
	BlobSecretKey string
	BlobBucket    string
	BlobUseSSL    bool
	SignedURLTTL  time.Duration
	// Ingest policy
	PolicyFile string
	Policy     IngestPolicy
}

// Load reads the environment and, when ARCHIVE_POLICY_FILE is set, the TOML
// ingest policy it points at.
func Load() (Config, error) {
	cfg := Config{
		Addr:           getenv("API_ADDR", ":8787"),
		DatabaseURL:    getenv("DATABASE_URL", ""),
		MigrationsDir:  getenv("ARCHIVE_MIGRATIONS_DIR", "./db/migrations"),
		TokenSecret:    getenv("ARCHIVE_TOKEN_SECRET", "archive-dev-secret"),
		TokenTTL:       time.Duration(getenvInt("ARCHIVE_TOKEN_TTL_SECONDS", 86400)) * time.Second,
		CORSOrigin:     getenv("ARCHIVE_CORS_ORIGIN", "*"),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", "archive-meili-key"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogFormat:      getenv("LOG_FORMAT", "json"),
		// SMTP - empty by default, email disabled if not configured
		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenv("SMTP_PORT", "587"),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", ""),
		SMTPFromName: getenv("SMTP_FROM_NAME", "Profile Archive"),
		// Redis - signed URLs are regenerated on every request when unset
		RedisURL: getenv("REDIS_URL", ""),
		// MinIO / S3 - attachments stay in memory when unset
		BlobEndpoint:  getenv("BLOB_ENDPOINT", ""),
		BlobAccessKey: getenv("BLOB_ACCESS_KEY", ""),
		BlobSecretKey: getenv("BLOB_SECRET_KEY", ""),
		BlobBucket:    getenv("BLOB_BUCKET", "archive-items"),
		BlobUseSSL:    getenvBool("BLOB_USE_SSL", false),
		SignedURLTTL:  time.Duration(getenvInt("ARCHIVE_SIGNED_URL_TTL_SECONDS", 900)) * time.Second,
		PolicyFile:    getenv("ARCHIVE_POLICY_FILE", ""),
		Policy:        DefaultIngestPolicy(),
	}
	if cfg.PolicyFile != "" {
		policy, err := LoadIngestPolicy(cfg.PolicyFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Policy = policy
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
