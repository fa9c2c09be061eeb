// Package config provides configuration loading and management for the academy service.
// It handles environment variable parsing and provides default values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package initialization.
// godotenv.Load() does not override already-set environment variables,
// preserving OS env > .env precedence.
func init() {
	// Load .env file if it exists (for shared development config)
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	// Load .env.local if it exists (for local overrides, gitignored)
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Ledger backends
const (
	LedgerSui    = "sui"
	LedgerMemory = "memory"
)

// Blob backends
const (
	BlobWalrus = "walrus"
	BlobS3     = "s3"
	BlobMemory = "memory"
)

// Config captures environment-driven settings for the academy service.
type Config struct {
	Env  string // Deployment environment (dev, staging, prod)
	Port string // HTTP server port

	// Ledger
	Ledger    string // Ledger backend (sui, memory)
	SuiRPCURL string // Sui JSON-RPC endpoint
	PackageID string // On-chain package id
	Module    string // Move module holding the entry points
	ClockID   string // Shared clock object passed to issue-credential
	GasBudget uint64 // Gas budget per transaction
	WalletKey string // Base64 or hex ed25519 seed; empty means disconnected

	// Blob store
	BlobBackend         string // Blob backend (walrus, s3, memory)
	WalrusPublisherURL  string // Walrus publisher endpoint (uploads)
	WalrusAggregatorURL string // Walrus aggregator endpoint (downloads)
	WalrusEpochs        int    // Storage epochs requested per upload
	S3Endpoint          string // S3-compatible storage endpoint
	S3Region            string // S3 region
	S3Bucket            string // S3 bucket name
	S3AccessKey         string // S3 access key
	S3SecretKey         string // S3 secret key

	// Receipt log persistence
	DatabaseDSN string // PostgreSQL connection string
	RedisAddr   string // Redis address
	DataDir     string // Badger data directory

	NATSURL   string // NATS server URL
	APISecret string // HS256 secret for operator bearer tokens

	// Workflow timing
	IndexDelay         time.Duration // Pause between profile creation and re-query
	ReconcileDelay     time.Duration // Pause before confirming an optimistic enroll or credential
	AccessPollInterval time.Duration // Access watcher interval

	// Upload limits
	MaxUploadSize    int64    // Maximum multipart request size in bytes
	AllowedMimeTypes []string // Allowed MIME types (prefix match on entries ending in "/")

	// CORS configuration
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

// Default configuration values used when environment variables are not set
const (
	defaultPort                = "8080"
	defaultEnv                 = "dev"
	defaultSuiRPCURL           = "https://fullnode.testnet.sui.io:443"
	defaultModule              = "academy"
	defaultClockID             = "0x6"
	defaultGasBudget           = 100_000_000
	defaultWalrusPublisherURL  = "https://publisher.walrus-testnet.walrus.space"
	defaultWalrusAggregatorURL = "https://aggregator.walrus-testnet.walrus.space"
	defaultWalrusEpochs        = 5
	defaultS3Region            = "us-east-1"
	defaultDataDir             = "./data"
	defaultIndexDelay          = 2 * time.Second
	defaultReconcileDelay      = 3 * time.Second
	defaultAccessPollInterval  = 10 * time.Second
	defaultMaxUploadSize       = 512 * 1024 * 1024
)

var defaultAllowedMimeTypes = []string{
	"image/",
	"video/",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/octet-stream",
}

// Load reads environment variables and produces a Config suitable for wiring the service.
// Returns an error if required parameters are missing or invalid.
func Load() (Config, error) {
	cfg := Config{
		Env:                 getEnv("ACADEMY_ENV", defaultEnv),
		Port:                getEnv("ACADEMY_PORT", defaultPort),
		Ledger:              strings.ToLower(getEnv("ACADEMY_LEDGER", LedgerSui)),
		SuiRPCURL:           getEnv("ACADEMY_SUI_RPC_URL", defaultSuiRPCURL),
		PackageID:           os.Getenv("ACADEMY_PACKAGE_ID"),
		Module:              getEnv("ACADEMY_MODULE", defaultModule),
		ClockID:             getEnv("ACADEMY_CLOCK_ID", defaultClockID),
		GasBudget:           getUint("ACADEMY_GAS_BUDGET", defaultGasBudget),
		WalletKey:           os.Getenv("ACADEMY_WALLET_KEY"),
		BlobBackend:         strings.ToLower(getEnv("ACADEMY_BLOB_BACKEND", BlobWalrus)),
		WalrusPublisherURL:  getEnv("ACADEMY_WALRUS_PUBLISHER_URL", defaultWalrusPublisherURL),
		WalrusAggregatorURL: getEnv("ACADEMY_WALRUS_AGGREGATOR_URL", defaultWalrusAggregatorURL),
		WalrusEpochs:        getInt("ACADEMY_WALRUS_EPOCHS", defaultWalrusEpochs),
		S3Endpoint:          os.Getenv("ACADEMY_S3_ENDPOINT"),
		S3Region:            getEnv("ACADEMY_S3_REGION", defaultS3Region),
		S3Bucket:            os.Getenv("ACADEMY_S3_BUCKET"),
		S3AccessKey:         os.Getenv("ACADEMY_S3_ACCESS_KEY"),
		S3SecretKey:         os.Getenv("ACADEMY_S3_SECRET_KEY"),
		DatabaseDSN:         os.Getenv("ACADEMY_DB_DSN"),
		RedisAddr:           os.Getenv("ACADEMY_REDIS_ADDR"),
		DataDir:             getEnv("ACADEMY_DATA_DIR", defaultDataDir),
		NATSURL:             os.Getenv("ACADEMY_NATS_URL"),
		APISecret:           os.Getenv("ACADEMY_API_SECRET"),
		IndexDelay:          getDuration("ACADEMY_INDEX_DELAY", defaultIndexDelay),
		ReconcileDelay:      getDuration("ACADEMY_RECONCILE_DELAY", defaultReconcileDelay),
		AccessPollInterval:  getDuration("ACADEMY_ACCESS_POLL_INTERVAL", defaultAccessPollInterval),
		MaxUploadSize:       int64(getUint("ACADEMY_MAX_UPLOAD_SIZE", defaultMaxUploadSize)),
		AllowedMimeTypes:    getList("ACADEMY_ALLOWED_MIME_TYPES", defaultAllowedMimeTypes),
		CORSAllowedOrigins:  getList("ACADEMY_CORS_ALLOWED_ORIGINS", nil),
	}

	switch cfg.Ledger {
	case LedgerSui:
		if cfg.PackageID == "" {
			return cfg, fmt.Errorf("ACADEMY_PACKAGE_ID is required when ACADEMY_LEDGER=%s", LedgerSui)
		}
	case LedgerMemory:
		if cfg.PackageID == "" {
			cfg.PackageID = "0x0"
		}
	default:
		return cfg, fmt.Errorf("unsupported ACADEMY_LEDGER %q", cfg.Ledger)
	}

	switch cfg.BlobBackend {
	case BlobWalrus, BlobMemory:
	case BlobS3:
		if cfg.S3Endpoint == "" || cfg.S3Bucket == "" {
			return cfg, fmt.Errorf("ACADEMY_S3_ENDPOINT and ACADEMY_S3_BUCKET are required when ACADEMY_BLOB_BACKEND=%s", BlobS3)
		}
	default:
		return cfg, fmt.Errorf("unsupported ACADEMY_BLOB_BACKEND %q", cfg.BlobBackend)
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return fallback
	}
	return i
}

func getUint(key string, fallback uint64) uint64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	u, err := strconv.ParseUint(v, 10, 64)
	if err != nil || u == 0 {
		return fallback
	}
	return u
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// getList splits a comma-separated variable and trims whitespace from each entry
func getList(key string, fallback []string) []string {
	v, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
