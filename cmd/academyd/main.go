// Package main implements the entry point for the academy service.
// It initializes all components and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/access"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/auth"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/blob"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/config"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/event"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/ledger"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/publish"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/receipts"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/server"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/storage"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/telemetry"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/wallet"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// devFunding is credited to the wallet on the in-memory ledger.
const devFunding = 100 * model.MistPerSui

// main is the entry point for the academy service.
// It initializes all components, starts the HTTP server, and handles graceful shutdown.
func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging for the application
	logLevel := slog.LevelInfo
	if cfg.Env == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	if _, err := telemetry.InitTracer(telemetry.ServiceName, version); err != nil {
		logger.Error("failed to initialize OpenTelemetry tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(ctx)
	}()

	m := metrics.NewMetrics()

	validator, err := schema.NewValidator()
	if err != nil {
		logger.Error("failed to compile schemas", "error", err)
		os.Exit(1)
	}

	// Receipt log backend: PostgreSQL, Redis, or embedded badger
	kv, err := openKV(cfg)
	if err != nil {
		logger.Error("failed to initialize receipt storage", "error", err)
		os.Exit(1)
	}
	defer kv.Close()

	contract := ledger.NewContract(cfg.PackageID, cfg.Module, cfg.ClockID)
	var chain ledger.Ledger
	switch cfg.Ledger {
	case config.LedgerMemory:
		chain = ledger.NewMemory(contract)
	default:
		chain = ledger.NewRPC(cfg.SuiRPCURL, cfg.GasBudget, m)
	}

	var store blob.Store
	switch cfg.BlobBackend {
	case config.BlobS3:
		s3, err := blob.NewS3(cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey)
		if err != nil {
			logger.Error("failed to initialize s3 blob store", "error", err)
			os.Exit(1)
		}
		store = s3
	case config.BlobMemory:
		store = blob.NewMemory()
	default:
		store = blob.NewWalrus(cfg.WalrusPublisherURL, cfg.WalrusAggregatorURL, cfg.WalrusEpochs)
	}
	store = blob.Instrument(store, cfg.BlobBackend, m)

	// Wallet session; without a key the service runs read-only
	var session wallet.Session = wallet.Disconnected{}
	if cfg.WalletKey != "" {
		priv, err := wallet.ParseKey(cfg.WalletKey)
		if err != nil {
			logger.Error("invalid wallet key", "error", err)
			os.Exit(1)
		}
		kp := wallet.NewKeypair(priv, chain)
		addr, _ := kp.Address()
		if mem, ok := chain.(*ledger.Memory); ok {
			mem.Fund(addr, devFunding)
		}
		logger.Info("wallet connected", "address", addr)
		session = kp
	} else {
		logger.Warn("no wallet key configured; mutating routes will fail with ACD_WALLET_DISCONNECTED")
	}

	// Initialize event publisher (NATS JetStream or no-op)
	pub := event.NewPublisher(cfg.NATSURL, m)
	defer pub.Close()

	log := receipts.NewLog(kv, validator, m)

	svc := access.NewService(access.Config{
		Reader:         chain,
		Transactions:   chain,
		Blobs:          store,
		Contract:       contract,
		Validator:      validator,
		ReconcileDelay: cfg.ReconcileDelay,
		Metrics:        m,
	})
	defer svc.Close()

	pipeline := publish.New(publish.Config{
		Blobs:      store,
		Reader:     chain,
		Session:    session,
		Contract:   contract,
		Validator:  validator,
		Receipts:   log,
		Events:     pub,
		IndexDelay: cfg.IndexDelay,
		Metrics:    m,
	})

	mux := server.NewMux(server.Deps{
		Ledger:             chain,
		Contract:           contract,
		Blobs:              store,
		Flows:              access.NewFlows(svc, session),
		Pipeline:           pipeline,
		Receipts:           log,
		KV:                 kv,
		Events:             pub,
		Verifier:           auth.NewVerifier(cfg.APISecret),
		Metrics:            m,
		MaxUploadSize:      cfg.MaxUploadSize,
		AllowedMimeTypes:   cfg.AllowedMimeTypes,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		WatchInterval:      cfg.AccessPollInterval,
	})

	// Uploads and access streams run long, so only reads of headers are bounded
	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in a separate goroutine
	go func() {
		logger.Info("server starting", "addr", addr, "env", cfg.Env, "ledger", cfg.Ledger, "blob_backend", cfg.BlobBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Handle graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	logger.Info("server exited")
}

// openKV picks the receipt backend: a DSN wins over Redis, which wins over badger.
func openKV(cfg config.Config) (storage.KV, error) {
	switch {
	case cfg.DatabaseDSN != "":
		return storage.NewPostgres(cfg.DatabaseDSN)
	case cfg.RedisAddr != "":
		return storage.NewRedis(cfg.RedisAddr)
	default:
		return storage.NewBadger(cfg.DataDir)
	}
}
