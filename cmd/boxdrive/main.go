// Package main is the entry point for the BoxDrive S3-compatible object
// storage server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/boxdrive/boxdrive/internal/backend"
	"github.com/boxdrive/boxdrive/internal/config"
	"github.com/boxdrive/boxdrive/internal/logging"
	"github.com/boxdrive/boxdrive/internal/metrics"
	"github.com/boxdrive/boxdrive/internal/server"
	"github.com/boxdrive/boxdrive/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 9000)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	backendName := flag.String("backend", "", "override storage backend: memory, local, sqlite, aws, gcp, azure")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "", "log format: text, json")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *backendName != "" {
		cfg.Storage.Backend = *backendName
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	metrics.Register()

	objectStore, err := newStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize storage backend: %v\n", err)
		os.Exit(1)
	}
	defer objectStore.Close()

	srv := server.New(cfg, objectStore)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("BoxDrive listening", "addr", addr, "backend", cfg.Storage.Backend)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}

// newStore constructs the object store selected by the configuration.
func newStore(cfg *config.Config) (store.ObjectStore, error) {
	sc := cfg.Storage

	switch sc.Backend {
	case "", "memory":
		slog.Info("Storage backend initialized", "backend", "memory")
		return backend.NewMemoryStore(), nil

	case "local":
		if err := os.MkdirAll(sc.Local.RootDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage root: %w", err)
		}
		s, err := backend.NewLocalStore(sc.Local.RootDir)
		if err != nil {
			return nil, err
		}
		slog.Info("Storage backend initialized", "backend", "local", "root", sc.Local.RootDir)
		return s, nil

	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(sc.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		s, err := backend.NewSQLiteStore(sc.SQLite.Path)
		if err != nil {
			return nil, err
		}
		slog.Info("Storage backend initialized", "backend", "sqlite", "path", sc.SQLite.Path)
		return s, nil

	case "aws":
		if sc.AWSBucket == "" {
			return nil, fmt.Errorf("storage.aws_bucket is required when backend is 'aws'")
		}
		region := sc.AWSRegion
		if region == "" {
			region = "us-east-1"
		}
		return backend.NewAWSStore(context.Background(), sc.AWSBucket, region, sc.AWSPrefix,
			sc.AWSEndpointURL, sc.AWSUsePathStyle, sc.AWSAccessKeyID, sc.AWSSecretAccessKey)

	case "gcp":
		if sc.GCPBucket == "" {
			return nil, fmt.Errorf("storage.gcp_bucket is required when backend is 'gcp'")
		}
		return backend.NewGCPStore(context.Background(), sc.GCPBucket, sc.GCPProject, sc.GCPPrefix)

	case "azure":
		if sc.AzureContainer == "" {
			return nil, fmt.Errorf("storage.azure_container is required when backend is 'azure'")
		}
		accountURL := sc.AccountURL()
		if accountURL == "" && sc.AzureConnectionString == "" {
			return nil, fmt.Errorf("storage.azure_account, azure_account_url, or azure_connection_string is required when backend is 'azure'")
		}
		return backend.NewAzureStore(context.Background(), sc.AzureContainer, accountURL,
			sc.AzurePrefix, sc.AzureConnectionString, sc.AzureUseManagedIdentity)

	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}
