// Package config handles loading and parsing of BoxDrive configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for BoxDrive.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Region string `yaml:"region"`
	// OwnerID is reported as the bucket owner in ListBuckets responses.
	OwnerID string `yaml:"owner_id"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, or error.
	Level string `yaml:"level"`
	// Format is the log output format: text or json.
	Format string `yaml:"format"`
}

// StorageConfig holds object storage backend settings.
type StorageConfig struct {
	// Backend selects the storage backend: memory, local, sqlite,
	// aws, gcp, or azure.
	Backend string `yaml:"backend"`
	// Local holds settings for the local filesystem backend.
	Local LocalConfig `yaml:"local"`
	// SQLite holds settings for the SQLite backend.
	SQLite SQLiteConfig `yaml:"sqlite"`
	// AWSBucket is the upstream S3 bucket for the AWS gateway backend.
	AWSBucket string `yaml:"aws_bucket"`
	// AWSRegion is the AWS region for the AWS gateway backend.
	AWSRegion string `yaml:"aws_region"`
	// AWSPrefix is the optional key prefix for all objects in the upstream bucket.
	AWSPrefix string `yaml:"aws_prefix"`
	// AWSEndpointURL overrides the S3 endpoint, for S3-compatible services.
	AWSEndpointURL string `yaml:"aws_endpoint_url"`
	// AWSUsePathStyle forces path-style addressing on the upstream client.
	AWSUsePathStyle bool `yaml:"aws_use_path_style"`
	// AWSAccessKeyID and AWSSecretAccessKey are optional static credentials.
	// When empty the default AWS credential chain is used.
	AWSAccessKeyID     string `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key"`
	// GCPBucket is the upstream GCS bucket for the GCP gateway backend.
	GCPBucket string `yaml:"gcp_bucket"`
	// GCPProject is the GCP project ID for the GCP gateway backend.
	GCPProject string `yaml:"gcp_project"`
	// GCPPrefix is the optional key prefix for all objects in the upstream bucket.
	GCPPrefix string `yaml:"gcp_prefix"`
	// AzureContainer is the container name for the Azure gateway backend.
	AzureContainer string `yaml:"azure_container"`
	// AzureAccount is the storage account name. Used to construct the account
	// URL https://{account}.blob.core.windows.net when AzureAccountURL is empty.
	AzureAccount string `yaml:"azure_account"`
	// AzureAccountURL is the full storage account URL.
	AzureAccountURL string `yaml:"azure_account_url"`
	// AzurePrefix is the optional key prefix for all blobs in the container.
	AzurePrefix string `yaml:"azure_prefix"`
	// AzureConnectionString authenticates via a connection string when set.
	AzureConnectionString string `yaml:"azure_connection_string"`
	// AzureUseManagedIdentity selects managed identity authentication.
	AzureUseManagedIdentity bool `yaml:"azure_use_managed_identity"`
}

// LocalConfig holds local filesystem storage backend settings.
type LocalConfig struct {
	// RootDir is the base directory for local object storage.
	RootDir string `yaml:"root_dir"`
}

// SQLiteConfig holds SQLite storage backend settings.
type SQLiteConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`
}

// Load reads a YAML configuration file from the given path and returns a
// parsed Config with defaults applied for unset values. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// AccountURL returns the Azure account URL, deriving it from the account
// name when not given explicitly.
func (s *StorageConfig) AccountURL() string {
	if s.AzureAccountURL != "" {
		return s.AzureAccountURL
	}
	if s.AzureAccount != "" {
		return fmt.Sprintf("https://%s.blob.core.windows.net", s.AzureAccount)
	}
	return ""
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    9000,
			Region:  "us-east-1",
			OwnerID: "boxdrive",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Backend: "memory",
			Local: LocalConfig{
				RootDir: "./data/objects",
			},
			SQLite: SQLiteConfig{
				Path: "./data/boxdrive.db",
			},
		},
	}
}

// applyDefaults fills in any fields still at their zero value after
// YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9000
	}
	if cfg.Server.Region == "" {
		cfg.Server.Region = "us-east-1"
	}
	if cfg.Server.OwnerID == "" {
		cfg.Server.OwnerID = "boxdrive"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Storage.Local.RootDir == "" {
		cfg.Storage.Local.RootDir = "./data/objects"
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "./data/boxdrive.db"
	}
}
