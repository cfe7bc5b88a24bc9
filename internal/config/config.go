package config

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"time"

	"github.com/npezzotti/go-roomchat/internal/database"
)

const (
	DefaultUploadTimeout = 2 * time.Second
	DefaultTokenExpiry   = 24 * time.Hour
)

// Options holds raw configuration values as read from flags, environment
// and config file.
type Options struct {
	ServerAddr     string
	HTTPAddr       string
	DatabaseDriver string
	DatabaseDSN    string
	DataDir        string
	SigningKey     string
	TokenExpiry    time.Duration
	UploadTimeout  time.Duration
	CompressFiles  bool
	AllowedOrigins []string
}

type Config struct {
	ServerAddr     string
	HTTPAddr       string
	DatabaseDriver string
	DatabaseDSN    string
	DataDir        string
	FilesDir       string
	SigningKey     []byte
	TokenExpiry    time.Duration
	UploadTimeout  time.Duration
	CompressFiles  bool
	AllowedOrigins []string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("signing secret is empty")
	}
	return key, nil
}

func NewConfig(opts Options) (*Config, error) {
	if opts.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if opts.DataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}
	if opts.SigningKey == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	dsn := opts.DatabaseDSN
	switch opts.DatabaseDriver {
	case "":
		// in-memory only
	case database.DriverSQLite:
		if dsn == "" {
			dsn = filepath.Join(opts.DataDir, "roomchat.db")
		}
	case database.DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("database DSN cannot be empty for driver %q", opts.DatabaseDriver)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.DatabaseDriver)
	}

	signingKey, err := decodeSigningSecret(opts.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	uploadTimeout := opts.UploadTimeout
	if uploadTimeout <= 0 {
		uploadTimeout = DefaultUploadTimeout
	}

	tokenExpiry := opts.TokenExpiry
	if tokenExpiry <= 0 {
		tokenExpiry = DefaultTokenExpiry
	}

	return &Config{
		ServerAddr:     opts.ServerAddr,
		HTTPAddr:       opts.HTTPAddr,
		DatabaseDriver: opts.DatabaseDriver,
		DatabaseDSN:    dsn,
		DataDir:        opts.DataDir,
		FilesDir:       filepath.Join(opts.DataDir, "files"),
		SigningKey:     signingKey,
		TokenExpiry:    tokenExpiry,
		UploadTimeout:  uploadTimeout,
		CompressFiles:  opts.CompressFiles,
		AllowedOrigins: opts.AllowedOrigins,
	}, nil
}
