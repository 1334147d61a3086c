// Package config holds the settings shared by the nessie commands and
// opens the configured storage backend.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andrioni/nessie/internal/assets"
	"github.com/andrioni/nessie/internal/backend/fsstore"
	"github.com/andrioni/nessie/internal/backend/memory"
	"github.com/andrioni/nessie/internal/backend/pebblestore"
	"github.com/andrioni/nessie/internal/logging"
	"github.com/andrioni/nessie/internal/versioned"
)

// DataEnv overrides the default data directory.
const DataEnv = "NESSIE_DATA"

const (
	BackendMemory = "memory"
	BackendFS     = "fs"
	BackendPebble = "pebble"
)

type Config struct {
	Backend        string
	DataDir        string
	CacheSize      int
	CommitAttempts int
	AssetWorkers   int
	LogLevel       string
	MetricsAddr    string
	KuboAPI        string
}

func Default() Config {
	dataDir := ".nessie"
	if env := os.Getenv(DataEnv); env != "" {
		dataDir = env
	}
	return Config{
		Backend:        BackendPebble,
		DataDir:        dataDir,
		CacheSize:      4096,
		CommitAttempts: 5,
		AssetWorkers:   4,
		LogLevel:       "info",
	}
}

// RegisterFlags binds c's fields to fs; current values become the defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Backend, "backend", c.Backend, "Storage backend: memory, fs or pebble")
	fs.StringVar(&c.DataDir, "data", c.DataDir, "Data directory (env "+DataEnv+")")
	fs.IntVar(&c.CacheSize, "cache-size", c.CacheSize, "Decoded commit cache entries")
	fs.IntVar(&c.CommitAttempts, "commit-attempts", c.CommitAttempts, "Commit attempts when another process moves the branch")
	fs.IntVar(&c.AssetWorkers, "asset-workers", c.AssetWorkers, "Concurrent asset deletions")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug, info, warn or error")
	fs.StringVar(&c.MetricsAddr, "metrics", c.MetricsAddr, "Serve Prometheus metrics on this address")
	fs.StringVar(&c.KuboAPI, "kubo-api", c.KuboAPI, "Kubo API URL; enables IPFS asset cleanup")
}

func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendMemory, BackendFS, BackendPebble:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.Backend != BackendMemory && strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, errors.New("data directory is required"))
	}
	if c.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("cache size must be positive, got %d", c.CacheSize))
	}
	if c.CommitAttempts <= 0 {
		errs = append(errs, fmt.Errorf("commit attempts must be positive, got %d", c.CommitAttempts))
	}
	if c.AssetWorkers <= 0 {
		errs = append(errs, fmt.Errorf("asset workers must be positive, got %d", c.AssetWorkers))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %v", versioned.ErrInvalidArgument, err)
	}
	return nil
}

// Logger builds the logger for c.LogLevel.
func (c Config) Logger() *logging.DefaultLogger {
	return logging.NewDefaultLogger(logging.ParseLevel(c.LogLevel))
}

// StoreOptions maps c onto versioned.Options.
func (c Config) StoreOptions(log logging.Logger) versioned.Options {
	return versioned.Options{
		CacheSize:      c.CacheSize,
		CommitAttempts: c.CommitAttempts,
		AssetWorkers:   c.AssetWorkers,
		Logger:         log,
	}
}

// OpenBackend opens the configured backend. Each backend kind keeps its own
// subdirectory, so switching kinds never reads another's files.
func (c Config) OpenBackend() (versioned.Backend, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Backend {
	case BackendMemory:
		return memory.New(), nil
	case BackendFS:
		return fsstore.Open(filepath.Join(c.DataDir, "fs"))
	default:
		if err := os.MkdirAll(c.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", c.DataDir, err)
		}
		return pebblestore.Open(filepath.Join(c.DataDir, "pebble"))
	}
}

// Worker returns the value worker: Kubo-backed when KuboAPI is set, plain
// bytes otherwise.
func (c Config) Worker(log logging.Logger) versioned.Worker[[]byte, string] {
	if c.KuboAPI == "" {
		return versioned.NewWorker[[]byte, string](versioned.BytesSerializer{}, versioned.StringSerializer{})
	}
	return assets.NewWorker(assets.NewClient(c.KuboAPI), log)
}

// Handle is an open store together with the backend and worker under it.
type Handle struct {
	Store   *versioned.Store[[]byte, string]
	Backend versioned.Backend
	Worker  versioned.Worker[[]byte, string]
}

// Close drains the store and closes the backend.
func (h *Handle) Close() error {
	return errors.Join(h.Store.Close(), h.Backend.Close())
}

// OpenStore opens the backend and builds a Store over it.
func (c Config) OpenStore(log logging.Logger) (*Handle, error) {
	backend, err := c.OpenBackend()
	if err != nil {
		return nil, err
	}
	worker := c.Worker(log)
	return &Handle{
		Store:   versioned.New(backend, worker, c.StoreOptions(log)),
		Backend: backend,
		Worker:  worker,
	}, nil
}
