// Package pgstorage runs the document store on Postgres, falling back to a
// local SQLite file when Postgres is unreachable.
package pgstorage

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/shardfall/shardfall/internal/database"
	gormstorage "github.com/shardfall/shardfall/internal/storage/gorm"
)

// Config holds configuration for the Postgres storage backend.
type Config struct {
	Postgres     database.PostgresConfig
	FallbackPath string
	PollInterval time.Duration
}

// Backend implements storage.Backend on Postgres.
type Backend struct {
	*gormstorage.Backend
	cfg     Config
	manager *database.Manager
}

// New creates a backend; the connection is made in Init.
func New(cfg Config, log zerolog.Logger) *Backend {
	m := database.NewManager(log)
	m.SqliteFilePath = cfg.FallbackPath
	return &Backend{cfg: cfg, manager: m}
}

// Init connects, migrates and starts polling for writes from other clients.
func (b *Backend) Init() error {
	if err := b.manager.Connect(b.cfg.Postgres); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:           b.manager.DB,
		Logger:       b.manager.Logger,
		PollInterval: b.cfg.PollInterval,
	})
	return b.Backend.Init()
}

// Local reports whether Init fell back to SQLite.
func (b *Backend) Local() bool {
	return b.manager.ShouldSaveLocal
}

// Close stops the document store and closes the connection.
func (b *Backend) Close() error {
	var err error
	if b.Backend != nil {
		err = b.Backend.Close()
	}
	if cerr := b.manager.Close(); err == nil {
		err = cerr
	}
	return err
}
