// Package factory builds the storage backend named by the store config.
package factory

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shardfall/shardfall/internal/config"
	"github.com/shardfall/shardfall/internal/database"
	"github.com/shardfall/shardfall/internal/storage"
	"github.com/shardfall/shardfall/internal/storage/memory"
	pgstorage "github.com/shardfall/shardfall/internal/storage/postgres"
	sqlitestorage "github.com/shardfall/shardfall/internal/storage/sqlite"
	wsstorage "github.com/shardfall/shardfall/internal/storage/websocket"
)

// Loggers carries both logger flavors; the SQL backends log through zerolog
// and the websocket backend through slog.
type Loggers struct {
	Zerolog zerolog.Logger
	Slog    *slog.Logger
}

// New creates, but does not Init, the configured backend. dataDir holds the
// SQLite fallback and dump files.
func New(cfg config.StoreConfig, dataDir string, start time.Time, log Loggers) (storage.Backend, error) {
	switch cfg.Type {
	case "postgres":
		log.Zerolog.Info().Str("host", cfg.DB.Host).Msg("Postgres storage backend selected")
		return pgstorage.New(pgstorage.Config{
			Postgres: database.PostgresConfig{
				Host:     cfg.DB.Host,
				Port:     cfg.DB.Port,
				Username: cfg.DB.Username,
				Password: cfg.DB.Password,
				Database: cfg.DB.Database,
			},
			FallbackPath: filepath.Join(dataDir, "shardfall_fallback.db"),
			PollInterval: cfg.SQLite.PollInterval,
		}, log.Zerolog), nil

	case "sqlite":
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			Path:         cfg.SQLite.Path,
			PollInterval: cfg.SQLite.PollInterval,
			DumpInterval: cfg.SQLite.DumpInterval,
			DumpPath:     filepath.Join(dataDir, fmt.Sprintf("shardfall_%s.db", start.Format("20060102_150405"))),
		}, log.Zerolog)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		log.Zerolog.Info().Str("path", cfg.SQLite.Path).Msg("SQLite storage backend selected")
		return backend, nil

	case "websocket":
		log.Zerolog.Info().Str("url", cfg.WebSocket.URL).Msg("WebSocket storage backend selected")
		return wsstorage.New(wsstorage.Config{
			URL:          HTTPToWS(cfg.WebSocket.URL),
			Secret:       cfg.WebSocket.Secret,
			Timeout:      cfg.Timeout,
			MaxReconnect: cfg.WebSocket.MaxReconnect,
		}, log.Slog), nil

	case "", "memory":
		log.Zerolog.Info().Msg("Memory storage backend selected")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// HTTPToWS converts an HTTP(S) URL to a WebSocket URL. Other schemes pass
// through unchanged.
func HTTPToWS(rawURL string) string {
	s := strings.TrimRight(rawURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}

// WSToHTTP is the inverse of HTTPToWS and strips a trailing /ws, giving the
// relay's base URL.
func WSToHTTP(rawURL string) string {
	s := strings.TrimRight(rawURL, "/")
	s = strings.TrimSuffix(s, "/ws")
	s = strings.Replace(s, "wss://", "https://", 1)
	s = strings.Replace(s, "ws://", "http://", 1)
	return s
}
