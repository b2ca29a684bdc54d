package pgstorage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardfall/shardfall/internal/database"
	"github.com/shardfall/shardfall/internal/storage"
)

var _ storage.Backend = (*Backend)(nil)

func TestInit_FallsBackToSqlite(t *testing.T) {
	if os.Getenv("SHARDFALL_TEST_NO_NETWORK") != "" {
		t.Skip("network disabled")
	}
	b := New(Config{
		Postgres:     database.PostgresConfig{Host: "127.0.0.1", Port: "1", Username: "u", Password: "p", Database: "d"},
		FallbackPath: filepath.Join(t.TempDir(), "fallback.db"),
		PollInterval: time.Second,
	}, zerolog.Nop())
	require.NoError(t, b.Init())
	defer b.Close()

	assert.True(t, b.Local())
	require.NoError(t, b.Write(context.Background(), "players/p", json.RawMessage(`{}`)))
	snap, err := b.Read(context.Background(), "players/p")
	require.NoError(t, err)
	assert.True(t, snap.Exists())
}
