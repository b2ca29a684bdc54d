package influx

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardfall/shardfall/internal/config"
	"github.com/shardfall/shardfall/internal/resource"
	"github.com/shardfall/shardfall/pkg/core"
)

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(config.InfluxConfig{}, zerolog.Nop())
	assert.Error(t, m.Connect(context.Background()))
	assert.Error(t, m.WritePoint(nil))
}

func TestTelemetry_FallsBackToBackupFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup", "telemetry.lp.gz")
	m := NewManager(config.InfluxConfig{
		Enabled:    true,
		URL:        "http://127.0.0.1:1",
		Org:        "shardfall",
		Bucket:     "gameplay",
		BackupPath: path,
	}, zerolog.Nop())
	require.NoError(t, m.Connect(context.Background()))
	assert.False(t, m.IsValid)

	now := time.Unix(1_700_000_000, 0)
	tel := NewTelemetry(m, "s-1", func() time.Time { return now })
	node := resource.NewNode(core.Position{X: 1, Y: 2}, core.Epic)
	tel.GatherCompleted("p-1", node)
	tel.ClaimRejected("p-1", node, "p-2")
	tel.ClaimLost("p-1", node, "p-3")
	tel.RemotePlayers("p-1", 4)
	assert.Equal(t, 4, m.Written())
	require.NoError(t, m.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "gather_completed,"))
	assert.Contains(t, lines[0], "rarity=EPIC")
	assert.Contains(t, lines[0], "session=s-1")
	assert.Contains(t, lines[0], "shards=100i")
	assert.Contains(t, lines[1], `holder="p-2"`)
	assert.Contains(t, lines[2], `winner="p-3"`)
	assert.Contains(t, lines[3], "count=4i")
}
