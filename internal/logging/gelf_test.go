package logging

import (
	"log/slog"
	"testing"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs []*gelf.Message
}

func (c *captureWriter) WriteMessage(m *gelf.Message) error {
	c.msgs = append(c.msgs, m)
	return nil
}

func TestGELFHandler_Message(t *testing.T) {
	w := &captureWriter{}
	logger := slog.New(NewGELFHandler(w, "shardfall", slog.LevelInfo))

	logger.With("player", "p-1").WithGroup("claim").Warn("claim lost", "node", "res_1_2_0", "elapsed", 3)
	logger.Debug("filtered")

	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, "claim lost", m.Short)
	assert.Equal(t, "shardfall", m.Facility)
	assert.Equal(t, "1.1", m.Version)
	assert.Equal(t, gelfWarning, m.Level)
	assert.Positive(t, m.TimeUnix)
	assert.Equal(t, "p-1", m.Extra["_player"])
	assert.Equal(t, "res_1_2_0", m.Extra["_claim_node"])
	assert.Equal(t, int64(3), m.Extra["_claim_elapsed"])
}

func TestGELFHandler_GroupAttr(t *testing.T) {
	w := &captureWriter{}
	logger := slog.New(NewGELFHandler(w, "shardfall", nil))
	logger.Info("tick", slog.Group("view", slog.Int("remotes", 2), slog.Bool("synced", true)))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, int64(2), w.msgs[0].Extra["_view_remotes"])
	assert.Equal(t, true, w.msgs[0].Extra["_view_synced"])
	assert.Equal(t, gelfInfo, w.msgs[0].Level)
}

func TestGELFLevel(t *testing.T) {
	assert.Equal(t, gelfDebug, gelfLevel(slog.LevelDebug))
	assert.Equal(t, gelfInfo, gelfLevel(slog.LevelInfo))
	assert.Equal(t, gelfWarning, gelfLevel(slog.LevelWarn))
	assert.Equal(t, gelfError, gelfLevel(slog.LevelError+4))
}

func TestCloseWriter_NonCloser(t *testing.T) {
	assert.NoError(t, CloseWriter(&captureWriter{}))
}
