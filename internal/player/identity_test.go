package player

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateIdentity_Persists(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreateIdentity(dir, "")
	require.NoError(t, err)
	_, err = uuid.Parse(first.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, first.Color)
	assert.Equal(t, "Gatherer-"+first.ID[:4], first.DisplayName)

	second, err := LoadOrCreateIdentity(dir, "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadOrCreateIdentity_RenameKeepsID(t *testing.T) {
	dir := t.TempDir()
	first, err := LoadOrCreateIdentity(dir, "Ann")
	require.NoError(t, err)
	assert.Equal(t, "Ann", first.DisplayName)

	renamed, err := LoadOrCreateIdentity(dir, "Bob")
	require.NoError(t, err)
	assert.Equal(t, first.ID, renamed.ID)
	assert.Equal(t, "Bob", renamed.DisplayName)

	again, err := LoadOrCreateIdentity(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "Bob", again.DisplayName)
}
