package player

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const identityFile = "identity.json"

// Identity is who the local player is. The id survives restarts.
type Identity struct {
	ID          string `mapstructure:"id"`
	DisplayName string `mapstructure:"displayName"`
	Color       string `mapstructure:"color"`
}

var palette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
}

// LoadOrCreateIdentity reads dataDir/identity.json, creating it with a fresh
// id and color when missing. A non-empty displayName overrides the stored one.
func LoadOrCreateIdentity(dataDir, displayName string) (Identity, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return Identity{}, fmt.Errorf("creating data dir: %w", err)
	}
	path := filepath.Join(dataDir, identityFile)

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	var id Identity
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Identity{}, fmt.Errorf("reading identity: %w", err)
			}
		}
	} else if err := v.Unmarshal(&id); err != nil {
		return Identity{}, fmt.Errorf("decoding identity: %w", err)
	}

	dirty := false
	if _, err := uuid.Parse(id.ID); err != nil {
		id.ID = uuid.NewString()
		dirty = true
	}
	if id.Color == "" {
		id.Color = palette[rand.IntN(len(palette))]
		dirty = true
	}
	if displayName != "" && displayName != id.DisplayName {
		id.DisplayName = displayName
		dirty = true
	}
	if id.DisplayName == "" {
		id.DisplayName = "Gatherer-" + id.ID[:4]
		dirty = true
	}
	if !dirty {
		return id, nil
	}

	v.Set("id", id.ID)
	v.Set("displayName", id.DisplayName)
	v.Set("color", id.Color)
	if err := v.WriteConfigAs(path); err != nil {
		return Identity{}, fmt.Errorf("writing identity: %w", err)
	}
	return id, nil
}
