// Package store persists the small bits of widget state that must survive a
// process restart: the configured agent plus cosmetic preferences, and the
// expand/collapse state. Writes are rare and user-initiated, so both stores
// are last-writer-wins with no locking.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// PersistedConfig is the host-facing widget configuration written at
// explicit configure time.
type PersistedConfig struct {
	AgentID   string `mapstructure:"agent_id"`
	Variant   string `mapstructure:"variant"`
	AvatarURL string `mapstructure:"avatar_url"`
}

type ConfigStore struct {
	path string
}

func NewConfigStore(path string) *ConfigStore {
	return &ConfigStore{path: path}
}

// Load reads the persisted configuration. A missing file is not an error;
// it yields the zero config.
func (s *ConfigStore) Load() (PersistedConfig, error) {
	v := viper.New()
	v.SetConfigFile(s.path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return PersistedConfig{}, nil
		}
		return PersistedConfig{}, fmt.Errorf("read persisted config: %w", err)
	}
	var cfg PersistedConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return PersistedConfig{}, fmt.Errorf("unmarshal persisted config: %w", err)
	}
	return cfg, nil
}

// Save overwrites the persisted configuration.
func (s *ConfigStore) Save(cfg PersistedConfig) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	v := viper.New()
	v.Set("agent_id", cfg.AgentID)
	v.Set("variant", cfg.Variant)
	v.Set("avatar_url", cfg.AvatarURL)
	if err := v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write persisted config: %w", err)
	}
	return nil
}

// WidgetState is the cosmetic state restored on the next boot.
type WidgetState struct {
	Expanded           bool   `json:"expanded"`
	LastConversationID string `json:"last_conversation_id,omitempty"`
}

type StateStore struct {
	path string
}

func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Load reads the widget state; a missing file yields the zero state.
func (s *StateStore) Load() (WidgetState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return WidgetState{}, nil
		}
		return WidgetState{}, fmt.Errorf("read widget state: %w", err)
	}
	var st WidgetState
	if err := json.Unmarshal(data, &st); err != nil {
		return WidgetState{}, fmt.Errorf("unmarshal widget state: %w", err)
	}
	return st, nil
}

// Save overwrites the widget state.
func (s *StateStore) Save(st WidgetState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal widget state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write widget state: %w", err)
	}
	return nil
}
