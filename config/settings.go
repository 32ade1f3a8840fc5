package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// SettingsFileName is the name of the settings file in the Gist.
	SettingsFileName = "journal_settings.json"

	settingsVersion = 1
)

// SettingsSnapshot represents the settings stored in a Gist.
type SettingsSnapshot struct {
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Config    json.RawMessage `json:"config"`
}

// GistStorage is an interface for Gist operations.
// This allows for easy mocking in tests.
type GistStorage interface {
	IsEnabled() bool
	LoadJSON(ctx context.Context, filename string, dest any) error
	SaveJSON(ctx context.Context, filename string, data any) error
	GetGistID() string
}

// SettingsManager loads tunables from a Gist and applies them to a LiveConfig.
// Secrets never travel through the Gist; they stay as loaded from the environment.
type SettingsManager struct {
	logger     *zap.Logger
	gist       GistStorage
	liveConfig *LiveConfig

	mu          sync.Mutex
	lastApplied time.Time
}

// NewSettingsManager creates a new SettingsManager.
func NewSettingsManager(logger *zap.Logger, gist GistStorage, liveConfig *LiveConfig) *SettingsManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsManager{
		logger:     logger,
		gist:       gist,
		liveConfig: liveConfig,
	}
}

// IsEnabled returns true if settings persistence is available.
func (sm *SettingsManager) IsEnabled() bool {
	return sm.gist != nil && sm.gist.IsEnabled() && sm.gist.GetGistID() != ""
}

// LoadSettings returns base with the Gist settings applied on top.
// A missing or unreadable Gist leaves base unchanged.
func (sm *SettingsManager) LoadSettings(ctx context.Context, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	if !sm.IsEnabled() {
		return base.Clone(), nil
	}

	var snapshot SettingsSnapshot
	if err := sm.gist.LoadJSON(ctx, SettingsFileName, &snapshot); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if snapshot.Version != settingsVersion {
		return nil, fmt.Errorf("unsupported settings version %d", snapshot.Version)
	}
	if len(snapshot.Config) == 0 {
		return base.Clone(), nil
	}

	cfg, err := ConfigFromJSON(snapshot.Config, base)
	if err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}

	sm.mu.Lock()
	sm.lastApplied = snapshot.UpdatedAt
	sm.mu.Unlock()

	sm.logger.Info("loaded settings from gist",
		zap.Time("updated_at", snapshot.UpdatedAt),
		zap.Int("version", snapshot.Version),
	)
	return cfg, nil
}

// SaveSettings saves the current config to Gist.
func (sm *SettingsManager) SaveSettings(ctx context.Context) error {
	if !sm.IsEnabled() {
		return fmt.Errorf("settings gist not configured")
	}

	body, err := json.Marshal(sm.liveConfig.Get())
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	snapshot := SettingsSnapshot{
		Version:   settingsVersion,
		UpdatedAt: time.Now().UTC(),
		Config:    body,
	}
	if err := sm.gist.SaveJSON(ctx, SettingsFileName, snapshot); err != nil {
		return fmt.Errorf("save to gist: %w", err)
	}

	sm.mu.Lock()
	sm.lastApplied = snapshot.UpdatedAt
	sm.mu.Unlock()

	sm.logger.Info("saved settings to gist")
	return nil
}

// Reload applies the Gist settings if they changed since the last load.
// It reports whether the live config was updated.
func (sm *SettingsManager) Reload(ctx context.Context) (bool, error) {
	if !sm.IsEnabled() {
		return false, nil
	}

	var snapshot SettingsSnapshot
	if err := sm.gist.LoadJSON(ctx, SettingsFileName, &snapshot); err != nil {
		return false, fmt.Errorf("load settings: %w", err)
	}

	sm.mu.Lock()
	unchanged := !snapshot.UpdatedAt.After(sm.lastApplied)
	sm.mu.Unlock()
	if unchanged || len(snapshot.Config) == 0 {
		return false, nil
	}

	cfg, err := ConfigFromJSON(snapshot.Config, sm.liveConfig.Get())
	if err != nil {
		return false, fmt.Errorf("decode settings: %w", err)
	}
	if err := sm.liveConfig.Update(cfg); err != nil {
		return false, err
	}

	sm.mu.Lock()
	sm.lastApplied = snapshot.UpdatedAt
	sm.mu.Unlock()

	sm.logger.Info("applied updated settings from gist", zap.Time("updated_at", snapshot.UpdatedAt))
	return true, nil
}

// Run polls the Gist every interval until ctx is cancelled.
func (sm *SettingsManager) Run(ctx context.Context, interval time.Duration) {
	if !sm.IsEnabled() || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sm.Reload(ctx); err != nil {
				sm.logger.Warn("settings reload failed", zap.Error(err))
			}
		}
	}
}

// SettingsInfo provides metadata about the current settings state.
type SettingsInfo struct {
	Source      string    `json:"source"` // "gist" or "env"
	LastUpdated time.Time `json:"last_updated"`
	GistEnabled bool      `json:"gist_enabled"`
	GistID      string    `json:"gist_id,omitempty"`
	IsValid     bool      `json:"is_valid"`
	Errors      []string  `json:"errors,omitempty"`
}

// GetSettingsInfo returns metadata about the current settings.
func (sm *SettingsManager) GetSettingsInfo() SettingsInfo {
	validation := sm.liveConfig.Get().Validate()

	info := SettingsInfo{
		Source:      "env",
		LastUpdated: sm.liveConfig.LastUpdated(),
		GistEnabled: sm.IsEnabled(),
		IsValid:     validation.Valid,
	}
	if info.GistEnabled {
		info.Source = "gist"
		info.GistID = sm.gist.GetGistID()
	}
	for _, e := range validation.Errors {
		info.Errors = append(info.Errors, e.Field+": "+e.Message)
	}
	return info
}
