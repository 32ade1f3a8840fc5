package clients

import (
	"testing"

	"go.uber.org/zap"

	"tradejournal/config"
)

func TestNewClients(t *testing.T) {
	cfg := config.Defaults()
	cfg.Discord.BetaChannelID = "beta"
	cfg.Gist.Token = "gh"
	cfg.Gist.GistID = "state"
	cfg.Gist.SettingsGistID = "settings"
	cfg.Sync.BaseURL = "https://ingest.example.com"

	logger := zap.NewNop()
	clients := NewClients(logger, cfg)

	if clients.Logger != logger {
		t.Error("unexpected logger")
	}
	if clients.Discord == nil || clients.Telegram == nil || clients.Notifier == nil {
		t.Error("expected notification clients to be set")
	}
	if clients.Gist == nil || clients.Gist.GetGistID() != "state" {
		t.Error("expected state gist client")
	}
	if clients.Settings == nil || clients.Settings.GetGistID() != "settings" {
		t.Error("expected settings gist client")
	}
	if clients.SyncAPI == nil || !clients.SyncAPI.IsEnabled() {
		t.Error("expected sync api client when a base URL is configured")
	}
	if err := clients.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}

func TestNewClients_LocalMode(t *testing.T) {
	clients := NewClients(nil, config.Defaults())

	if clients.Logger == nil {
		t.Error("expected a default logger")
	}
	if clients.SyncAPI != nil {
		t.Error("expected no sync api client without a base URL")
	}
	if clients.Settings != nil {
		t.Error("expected no settings gist without an ID")
	}
	if clients.Gist.IsEnabled() {
		t.Error("expected gist disabled without token")
	}
}
