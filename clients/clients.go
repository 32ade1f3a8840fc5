package clients

import (
	"go.uber.org/zap"

	"tradejournal/clients/discord"
	"tradejournal/clients/gist"
	"tradejournal/clients/notifier"
	"tradejournal/clients/syncapi"
	"tradejournal/clients/telegram"
	"tradejournal/config"
)

type Clients struct {
	Logger *zap.Logger

	Discord  *discord.DiscordClient
	Telegram *telegram.TelegramClient
	Notifier notifier.Notifier // Combined notifier for all channels
	Gist     *gist.Client      // State snapshot gist
	Settings *gist.Client      // Settings gist, nil when SETTINGS_GIST_ID is unset
	SyncAPI  *syncapi.Client   // nil when syncing from the in-process buffer
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	if logger == nil {
		logger = zap.NewNop()
	}

	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)
	gistClient := gist.NewClient(logger, cfg)

	c := &Clients{
		Logger:   logger,
		Discord:  discordClient,
		Telegram: telegramClient,
		Notifier: notifier.NewMultiNotifier(discordClient, telegramClient),
		Gist:     gistClient,
	}

	if cfg.Gist.SettingsGistID != "" {
		c.Settings = gistClient.WithGistID(cfg.Gist.SettingsGistID)
	}

	if cfg.Sync.BaseURL != "" {
		c.SyncAPI = syncapi.NewClient(logger, cfg)
	}

	return c
}

// Close releases notifier resources.
func (c *Clients) Close() error {
	if c.Notifier == nil {
		return nil
	}
	return c.Notifier.Close()
}
