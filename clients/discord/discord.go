package discord

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"tradejournal/clients/notifier"
	"tradejournal/config"
)

const (
	colorProfit  = 0x2ECC71
	colorLoss    = 0xE74C3C
	colorNeutral = 0x95A5A6
)

// DiscordClient sends entry alerts to Discord.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
	isProd    bool
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.Discord.BetaChannelID
	if cfg.IsProd {
		channelID = cfg.Discord.ProdChannelID
	}

	dc := &DiscordClient{
		logger:    logger,
		channelID: channelID,
		isProd:    cfg.IsProd,
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return dc
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return dc
	}
	dc.session = session

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", channelID),
	)
	return dc
}

// SendEntryAlert sends a rich embedded entry alert.
// Implements notifier.Notifier interface.
func (dc *DiscordClient) SendEntryAlert(alert notifier.EntryAlert) {
	if dc.session == nil || dc.channelID == "" {
		dc.logger.Debug("discord not configured, skipping alert")
		return
	}

	if _, err := dc.session.ChannelMessageSendEmbed(dc.channelID, dc.buildEntryEmbed(alert)); err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord entry alert",
		zap.String("entry_id", alert.EntryID),
		zap.String("token_mint", alert.TokenMint),
	)
}

func (dc *DiscordClient) buildEntryEmbed(alert notifier.EntryAlert) *discordgo.MessageEmbed {
	color := colorNeutral
	pnlStr := "N/A"
	if alert.HasPnl {
		color = colorProfit
		sign := "+"
		if alert.RealizedPnl < 0 {
			color = colorLoss
			sign = ""
		}
		pnlStr = fmt.Sprintf("%s$%.2f", sign, alert.RealizedPnl)
	}

	token := notifier.ShortAddress(alert.TokenMint)
	if alert.TokenURL != "" {
		token = fmt.Sprintf("[%s](%s)", token, alert.TokenURL)
	}
	wallet := notifier.ShortAddress(alert.Wallet)
	if alert.WalletURL != "" {
		wallet = fmt.Sprintf("[%s](%s)", wallet, alert.WalletURL)
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Token", Value: token, Inline: true},
		{Name: "Wallet", Value: wallet, Inline: true},
		{Name: "Direction", Value: alert.Direction, Inline: true},
		{Name: "Bought", Value: fmt.Sprintf("%.4f ($%.2f)", alert.BuyAmount, alert.BuyUSD), Inline: true},
		{Name: "Sold", Value: fmt.Sprintf("%.4f ($%.2f)", alert.SellAmount, alert.SellUSD), Inline: true},
		{Name: "Realized P&L", Value: pnlStr, Inline: true},
	}
	if net := alert.Net(); net > 1e-6 || net < -1e-6 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Open Position", Value: fmt.Sprintf("%.4f", net), Inline: true,
		})
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	description := fmt.Sprintf("%d transactions", alert.TxCount)
	if !alert.OpenedAt.IsZero() {
		description += fmt.Sprintf(" over %s", ts.Sub(alert.OpenedAt).Round(time.Minute))
	}

	return &discordgo.MessageEmbed{
		Title:       notifier.Title(alert.Reason),
		URL:         alert.TokenURL,
		Description: description,
		Color:       color,
		Fields:      fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("trade journal * entry %s", alert.EntryID),
		},
		Timestamp: ts.UTC().Format(time.RFC3339),
	}
}

// Close closes the Discord session.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}

// IsEnabled reports whether alerts will be delivered.
func (dc *DiscordClient) IsEnabled() bool {
	return dc.session != nil && dc.channelID != ""
}
