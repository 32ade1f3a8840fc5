package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradejournal/clients/notifier"
	"tradejournal/config"
)

const telegramAPIURL = "https://api.telegram.org"

// TelegramClient sends entry alerts to Telegram.
// Implements notifier.Notifier interface.
type TelegramClient struct {
	logger   *zap.Logger
	apiURL   string
	botToken string
	chatID   string
	isProd   bool
	client   *http.Client
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	chatID := cfg.Telegram.BetaChatID
	if cfg.IsProd {
		chatID = cfg.Telegram.ProdChatID
	}

	tc := &TelegramClient{
		logger: logger,
		apiURL: telegramAPIURL,
		chatID: chatID,
		isProd: cfg.IsProd,
	}

	token := cfg.Telegram.BotToken
	if token == "" {
		logger.Warn("TELEGRAM_BOT_KEY not set, Telegram alerts disabled")
		return tc
	}
	tc.botToken = token
	tc.client = &http.Client{Timeout: 10 * time.Second}

	logger.Info("telegram bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("chatID", chatID),
	)
	return tc
}

// SendEntryAlert sends an entry alert notification.
// Implements notifier.Notifier interface.
func (tc *TelegramClient) SendEntryAlert(alert notifier.EntryAlert) {
	if tc.botToken == "" || tc.chatID == "" {
		tc.logger.Debug("telegram not configured, skipping alert")
		return
	}

	if err := tc.sendMessage(tc.buildAlertMessage(alert)); err != nil {
		tc.logger.Error("failed to send telegram message", zap.Error(err))
		return
	}

	tc.logger.Info("sent telegram entry alert",
		zap.String("entry_id", alert.EntryID),
		zap.String("token_mint", alert.TokenMint),
	)
}

func (tc *TelegramClient) buildAlertMessage(alert notifier.EntryAlert) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("*%s*\n\n", escapeMarkdown(notifier.Title(alert.Reason))))

	token := escapeMarkdown(notifier.ShortAddress(alert.TokenMint))
	if alert.TokenURL != "" {
		sb.WriteString(fmt.Sprintf("*Token:* [%s](%s)\n", token, alert.TokenURL))
	} else {
		sb.WriteString(fmt.Sprintf("*Token:* %s\n", token))
	}
	wallet := escapeMarkdown(notifier.ShortAddress(alert.Wallet))
	if alert.WalletURL != "" {
		sb.WriteString(fmt.Sprintf("*Wallet:* [%s](%s)\n", wallet, alert.WalletURL))
	} else {
		sb.WriteString(fmt.Sprintf("*Wallet:* %s\n", wallet))
	}
	sb.WriteString(fmt.Sprintf("*Direction:* %s\n\n", escapeMarkdown(alert.Direction)))

	sb.WriteString(fmt.Sprintf("*Bought:* %.4f ($%.2f)\n", alert.BuyAmount, alert.BuyUSD))
	sb.WriteString(fmt.Sprintf("*Sold:* %.4f ($%.2f)\n", alert.SellAmount, alert.SellUSD))
	if alert.HasPnl {
		sign := "+"
		if alert.RealizedPnl < 0 {
			sign = ""
		}
		sb.WriteString(fmt.Sprintf("*Realized P&L:* %s$%.2f\n", sign, alert.RealizedPnl))
	}
	if net := alert.Net(); net > 1e-6 || net < -1e-6 {
		sb.WriteString(fmt.Sprintf("*Open Position:* %.4f\n", net))
	}
	sb.WriteString(fmt.Sprintf("*Transactions:* %d\n", alert.TxCount))

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	sb.WriteString(fmt.Sprintf("\n_trade journal • %s_", ts.UTC().Format("1/2/2006, 3:04:05PM (MST)")))

	return sb.String()
}

func (tc *TelegramClient) sendMessage(text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", tc.apiURL, tc.botToken)

	body, err := json.Marshal(map[string]interface{}{
		"chat_id":    tc.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := tc.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// Close cleans up resources. Implements notifier.Notifier interface.
func (tc *TelegramClient) Close() error {
	return nil
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}

// IsEnabled reports whether alerts will be delivered.
func (tc *TelegramClient) IsEnabled() bool {
	return tc.client != nil && tc.botToken != "" && tc.chatID != ""
}
