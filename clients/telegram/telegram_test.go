package telegram

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"tradejournal/clients/notifier"
	"tradejournal/config"
)

func TestNewTelegramClient_NoToken(t *testing.T) {
	cfg := &config.Config{
		Telegram: config.TelegramConfig{ProdChatID: "prod-chat", BetaChatID: "beta-chat"},
	}

	client := NewTelegramClient(zap.NewNop(), cfg)

	if client.botToken != "" {
		t.Error("expected empty bot token")
	}
	if client.client != nil {
		t.Error("expected nil http client without token")
	}
	if client.chatID != "beta-chat" {
		t.Errorf("expected beta chat, got: %s", client.chatID)
	}
}

func TestNewTelegramClient_ProdChat(t *testing.T) {
	cfg := &config.Config{
		IsProd:   true,
		Telegram: config.TelegramConfig{BotToken: "token", ProdChatID: "prod-chat", BetaChatID: "beta-chat"},
	}

	client := NewTelegramClient(nil, cfg)

	if client.chatID != "prod-chat" {
		t.Errorf("expected prod chat, got: %s", client.chatID)
	}
	if client.client == nil {
		t.Error("expected http client with token")
	}
}

func TestSendEntryAlert_NotConfigured(t *testing.T) {
	client := &TelegramClient{logger: zap.NewNop()}
	// Should not panic
	client.SendEntryAlert(notifier.EntryAlert{EntryID: "e1"})
}

func TestSendEntryAlert_Success(t *testing.T) {
	var got map[string]interface{}
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := &TelegramClient{
		logger:   zap.NewNop(),
		apiURL:   server.URL,
		botToken: "test-token",
		chatID:   "test-chat",
		client:   server.Client(),
	}

	client.SendEntryAlert(notifier.EntryAlert{EntryID: "e1", Reason: notifier.AlertReasonFullExit})

	if path != "/bottest-token/sendMessage" {
		t.Errorf("unexpected path %s", path)
	}
	if got["chat_id"] != "test-chat" || got["parse_mode"] != "Markdown" {
		t.Errorf("unexpected payload %v", got)
	}
}

func TestSendMessage_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := &TelegramClient{
		logger:   zap.NewNop(),
		apiURL:   server.URL,
		botToken: "test-token",
		chatID:   "test-chat",
		client:   server.Client(),
	}

	if err := client.sendMessage("hi"); err == nil {
		t.Error("expected error on non-200 status")
	}
}

func TestBuildAlertMessage(t *testing.T) {
	tc := &TelegramClient{logger: zap.NewNop()}
	alert := notifier.EntryAlert{
		EntryID:     "e1",
		Wallet:      "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		WalletURL:   "https://solscan.io/account/9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		TokenMint:   "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263",
		Direction:   "long",
		BuyAmount:   10,
		SellAmount:  10,
		BuyUSD:      10,
		SellUSD:     12,
		RealizedPnl: 2,
		HasPnl:      true,
		TxCount:     2,
		Reason:      notifier.AlertReasonFullExit,
		Timestamp:   time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC),
	}

	msg := tc.buildAlertMessage(alert)

	for _, want := range []string{
		"*✅ Position Closed*",
		"*Token:* DezXAZ…pPB263",
		"*Wallet:* [9xQeWv…usVFin](https://solscan.io/account/",
		"*Realized P&L:* +$2.00",
		"*Transactions:* 2",
		"1/2/2024, 3:04:05PM (UTC)",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected message to contain %q, got:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "Open Position") {
		t.Error("expected no open position line for a flat entry")
	}
}

func TestBuildAlertMessage_OpenNoPnl(t *testing.T) {
	tc := &TelegramClient{logger: zap.NewNop()}
	msg := tc.buildAlertMessage(notifier.EntryAlert{
		TokenMint:  "mint",
		Direction:  "short",
		SellAmount: 3,
		Reason:     notifier.AlertReasonExpired,
	})

	if strings.Contains(msg, "Realized P&L") {
		t.Error("expected no P&L line without a realized figure")
	}
	if !strings.Contains(msg, "*Open Position:* -3.0000") {
		t.Errorf("expected open short position, got:\n%s", msg)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"a_b", "a\\_b"},
		{"*bold*", "\\*bold\\*"},
		{"[x](y)", "\\[x\\](y)"},
		{"`code`", "\\`code\\`"},
	}
	for _, tt := range tests {
		if got := escapeMarkdown(tt.in); got != tt.want {
			t.Errorf("escapeMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsEnabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TelegramConfig
		want bool
	}{
		{"configured", config.TelegramConfig{BotToken: "token", BetaChatID: "chat"}, true},
		{"no token", config.TelegramConfig{BetaChatID: "chat"}, false},
		{"no chat", config.TelegramConfig{BotToken: "token"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewTelegramClient(nil, &config.Config{Telegram: tt.cfg})
			if got := client.IsEnabled(); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
