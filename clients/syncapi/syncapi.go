// Package syncapi reads a wallet's buffered events from a remote ingestion service.
package syncapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradejournal/config"
	"tradejournal/internal/txevent"
)

// SecretHeader carries the wallet secret on ingestion requests.
const SecretHeader = "x-sparkfined-secret"

// ErrUnauthorized is returned when the service rejects the wallet secret.
var ErrUnauthorized = errors.New("syncapi: unauthorized")

// Page is one batch of events after a cursor.
type Page struct {
	Events     []txevent.Event
	NextCursor string // empty when the service returned no cursor
}

// Response is the wire shape of GET /tx/sync.
type Response struct {
	OK         bool            `json:"ok"`
	Wallet     string          `json:"wallet,omitempty"`
	Events     []txevent.Event `json:"events"`
	NextCursor *string         `json:"nextCursor"`
	Error      string          `json:"error,omitempty"`
}

// Client calls the sync endpoint of an ingestion service.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a Client for cfg.Sync.BaseURL.
func NewClient(logger *zap.Logger, cfg *config.Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Sync.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.Sync.BaseURL, "/"),
	}
}

// IsEnabled reports whether a remote service is configured.
func (c *Client) IsEnabled() bool {
	return c.baseURL != ""
}

// Fetch returns up to limit events strictly after cursor.
func (c *Client) Fetch(ctx context.Context, wallet, secret, cursor string, limit int) (Page, error) {
	if !c.IsEnabled() {
		return Page{}, fmt.Errorf("sync api not configured")
	}
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return Page{}, fmt.Errorf("wallet is empty")
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return Page{}, fmt.Errorf("invalid base url: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/tx/sync"

	q := u.Query()
	q.Set("wallet", wallet)
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Page{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Page{}, ErrUnauthorized
	}
	if resp.StatusCode/100 != 2 {
		return Page{}, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return Page{}, fmt.Errorf("decode json: %w", err)
	}
	if !out.OK {
		return Page{}, fmt.Errorf("sync failed: %s", out.Error)
	}

	page := Page{Events: out.Events}
	if out.NextCursor != nil {
		page.NextCursor = *out.NextCursor
	}

	c.logger.Debug("fetched sync page",
		zap.String("wallet", wallet),
		zap.Int("events", len(page.Events)),
		zap.Bool("has_cursor", page.NextCursor != ""),
	)
	return page, nil
}
