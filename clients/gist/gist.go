package gist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradejournal/config"
)

const (
	defaultBaseURL = "https://api.github.com"
	description    = "trade journal state"
)

// ErrNotFound is returned when the gist or the requested file does not exist.
var ErrNotFound = errors.New("gist: not found")

// Storage is the interface for gist storage operations.
// This allows for easy mocking in tests.
type Storage interface {
	IsEnabled() bool
	Load(ctx context.Context, filename string) (string, error)
	Save(ctx context.Context, filename, content string) error
	LoadJSON(ctx context.Context, filename string, dest any) error
	SaveJSON(ctx context.Context, filename string, data any) error
	GetGistID() string
}

var _ Storage = (*Client)(nil)

// Client is a GitHub Gist API client for storing JSON documents.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	token      string

	mu     sync.RWMutex
	gistID string // If set, updates this gist; otherwise the first save creates one
}

// GistFile represents a file in a gist.
type GistFile struct {
	Filename string `json:"filename,omitempty"`
	Content  string `json:"content"`
}

// Gist represents a GitHub gist.
type Gist struct {
	ID          string              `json:"id"`
	Description string              `json:"description"`
	Public      bool                `json:"public"`
	Files       map[string]GistFile `json:"files"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

type gistRequest struct {
	Description string              `json:"description,omitempty"`
	Public      bool                `json:"public"`
	Files       map[string]GistFile `json:"files"`
}

// NewClient creates a client for the state gist configured in cfg.
func NewClient(logger *zap.Logger, cfg *config.Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	token := cfg.Gist.Token
	if token == "" {
		logger.Warn("GITHUB_TOKEN not set, gist storage will be disabled")
	}

	return &Client{
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		token:      token,
		gistID:     cfg.Gist.GistID,
	}
}

// WithGistID returns a client sharing c's credentials that targets another gist.
func (c *Client) WithGistID(gistID string) *Client {
	return &Client{
		logger:     c.logger,
		httpClient: c.httpClient,
		baseURL:    c.baseURL,
		token:      c.token,
		gistID:     gistID,
	}
}

// IsEnabled returns true if the client has a token.
func (c *Client) IsEnabled() bool {
	return c.token != ""
}

// GetGistID returns the current gist ID.
func (c *Client) GetGistID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gistID
}

// SaveJSON saves data as indented JSON to a gist file.
func (c *Client) SaveJSON(ctx context.Context, filename string, data any) error {
	if !c.IsEnabled() {
		return fmt.Errorf("gist client not configured")
	}

	body, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return c.Save(ctx, filename, string(body))
}

// Save writes content to a gist file, creating the gist on first use.
func (c *Client) Save(ctx context.Context, filename, content string) error {
	if !c.IsEnabled() {
		return fmt.Errorf("gist client not configured")
	}

	body, err := json.Marshal(gistRequest{
		Description: description,
		Files:       map[string]GistFile{filename: {Content: content}},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	gistID := c.GetGistID()
	method, url := http.MethodPost, c.baseURL+"/gists"
	if gistID != "" {
		method, url = http.MethodPatch, c.baseURL+"/gists/"+gistID
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api error status=%d body=%s", resp.StatusCode, string(msg))
	}

	if gistID == "" {
		var created Gist
		if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		c.mu.Lock()
		c.gistID = created.ID
		c.mu.Unlock()
		c.logger.Info("created new gist", zap.String("id", created.ID))
	}

	c.logger.Debug("saved to gist",
		zap.String("filename", filename),
		zap.Int("bytes", len(content)),
	)
	return nil
}

// LoadJSON loads a gist file and unmarshals it into dest.
func (c *Client) LoadJSON(ctx context.Context, filename string, dest any) error {
	content, err := c.Load(ctx, filename)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(content), dest); err != nil {
		return fmt.Errorf("unmarshal json: %w", err)
	}
	return nil
}

// Load returns the content of a gist file.
func (c *Client) Load(ctx context.Context, filename string) (string, error) {
	if !c.IsEnabled() {
		return "", fmt.Errorf("gist client not configured")
	}

	gistID := c.GetGistID()
	if gistID == "" {
		return "", fmt.Errorf("no gist ID configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/gists/"+gistID, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("gist %s: %w", gistID, ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("api error status=%d body=%s", resp.StatusCode, string(msg))
	}

	var g Gist
	if err := json.NewDecoder(resp.Body).Decode(&g); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	file, ok := g.Files[filename]
	if !ok {
		return "", fmt.Errorf("file %q: %w", filename, ErrNotFound)
	}

	c.logger.Debug("loaded from gist",
		zap.String("filename", filename),
		zap.Int("bytes", len(file.Content)),
	)
	return file.Content, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
}
