package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"tradejournal/clients/gist"
	"tradejournal/clients/notifier"
	"tradejournal/clients/syncapi"
	"tradejournal/internal/journal"
	"tradejournal/internal/txevent"
)

const (
	testWallet      = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	testOtherWallet = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	testMint        = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	testSecret      = "s3cret"
)

// MockGistStorage is a mock implementation of gist.Storage for testing.
type MockGistStorage struct {
	mu      sync.RWMutex
	files   map[string]string
	gistID  string
	enabled bool
	loadErr error
	saveErr error
	saves   int
}

var _ gist.Storage = (*MockGistStorage)(nil)

// NewMockGistStorage creates a new mock gist storage.
func NewMockGistStorage() *MockGistStorage {
	return &MockGistStorage{
		files:   make(map[string]string),
		gistID:  "mock-gist-id",
		enabled: true,
	}
}

// IsEnabled returns whether the mock is enabled.
func (m *MockGistStorage) IsEnabled() bool {
	return m.enabled
}

// Load returns stored content for a filename, or gist.ErrNotFound.
func (m *MockGistStorage) Load(ctx context.Context, filename string) (string, error) {
	if m.loadErr != nil {
		return "", m.loadErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.files[filename]
	if !ok {
		return "", fmt.Errorf("%w: %s", gist.ErrNotFound, filename)
	}
	return content, nil
}

// Save stores content for a filename.
func (m *MockGistStorage) Save(ctx context.Context, filename, content string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[filename] = content
	m.saves++
	return nil
}

// LoadJSON loads JSON data from a file.
func (m *MockGistStorage) LoadJSON(ctx context.Context, filename string, dest any) error {
	content, err := m.Load(ctx, filename)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(content), dest)
}

// SaveJSON saves JSON data to a file.
func (m *MockGistStorage) SaveJSON(ctx context.Context, filename string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return m.Save(ctx, filename, string(jsonData))
}

// GetGistID returns the mock gist ID.
func (m *MockGistStorage) GetGistID() string {
	return m.gistID
}

// SetContent sets the content for a filename.
func (m *MockGistStorage) SetContent(filename, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[filename] = content
}

// GetContent returns the content for a filename.
func (m *MockGistStorage) GetContent(filename string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.files[filename]
}

// Saves returns the number of successful saves.
func (m *MockGistStorage) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

type fetchCall struct {
	wallet, secret, cursor string
	limit                  int
}

// MockEventSource serves canned pages in order.
type MockEventSource struct {
	mu    sync.Mutex
	pages []syncapi.Page
	err   error
	calls []fetchCall

	// When set, Fetch signals started and waits for release.
	started chan struct{}
	release chan struct{}

	// onFetch runs before the page is returned.
	onFetch func()
}

// Fetch implements EventSource.
func (m *MockEventSource) Fetch(ctx context.Context, wallet, secret, cursor string, limit int) (syncapi.Page, error) {
	m.mu.Lock()
	m.calls = append(m.calls, fetchCall{wallet, secret, cursor, limit})
	started, release, onFetch := m.started, m.release, m.onFetch
	m.mu.Unlock()

	if onFetch != nil {
		onFetch()
	}

	if started != nil {
		started <- struct{}{}
		<-release
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return syncapi.Page{}, m.err
	}
	if len(m.pages) == 0 {
		return syncapi.Page{}, nil
	}
	page := m.pages[0]
	m.pages = m.pages[1:]
	return page, nil
}

// Calls returns a copy of the recorded calls.
func (m *MockEventSource) Calls() []fetchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]fetchCall(nil), m.calls...)
}

// MockNotifier records alerts.
type MockNotifier struct {
	mu     sync.Mutex
	alerts []notifier.EntryAlert
	delay  time.Duration
	closed bool
}

// SendEntryAlert implements notifier.Notifier.
func (m *MockNotifier) SendEntryAlert(alert notifier.EntryAlert) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
}

// Close implements notifier.Notifier.
func (m *MockNotifier) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Alerts returns a copy of the recorded alerts.
func (m *MockNotifier) Alerts() []notifier.EntryAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notifier.EntryAlert(nil), m.alerts...)
}

func newTestBook(t *testing.T) (*journal.Book, *journal.MemoryStore) {
	t.Helper()
	store := journal.NewMemoryStore()
	return journal.NewBook(zap.NewNop(), store), store
}

func usd(v float64) *float64 {
	return &v
}

func swapEvent(sig string, typ txevent.Type, blockTime int64, amount, amountUSD float64) txevent.Event {
	return txevent.Event{
		Signature:   sig,
		Wallet:      testWallet,
		BlockTime:   blockTime,
		TokenMint:   testMint,
		Type:        typ,
		AmountToken: amount,
		AmountUSD:   usd(amountUSD),
	}
}
