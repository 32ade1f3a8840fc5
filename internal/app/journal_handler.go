package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tradejournal/internal/gate"
	"tradejournal/internal/journal"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = 70 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Syncer triggers an immediate sync pass.
type Syncer interface {
	SyncNow(ctx context.Context) (SyncResult, error)
}

// confirmRequest is the body of POST /journal/entries/{id}/confirm.
type confirmRequest struct {
	Notes       string   `json:"notes"`
	Tags        []string `json:"tags"`
	Emotion     string   `json:"emotion"`
	FromArchive bool     `json:"fromArchive"`
}

type entryResponse struct {
	OK    bool          `json:"ok"`
	Entry journal.Entry `json:"entry"`
}

type collectionsResponse struct {
	OK bool `json:"ok"`
	journal.Collections
}

type syncResponse struct {
	OK     bool       `json:"ok"`
	Result SyncResult `json:"result"`
}

// JournalHandler serves the journal owner's entry API and change stream.
// Every route authenticates with the journal wallet's secret.
type JournalHandler struct {
	logger *zap.Logger
	book   *journal.Book
	gate   *gate.Gate
	syncer Syncer

	mu     sync.RWMutex
	wallet string
}

// NewJournalHandler creates a new JournalHandler. syncer may be nil when no
// sync loop runs.
func NewJournalHandler(logger *zap.Logger, book *journal.Book, g *gate.Gate, syncer Syncer, wallet string) *JournalHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JournalHandler{
		logger: logger,
		book:   book,
		gate:   g,
		syncer: syncer,
		wallet: wallet,
	}
}

// Wallet returns the journal owner's wallet.
func (h *JournalHandler) Wallet() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.wallet
}

// SetWallet changes the journal owner's wallet.
func (h *JournalHandler) SetWallet(wallet string) {
	h.mu.Lock()
	h.wallet = wallet
	h.mu.Unlock()
}

// RegisterRoutes registers the journal routes on the given mux.
func (h *JournalHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /journal/entries", h.requireAuth(h.handleList))
	mux.HandleFunc("GET /journal/entries/{id}", h.requireAuth(h.handleGet))
	mux.HandleFunc("POST /journal/entries/{id}/archive", h.requireAuth(h.handleArchive))
	mux.HandleFunc("POST /journal/entries/{id}/confirm", h.requireAuth(h.handleConfirm))
	mux.HandleFunc("DELETE /journal/entries/{id}", h.requireAuth(h.handleDelete))
	mux.HandleFunc("POST /journal/sync", h.requireAuth(h.handleSync))
	mux.HandleFunc("GET /journal/ws", h.requireAuth(h.handleWebSocket))
}

// requireAuth rejects requests that do not carry the journal wallet's secret.
// Browsers cannot set headers on websocket upgrades, so a token query
// parameter is accepted as well.
func (h *JournalHandler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wallet := h.Wallet()
		if wallet == "" {
			writeError(w, http.StatusServiceUnavailable, "journal wallet not configured")
			return
		}
		secret := secretFromRequest(r)
		if secret == "" {
			secret = strings.TrimSpace(r.URL.Query().Get("token"))
		}
		if !h.gate.Validate(wallet, secret) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (h *JournalHandler) handleList(w http.ResponseWriter, r *http.Request) {
	collections, err := h.book.Collections(r.Context())
	if err != nil {
		h.writeBookError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, collectionsResponse{OK: true, Collections: collections})
}

func (h *JournalHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.book.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeBookError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entry": view})
}

func (h *JournalHandler) handleArchive(w http.ResponseWriter, r *http.Request) {
	entry, err := h.book.Archive(r.Context(), r.PathValue("id"), journal.ReasonManual)
	if err != nil {
		h.writeBookError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entryResponse{OK: true, Entry: entry})
}

func (h *JournalHandler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.book.Confirm(r.Context(), r.PathValue("id"), journal.Enrichment{
		Notes:   req.Notes,
		Tags:    req.Tags,
		Emotion: req.Emotion,
	}, req.FromArchive)
	if err != nil {
		h.writeBookError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entryResponse{OK: true, Entry: entry})
}

func (h *JournalHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.book.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeBookError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *JournalHandler) handleSync(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "sync loop not running")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	result, err := h.syncer.SyncNow(ctx)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, ErrSyncStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		h.logger.Warn("manual sync failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{OK: true, Result: result})
}

// handleWebSocket streams every entry change as a JSON frame.
func (h *JournalHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	changes, unsubscribe := h.book.Subscribe(64)
	defer unsubscribe()

	// Read pump: only control frames are expected; any error ends the stream.
	closed := make(chan struct{})
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	h.logger.Debug("journal websocket connected", zap.String("remote", r.RemoteAddr))
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case change, ok := <-changes:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(change); err != nil {
				return // Client disconnected
			}
		}
	}
}

func (h *JournalHandler) writeBookError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, journal.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, journal.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, journal.ErrInvariantViolation):
		h.logger.Error("journal invariant violated", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		h.logger.Error("journal request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
