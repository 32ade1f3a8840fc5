package app

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"tradejournal/clients/syncapi"
	"tradejournal/internal/buffer"
	"tradejournal/internal/gate"
	"tradejournal/internal/normalize"
	"tradejournal/internal/txevent"
)

// monitorResponse is the body of a successful webhook delivery.
type monitorResponse struct {
	OK       bool `json:"ok"`
	Received int  `json:"received"`
}

// IngestHandler accepts webhook deliveries and serves buffered events.
type IngestHandler struct {
	logger *zap.Logger
	gate   *gate.Gate
	buffer *buffer.Buffer

	mu         sync.RWMutex
	normalizer normalize.Normalizer
}

// NewIngestHandler creates a new IngestHandler.
func NewIngestHandler(logger *zap.Logger, g *gate.Gate, b *buffer.Buffer, n normalize.Normalizer) *IngestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestHandler{
		logger:     logger,
		gate:       g,
		buffer:     b,
		normalizer: n,
	}
}

// SetNormalizer replaces the normalizer used for new deliveries.
func (h *IngestHandler) SetNormalizer(n normalize.Normalizer) {
	h.mu.Lock()
	h.normalizer = n
	h.mu.Unlock()
}

func (h *IngestHandler) getNormalizer() normalize.Normalizer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.normalizer
}

// RegisterRoutes registers the ingest routes on the given mux.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /tx/monitor", h.handleMonitor)
	mux.HandleFunc("GET /tx/sync", h.handleSync)
}

// handleMonitor normalizes a webhook payload and buffers the wallet's events.
func (h *IngestHandler) handleMonitor(w http.ResponseWriter, r *http.Request) {
	wallet, err := walletFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.gate.Validate(wallet, secretFromRequest(r)) {
		h.logger.Warn("rejected webhook delivery",
			zap.String("wallet", shortID(wallet)),
			zap.String("remote", r.RemoteAddr),
		)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	txs, err := normalize.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events := h.getNormalizer().FromTransactions(txs, wallet)
	added := 0
	if len(events) > 0 {
		added = h.buffer.Push(wallet, events)
	}

	h.logger.Debug("webhook delivery buffered",
		zap.String("wallet", shortID(wallet)),
		zap.Int("transactions", len(txs)),
		zap.Int("events", len(events)),
		zap.Int("added", added),
	)
	writeJSON(w, http.StatusOK, monitorResponse{OK: true, Received: len(events)})
}

// handleSync returns up to limit buffered events after cursor.
func (h *IngestHandler) handleSync(w http.ResponseWriter, r *http.Request) {
	wallet, err := walletFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	secret, err := bearerTokenFromRequest(r)
	if err != nil || !h.gate.Validate(wallet, secret) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	q := r.URL.Query()
	cursor, err := txevent.ParseCursor(q.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	page := h.buffer.Read(wallet, cursor, limit)
	events := page.Events
	if events == nil {
		events = []txevent.Event{}
	}

	writeJSON(w, http.StatusOK, syncapi.Response{
		OK:         true,
		Wallet:     wallet,
		Events:     events,
		NextCursor: txevent.EncodeCursor(page.NextCursor),
	})
}
