package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"tradejournal/clients/syncapi"
)

const maxBodyBytes = 1 << 20

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Server is the HTTP surface: webhook ingress, sync reads, journal API and health.
type Server struct {
	logger     *zap.Logger
	mux        *http.ServeMux
	httpServer *http.Server
}

// RouteRegistrar adds its routes to a mux.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// NewServer creates a Server listening on port. health is served at GET /health.
func NewServer(logger *zap.Logger, port int, health func() HealthStatus, handlers ...RouteRegistrar) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	for _, h := range handlers {
		if h != nil {
			h.RegisterRoutes(mux)
		}
	}
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, health())
	})

	return &Server{
		logger: logger,
		mux:    mux,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("http server started", zap.String("addr", s.httpServer.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown", zap.Error(err))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{OK: false, Error: message})
}

func bearerTokenFromRequest(r *http.Request) (string, error) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if authorization == "" {
		return "", fmt.Errorf("authorization header is required")
	}
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authorization, bearerPrefix) {
		return "", fmt.Errorf("authorization header must use bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(authorization, bearerPrefix))
	if token == "" {
		return "", fmt.Errorf("authorization token is empty")
	}
	return token, nil
}

// secretFromRequest reads the wallet secret from the secret header, falling
// back to a bearer token.
func secretFromRequest(r *http.Request) string {
	if s := strings.TrimSpace(r.Header.Get(syncapi.SecretHeader)); s != "" {
		return s
	}
	token, err := bearerTokenFromRequest(r)
	if err != nil {
		return ""
	}
	return token
}

func decodeJSONBody(r *http.Request, destination any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(destination); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != io.EOF {
		return fmt.Errorf("invalid request body: multiple JSON values")
	}
	return nil
}

// walletFromQuery returns the wallet query parameter if it is a valid Solana address.
func walletFromQuery(r *http.Request) (string, error) {
	wallet := strings.TrimSpace(r.URL.Query().Get("wallet"))
	if wallet == "" {
		return "", fmt.Errorf("wallet is required")
	}
	if _, err := solana.PublicKeyFromBase58(wallet); err != nil {
		return "", fmt.Errorf("invalid wallet: %w", err)
	}
	return wallet, nil
}
