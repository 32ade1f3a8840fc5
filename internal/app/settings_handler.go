package app

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"tradejournal/config"
)

// SettingsHandler exposes the runtime tunables. Secrets never appear in
// responses and cannot be set through it.
type SettingsHandler struct {
	logger     *zap.Logger
	liveConfig *config.LiveConfig
	settings   *config.SettingsManager // nil when no settings gist is configured
	auth       func(http.HandlerFunc) http.HandlerFunc
}

// NewSettingsHandler creates a new SettingsHandler. auth wraps every route.
func NewSettingsHandler(
	logger *zap.Logger,
	liveConfig *config.LiveConfig,
	settings *config.SettingsManager,
	auth func(http.HandlerFunc) http.HandlerFunc,
) *SettingsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auth == nil {
		auth = func(next http.HandlerFunc) http.HandlerFunc { return next }
	}
	return &SettingsHandler{
		logger:     logger,
		liveConfig: liveConfig,
		settings:   settings,
		auth:       auth,
	}
}

// RegisterRoutes registers the settings routes on the given mux.
func (h *SettingsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /journal/settings", h.auth(h.getSettings))
	mux.HandleFunc("POST /journal/settings", h.auth(h.updateSettings))
	mux.HandleFunc("POST /journal/settings/reset", h.auth(h.resetSettings))
	mux.HandleFunc("GET /journal/settings/info", h.auth(h.settingsInfo))
}

// getSettings returns the current settings as JSON.
func (h *SettingsHandler) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.liveConfig.Get())
}

// updateSettings applies the request body on top of the current settings.
func (h *SettingsHandler) updateSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	// Start with current config as base; secrets are kept as loaded.
	newConfig, err := config.ConfigFromJSON(body, h.liveConfig.Get())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	h.apply(w, r, newConfig, "settings updated via API")
}

// resetSettings restores the defaults, preserving env-only fields.
func (h *SettingsHandler) resetSettings(w http.ResponseWriter, r *http.Request) {
	current := h.liveConfig.Get()
	defaults := config.Defaults()
	defaults.LogDevelopment = current.LogDevelopment
	defaults.Discord.BotToken = current.Discord.BotToken
	defaults.Telegram.BotToken = current.Telegram.BotToken
	defaults.Journal = current.Journal
	defaults.Store = current.Store
	defaults.Auth = current.Clone().Auth
	defaults.Gist = current.Gist

	h.apply(w, r, defaults, "settings reset to defaults via API")
}

func (h *SettingsHandler) apply(w http.ResponseWriter, r *http.Request, newConfig *config.Config, msg string) {
	if validation := newConfig.Validate(); !validation.Valid {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"ok":     false,
			"errors": validation.Errors,
		})
		return
	}

	if err := h.liveConfig.Update(newConfig); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	persisted := false
	if h.settings != nil && h.settings.IsEnabled() {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		if err := h.settings.SaveSettings(ctx); err != nil {
			h.logger.Error("failed to save settings", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "settings applied but not saved: "+err.Error())
			return
		}
		persisted = true
	}

	h.logger.Info(msg, zap.Bool("persisted", persisted))
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"persisted":  persisted,
		"applied_at": time.Now(),
	})
}

// settingsInfo returns metadata about settings state.
func (h *SettingsHandler) settingsInfo(w http.ResponseWriter, _ *http.Request) {
	if h.settings == nil {
		validation := h.liveConfig.Get().Validate()
		info := config.SettingsInfo{
			Source:      "env",
			LastUpdated: h.liveConfig.LastUpdated(),
			IsValid:     validation.Valid,
		}
		for _, e := range validation.Errors {
			info.Errors = append(info.Errors, e.Field+": "+e.Message)
		}
		writeJSON(w, http.StatusOK, info)
		return
	}
	writeJSON(w, http.StatusOK, h.settings.GetSettingsInfo())
}
