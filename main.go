package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	clts "tradejournal/clients"
	"tradejournal/config"
	"tradejournal/internal/app"
)

const (
	// loadTimeout is the maximum time to wait for loading from gist
	loadTimeout = 30 * time.Second
)

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	// Load config from .env, the optional config file and environment variables
	envConfig, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(envConfig.LogDevelopment)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting trade journal",
		zap.Bool("isProd", envConfig.IsProd),
		zap.String("commit", app.BuildCommit),
	)

	if validation := envConfig.Validate(); !validation.Valid {
		for _, e := range validation.Errors {
			logger.Error("invalid config", zap.String("field", e.Field), zap.String("message", e.Message))
		}
		logger.Fatal("configuration is invalid")
	}

	// Create LiveConfig with env config as initial value
	liveConfig := config.NewLiveConfig(envConfig)

	// Initialize clients (needed for Gist access)
	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, envConfig)
	defer clients.Close()

	var settingsManager *config.SettingsManager
	if clients.Settings != nil {
		settingsManager = config.NewSettingsManager(logger, clients.Settings, liveConfig)
	}

	// Load settings from Gist if enabled
	if settingsManager != nil && settingsManager.IsEnabled() {
		logger.Info("loading settings from gist", zap.String("gist_id", clients.Settings.GetGistID()))
		loadCtx, loadCancel := context.WithTimeout(context.Background(), loadTimeout)
		cfg, err := settingsManager.LoadSettings(loadCtx, envConfig)
		loadCancel()
		if err != nil {
			logger.Warn("failed to load settings from gist, using env/defaults", zap.Error(err))
		} else if cfg != nil {
			if err := liveConfig.Update(cfg); err != nil {
				logger.Warn("failed to apply gist settings", zap.Error(err))
			} else {
				logger.Info("settings loaded from gist")
			}
		}
	} else {
		logger.Info("settings gist not configured, using env/defaults")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	runner := app.NewRunner(clients, liveConfig, settingsManager)
	if err := runner.Run(ctx); err != nil {
		logger.Fatal("runner failed", zap.Error(err))
	}
}
