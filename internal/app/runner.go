package app

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	clts "tradejournal/clients"
	"tradejournal/clients/gist"
	"tradejournal/config"
	"tradejournal/internal/buffer"
	"tradejournal/internal/gate"
	"tradejournal/internal/journal"
	"tradejournal/internal/normalize"
)

// ensure Runner implements ConfigObserver
var _ config.ConfigObserver = (*Runner)(nil)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

const (
	settingsReloadInterval = time.Minute
	loadTimeout            = 30 * time.Second
)

type Runner struct {
	clients         *clts.Clients
	liveConfig      *config.LiveConfig
	settingsManager *config.SettingsManager
	startTime       time.Time

	store       journal.Store
	cursors     journal.CursorStore
	memoryStore *journal.MemoryStore // nil when a SQL store is configured

	gate       *gate.Gate
	buffer     *buffer.Buffer
	book       *journal.Book
	aggregator *journal.Aggregator
	ingest     *IngestHandler
	journalAPI *JournalHandler
	syncLoop   *SyncLoop
	sweeper    *Sweeper
	persister  *StatePersister
	alerts     *AlertDispatcher
	server     *Server
}

// HealthStatus is served at GET /health.
type HealthStatus struct {
	Status string `json:"status"`

	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	Buffer buffer.Stats `json:"buffer"`
	Sync   *SyncStatus  `json:"sync,omitempty"`

	Store struct {
		Driver        string `json:"driver"`
		GistPersisted bool   `json:"gist_persisted"`
	} `json:"store"`

	Gate struct {
		BoundWallets int `json:"bound_wallets"`
	} `json:"gate"`

	Sweep struct {
		Schedule string `json:"schedule"`
	} `json:"sweep"`

	Notifications struct {
		DiscordEnabled  bool `json:"discord_enabled"`
		TelegramEnabled bool `json:"telegram_enabled"`
	} `json:"notifications"`

	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc"` // bytes currently allocated on heap
		HeapSys    uint64 `json:"heap_sys"`   // bytes obtained from system for heap
		NumGC      uint32 `json:"num_gc"`     // number of completed GC cycles
		NumCPU     int    `json:"num_cpu"`
		GOOS       string `json:"goos"`
		GOARCH     string `json:"goarch"`
	} `json:"runtime"`
}

func NewRunner(clients *clts.Clients, liveConfig *config.LiveConfig, settingsManager *config.SettingsManager) *Runner {
	return &Runner{
		clients:         clients,
		liveConfig:      liveConfig,
		settingsManager: settingsManager,
	}
}

// OnConfigUpdate is called when the config changes.
// Implements config.ConfigObserver interface.
func (r *Runner) OnConfigUpdate(cfg *config.Config) {
	logger := r.clients.Logger
	logger.Info("config update received, propagating to components")

	if r.syncLoop != nil {
		r.syncLoop.UpdateConfig(SyncLoopConfig{
			Interval:  cfg.Sync.Interval,
			PageLimit: cfg.Sync.PageLimit,
		})
	}

	if r.sweeper != nil {
		if err := r.sweeper.Reschedule(cfg.Sweep.Schedule); err != nil {
			logger.Warn("failed to apply sweep schedule", zap.Error(err))
		}
	}

	if r.ingest != nil {
		r.ingest.SetNormalizer(normalize.Normalizer{SOLPriceUSD: cfg.Normalizer.SOLPriceUSD})
	}

	r.retargetJournal(cfg.Journal.Wallet, cfg.Journal.Secret)
}

// retargetJournal points the sync loop and the journal API at a new owner
// wallet. The wallet is bound to the journal secret first; a wallet already
// bound to another secret is refused.
func (r *Runner) retargetJournal(wallet, secret string) {
	if r.syncLoop == nil || r.journalAPI == nil || wallet == "" || wallet == r.journalAPI.Wallet() {
		return
	}
	logger := r.clients.Logger
	if !r.gate.Validate(wallet, secret) {
		logger.Warn("journal wallet is bound to another secret, keeping current wallet",
			zap.String("wallet", shortID(wallet)))
		return
	}
	r.syncLoop.Retarget(wallet, secret)
	r.journalAPI.SetWallet(wallet)
}

// openStore selects the entry store. The memory store is also the cursor
// store and is snapshotted to the gist; SQL stores persist both themselves.
func (r *Runner) openStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.Store.Driver {
	case config.StoreSQLite, config.StorePostgres:
		s, err := journal.OpenSQLStore(ctx, cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
		}
		r.store, r.cursors = s, s
	case config.StoreMemory, "":
		s := journal.NewMemoryStore()
		r.store, r.cursors, r.memoryStore = s, s, s
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	return nil
}

// walletSecrets merges the preset wallet secrets with the journal owner's.
func walletSecrets(cfg *config.Config) map[string]string {
	secrets := make(map[string]string, len(cfg.Auth.WalletSecrets)+1)
	for w, s := range cfg.Auth.WalletSecrets {
		secrets[w] = s
	}
	if cfg.Journal.Wallet != "" && cfg.Journal.Secret != "" {
		secrets[cfg.Journal.Wallet] = cfg.Journal.Secret
	}
	return secrets
}

// Setup builds every component without starting any goroutine.
func (r *Runner) Setup(ctx context.Context) (err error) {
	logger := r.clients.Logger
	cfg := r.liveConfig.Get()

	journalEnabled, err := cfg.RequireJournal()
	if err != nil {
		return err
	}

	if err := r.openStore(ctx, cfg); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = r.store.Close()
		}
	}()

	r.gate = gate.New(logger, walletSecrets(cfg))
	r.buffer = buffer.New(logger, buffer.Config{
		TTL:          cfg.Buffer.TTL,
		Cap:          cfg.Buffer.Cap,
		DefaultLimit: cfg.Buffer.DefaultPageLimit,
		MaxLimit:     cfg.Buffer.MaxPageLimit,
	})

	r.book = journal.NewBook(logger, r.store)
	r.aggregator = journal.NewAggregator(logger, r.book)

	r.alerts = NewAlertDispatcher(logger, r.clients.Notifier, 0)
	r.book.AddObserver(r.alerts.Observe)

	if r.sweeper, err = NewSweeper(logger, r.book, cfg.Sweep.Schedule); err != nil {
		return err
	}

	if r.memoryStore != nil {
		var snapshots gist.Storage
		if r.clients.Gist != nil {
			snapshots = r.clients.Gist
		}
		r.persister = NewStatePersister(
			logger,
			snapshots,
			r.memoryStore,
			cfg.State.SaveInterval,
			cfg.State.FileName,
			cfg.State.MaxSizeBytes,
		)
		loadCtx, loadCancel := context.WithTimeout(ctx, loadTimeout)
		if _, err := r.persister.Load(loadCtx); err != nil {
			logger.Warn("failed to load journal state from gist", zap.Error(err))
		}
		loadCancel()
	}

	if journalEnabled {
		var source EventSource = NewLocalSource(r.gate, r.buffer)
		if r.clients.SyncAPI != nil {
			source = r.clients.SyncAPI
		}
		r.syncLoop = NewSyncLoop(
			logger,
			source,
			r.aggregator,
			r.cursors,
			cfg.Journal.Wallet,
			cfg.Journal.Secret,
			SyncLoopConfig{Interval: cfg.Sync.Interval, PageLimit: cfg.Sync.PageLimit},
		)
	} else {
		logger.Info("JOURNAL_WALLET not set, running ingestion only")
	}

	r.ingest = NewIngestHandler(logger, r.gate, r.buffer, normalize.Normalizer{SOLPriceUSD: cfg.Normalizer.SOLPriceUSD})
	var syncer Syncer
	if r.syncLoop != nil {
		syncer = r.syncLoop
	}
	r.journalAPI = NewJournalHandler(logger, r.book, r.gate, syncer, cfg.Journal.Wallet)

	if cfg.HTTPServer.Enabled {
		settingsAPI := NewSettingsHandler(logger, r.liveConfig, r.settingsManager, r.journalAPI.requireAuth)
		r.server = NewServer(logger, cfg.HTTPServer.Port, r.Health, r.ingest, r.journalAPI, settingsAPI)
	}

	// Register as config observer for hot-reload
	r.liveConfig.AddObserver(r)
	return nil
}

func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	logger := r.clients.Logger

	if err := r.Setup(ctx); err != nil {
		return err
	}
	cfg := r.liveConfig.Get()
	logger.Info("starting trade journal",
		zap.String("store", cfg.Store.Driver),
		zap.Bool("remoteSync", r.clients.SyncAPI != nil),
		zap.Bool("httpServer", r.server != nil),
		zap.Int("presetWallets", r.gate.Count()),
	)

	g, gctx := errgroup.WithContext(ctx)

	if r.server != nil {
		g.Go(func() error { return r.server.Run(gctx) })
	}
	if r.syncLoop != nil {
		g.Go(func() error { r.syncLoop.Run(gctx); return nil })
	}
	g.Go(func() error { r.sweeper.Run(gctx); return nil })
	if r.persister != nil {
		g.Go(func() error { r.persister.Run(gctx); return nil })
	}
	if r.settingsManager != nil && r.settingsManager.IsEnabled() {
		g.Go(func() error { r.settingsManager.Run(gctx, settingsReloadInterval); return nil })
	}

	err := g.Wait()
	logger.Info("runner shutting down")

	if r.syncLoop != nil {
		r.syncLoop.Stop()
	}
	r.alerts.Wait()
	if closeErr := r.store.Close(); closeErr != nil {
		logger.Warn("failed to close store", zap.Error(closeErr))
	}
	return err
}

// Health returns the current service status.
func (r *Runner) Health() HealthStatus {
	var h HealthStatus
	h.Status = "ok"

	h.Build.Commit = BuildCommit
	h.Build.Time = BuildTime
	h.Build.GoVersion = runtime.Version()

	if !r.startTime.IsZero() {
		uptime := time.Since(r.startTime)
		h.StartTime = r.startTime.UTC().Format(time.RFC3339)
		h.Uptime = uptime.Round(time.Second).String()
		h.UptimeSec = int64(uptime.Seconds())
	}

	if r.buffer != nil {
		h.Buffer = r.buffer.Stats()
	}
	if r.syncLoop != nil {
		s := r.syncLoop.Status()
		h.Sync = &s
		if s.LastError != "" {
			h.Status = "degraded"
		}
	}

	cfg := r.liveConfig.Get()
	h.Store.Driver = cfg.Store.Driver
	h.Store.GistPersisted = r.persister != nil && r.persister.IsEnabled()
	if r.gate != nil {
		h.Gate.BoundWallets = r.gate.Count()
	}
	if r.sweeper != nil {
		h.Sweep.Schedule = r.sweeper.Schedule()
	}
	if r.clients.Discord != nil {
		h.Notifications.DiscordEnabled = r.clients.Discord.IsEnabled()
	}
	if r.clients.Telegram != nil {
		h.Notifications.TelegramEnabled = r.clients.Telegram.IsEnabled()
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	h.Runtime.Goroutines = runtime.NumGoroutine()
	h.Runtime.HeapAlloc = m.HeapAlloc
	h.Runtime.HeapSys = m.HeapSys
	h.Runtime.NumGC = m.NumGC
	h.Runtime.NumCPU = runtime.NumCPU()
	h.Runtime.GOOS = runtime.GOOS
	h.Runtime.GOARCH = runtime.GOARCH

	return h
}
