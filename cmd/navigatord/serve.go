package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mdtaxnav/navigator/api"
	"github.com/mdtaxnav/navigator/bus"
	"github.com/mdtaxnav/navigator/config"
	"github.com/mdtaxnav/navigator/credentials"
	"github.com/mdtaxnav/navigator/gateway"
	"github.com/mdtaxnav/navigator/health"
	"github.com/mdtaxnav/navigator/logging"
	"github.com/mdtaxnav/navigator/queue"
	"github.com/mdtaxnav/navigator/ratelimit"
	"github.com/mdtaxnav/navigator/search"
	"github.com/mdtaxnav/navigator/shutdown"
	"github.com/mdtaxnav/navigator/sms"
	"github.com/mdtaxnav/navigator/store"
	"github.com/mdtaxnav/navigator/telemetry"
	"github.com/mdtaxnav/navigator/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// serveCmd runs the full daemon
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the navigator daemon",
	Long: `Start the submission queue workers, acknowledgment poller, gateway
health prober, SMS webhook and admin API, and run until SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		MinLevel: logging.Level(strings.ToUpper(cfg.Logging.Level)),
		JSON:     cfg.Logging.JSON,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Sync()
	log := logger.WithComponent("daemon")

	creds, credPath, err := credentials.Load()
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if credPath != "" {
		log.Info("loaded credentials", zap.String("path", credPath))
	}

	// Storage and the durable queue share one SQLite pool.
	storePath := cfg.Store.Path
	if storePath == "" {
		storePath = ":memory:"
		log.Warn("store.path not set, using in-memory database")
	}
	db, err := store.Open(storePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	backoff := queue.DefaultBackoff()
	backoff.Base = cfg.Queue.BackoffBase.Duration
	backoff.Cap = cfg.Queue.BackoffCap.Duration
	backoff.Multiplier = cfg.Queue.BackoffMultiplier
	q := queue.NewSQLiteManager(db,
		queue.WithBackoff(backoff),
		queue.WithMaxAttempts(cfg.Queue.MaxAttempts))

	mbus, err := openBus(cfg.Bus)
	if err != nil {
		db.Close()
		return err
	}

	limiter, err := openLimiter(cfg, mbus)
	if err != nil {
		mbus.Close()
		db.Close()
		return err
	}

	// Gateway clients, each behind a circuit breaker.
	clients, err := buildClients(cfg.Gateways, creds)
	if err != nil {
		limiter.Close()
		mbus.Close()
		db.Close()
		return err
	}

	exporter, err := telemetry.NewExporter(cfg.Telemetry.Protocol, cfg.Telemetry.Endpoint)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	metrics := telemetry.NewMetrics(exporter)
	collector := telemetry.NewCollector(mbus, metrics)
	if err := collector.Start(); err != nil {
		return fmt.Errorf("start metrics collector: %w", err)
	}

	var idx *search.Index
	if cfg.Search.IndexPath != "" {
		idx, err = search.Open(cfg.Search.IndexPath)
		if err != nil {
			return fmt.Errorf("open search index: %w", err)
		}
	}

	probeClients := make([]gateway.Client, 0, len(clients))
	for _, c := range clients {
		probeClients = append(probeClients, c)
	}
	prober, err := health.NewProber(health.ProberConfig{
		Clients:  probeClients,
		Bus:      mbus,
		Interval: probeInterval(cfg.Gateways),
	})
	if err != nil {
		return fmt.Errorf("init prober: %w", err)
	}
	if err := prober.Start(context.Background()); err != nil {
		return fmt.Errorf("start prober: %w", err)
	}

	nodeID := "navigator"
	if host, err := os.Hostname(); err == nil && host != "" {
		nodeID = host
	}

	workerCfg := worker.Config{
		Queue:        q,
		Clients:      clients,
		Limiter:      limiter,
		Bus:          mbus,
		Metrics:      metrics,
		Health:       prober.Tracker(),
		Store:        db,
		Logger:       logger,
		NodeID:       nodeID,
		Concurrency:  cfg.Queue.Concurrency,
		PollInterval: cfg.Queue.PollInterval.Duration,
	}
	pool, err := worker.NewPool(workerCfg)
	if err != nil {
		return fmt.Errorf("init worker pool: %w", err)
	}
	acks, err := worker.NewAckPoller(workerCfg, cfg.Queue.AckPollInterval.Duration)
	if err != nil {
		return fmt.Errorf("init ack poller: %w", err)
	}
	reaper, err := worker.NewReaper(q, 0, cfg.Queue.VisibilityTimeout.Duration, logger)
	if err != nil {
		return fmt.Errorf("init reaper: %w", err)
	}

	webhook := buildWebhook(cfg.SMS, creds, db, logger)

	srv, err := api.NewServer(api.Config{
		Addr:    cfg.API.ListenAddr,
		Store:   db,
		Queue:   q,
		Search:  idx,
		Metrics: metrics,
		Tracker: prober.Tracker(),
		Bus:     mbus,
		Webhook: webhook,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("init api server: %w", err)
	}

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	if err := acks.Start(ctx); err != nil {
		return fmt.Errorf("start ack poller: %w", err)
	}
	if err := reaper.Start(ctx); err != nil {
		return fmt.Errorf("start reaper: %w", err)
	}

	watcher := watchConfig(cfg, logger, limiter)

	coord := shutdown.NewCoordinator(shutdown.Config{
		Timeout: 30 * time.Second,
		OnProgress: func(r shutdown.Result) {
			if r.Err != nil {
				log.Warn("component stop failed",
					zap.String("component", r.Name), zap.Error(r.Err))
				return
			}
			log.Info("component stopped",
				zap.String("component", r.Name), zap.Duration("took", r.Duration))
		},
	})
	coord.RegisterFunc("api", shutdown.PhaseIngress, srv.Shutdown)
	coord.RegisterFunc("pool", shutdown.PhaseWorkers, func(ctx context.Context) error {
		return pool.Stop()
	})
	coord.RegisterFunc("acks", shutdown.PhaseWorkers, func(ctx context.Context) error {
		return acks.Stop()
	})
	coord.RegisterFunc("reaper", shutdown.PhaseWorkers, func(ctx context.Context) error {
		return reaper.Stop()
	})
	coord.RegisterFunc("prober", shutdown.PhaseWorkers, func(ctx context.Context) error {
		return prober.Stop()
	})
	coord.RegisterFunc("collector", shutdown.PhaseTelemetry, func(ctx context.Context) error {
		return collector.Stop()
	})
	coord.RegisterFunc("exporter", shutdown.PhaseTelemetry, func(ctx context.Context) error {
		if err := exporter.Flush(); err != nil {
			return err
		}
		return exporter.Close()
	})
	if watcher != nil {
		coord.RegisterFunc("config-watcher", shutdown.PhaseTelemetry, func(ctx context.Context) error {
			return watcher.Close()
		})
	}
	coord.RegisterFunc("limiter", shutdown.PhaseStorage, func(ctx context.Context) error {
		return limiter.Close()
	})
	if idx != nil {
		coord.RegisterFunc("search", shutdown.PhaseStorage, func(ctx context.Context) error {
			return idx.Close()
		})
	}
	coord.RegisterFunc("bus", shutdown.PhaseStorage, func(ctx context.Context) error {
		return mbus.Close()
	})
	coord.RegisterFunc("queue", shutdown.PhaseStorage, func(ctx context.Context) error {
		return q.Close()
	})
	coord.RegisterFunc("store", shutdown.PhaseStorage, func(ctx context.Context) error {
		return db.Close()
	})
	coord.HandleSignals()

	log.Info("navigator daemon started",
		zap.String("node", nodeID),
		zap.String("store", storePath),
		zap.String("bus", cfg.Bus.Backend),
		zap.Int("concurrency", cfg.Queue.Concurrency))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			// The listener failed; tear everything else down.
			return coord.ShutdownWithTimeout()
		case <-coord.Done():
			return coord.Err()
		}
	})
	return g.Wait()
}

// openBus selects the configured message bus backend.
func openBus(cfg config.BusConfig) (bus.MessageBus, error) {
	switch cfg.Backend {
	case "nats":
		nb, err := bus.NewNATSBus(bus.NATSConfig{
			Config: bus.DefaultConfig(),
			URL:    cfg.NATSURL,
			Name:   "navigatord",
		})
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		return nb, nil
	default:
		return bus.NewMemoryBus(bus.DefaultConfig()), nil
	}
}

// openLimiter builds the transmission rate limiter. With a NATS bus the
// limiter coordinates capacity across navigator nodes; otherwise it is
// node-local.
func openLimiter(cfg config.Config, mbus bus.MessageBus) (ratelimit.RateLimiter, error) {
	var limiter ratelimit.RateLimiter
	if cfg.Bus.Backend == "nats" {
		nodeID := "navigator"
		if host, err := os.Hostname(); err == nil && host != "" {
			nodeID = host
		}
		dl, err := ratelimit.NewDistributedLimiter(ratelimit.DistributedConfig{
			Bus:    mbus,
			NodeID: nodeID,
		})
		if err != nil {
			return nil, fmt.Errorf("init distributed limiter: %w", err)
		}
		limiter = dl
	} else {
		limiter = ratelimit.NewMemoryLimiter()
	}

	applyCapacities(limiter, cfg.Gateways)
	return limiter, nil
}

func applyCapacities(limiter ratelimit.RateLimiter, gws config.GatewaysConfig) {
	if gws.MeF.RateCapacity > 0 {
		limiter.SetCapacity(string(queue.GatewayMeF), gws.MeF.RateCapacity, gws.MeF.RateWindow.Duration)
	}
	if gws.IFile.RateCapacity > 0 {
		limiter.SetCapacity(string(queue.GatewayIFile), gws.IFile.RateCapacity, gws.IFile.RateWindow.Duration)
	}
}

// buildClients creates both gateway clients wrapped in circuit breakers.
func buildClients(gws config.GatewaysConfig, creds *credentials.Credentials) (map[queue.Gateway]gateway.Client, error) {
	mefCreds := creds.Get(credentials.ProviderMeF)
	mef, err := gateway.NewMeFClient(gateway.MeFConfig{
		BaseURL:  gws.MeF.BaseURL,
		ETIN:     credUsername(mefCreds),
		Password: credSecret(mefCreds),
		Timeout:  gws.MeF.Timeout.Duration,
	})
	if err != nil {
		return nil, fmt.Errorf("init mef client: %w", err)
	}

	ifileCreds := creds.Get(credentials.ProviderIFile)
	ifile, err := gateway.NewIFileClient(gateway.IFileConfig{
		BaseURL:  gws.IFile.BaseURL,
		VendorID: credUsername(ifileCreds),
		APIKey:   credSecret(ifileCreds),
		Timeout:  gws.IFile.Timeout.Duration,
	})
	if err != nil {
		return nil, fmt.Errorf("init ifile client: %w", err)
	}

	return map[queue.Gateway]gateway.Client{
		queue.GatewayMeF:   gateway.NewBreakerClient(mef, breakerConfig(gws.MeF)),
		queue.GatewayIFile: gateway.NewBreakerClient(ifile, breakerConfig(gws.IFile)),
	}, nil
}

func credUsername(c *credentials.ProviderCreds) string {
	if c == nil {
		return ""
	}
	return c.Username
}

func credSecret(c *credentials.ProviderCreds) string {
	if c == nil {
		return ""
	}
	return c.Secret
}

func breakerConfig(gw config.GatewayConfig) gateway.BreakerConfig {
	bc := gateway.DefaultBreakerConfig()
	if gw.BreakerThreshold > 0 {
		bc.FailureThreshold = gw.BreakerThreshold
	}
	if gw.BreakerCooldown.Duration > 0 {
		bc.Cooldown = gw.BreakerCooldown.Duration
	}
	return bc
}

// probeInterval picks the shorter of the two gateway ping periods.
func probeInterval(gws config.GatewaysConfig) time.Duration {
	interval := gws.MeF.HealthInterval.Duration
	if gws.IFile.HealthInterval.Duration > 0 &&
		(interval <= 0 || gws.IFile.HealthInterval.Duration < interval) {
		interval = gws.IFile.HealthInterval.Duration
	}
	return interval
}

// buildWebhook wires the Twilio inbound webhook when SMS is enabled.
// Confirmation marks the return ready; navigator staff attach the
// prepared return document and submit through the API.
func buildWebhook(cfg config.SMSConfig, creds *credentials.Credentials, db *store.DB, logger *logging.Logger) http.Handler {
	if !cfg.Enabled {
		return nil
	}

	flow := sms.NewFlow(db)
	log := logger.WithComponent("sms.flow")
	flow.OnConfirm = func(ctx context.Context, returnID string) error {
		log.Info("taxpayer confirmed filing", zap.String("return_id", returnID))
		return nil
	}

	authToken := creds.GetSecret(credentials.ProviderTwilio)
	return sms.NewWebhookHandler(flow, authToken, cfg.PublicURL, logger)
}

// watchConfig hot-reloads the tunables that can change at runtime: log
// level and gateway rate capacities.
func watchConfig(cfg config.Config, logger *logging.Logger, limiter ratelimit.RateLimiter) *config.Watcher {
	if configPath == "" {
		return nil
	}
	log := logger.WithComponent("config")

	watcher, err := config.Watch(configPath, func(next config.Config) {
		logger.SetLevel(logging.Level(strings.ToUpper(next.Logging.Level)))
		applyCapacities(limiter, next.Gateways)
		log.Info("configuration reloaded", zap.String("path", configPath))
	})
	if err != nil {
		log.Warn("config hot reload unavailable", zap.Error(err))
		return nil
	}
	return watcher
}
