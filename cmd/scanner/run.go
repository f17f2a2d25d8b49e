package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Atique-Syed1/Trading-bot/config"
	"github.com/Atique-Syed1/Trading-bot/internal/api"
	"github.com/Atique-Syed1/Trading-bot/internal/breaker"
	"github.com/Atique-Syed1/Trading-bot/internal/bus"
	"github.com/Atique-Syed1/Trading-bot/internal/feed"
	"github.com/Atique-Syed1/Trading-bot/internal/httpapi"
	"github.com/Atique-Syed1/Trading-bot/internal/markethours"
	"github.com/Atique-Syed1/Trading-bot/internal/metrics"
	"github.com/Atique-Syed1/Trading-bot/internal/model"
	"github.com/Atique-Syed1/Trading-bot/internal/notification"
	"github.com/Atique-Syed1/Trading-bot/internal/offline"
	"github.com/Atique-Syed1/Trading-bot/internal/prefs"
	"github.com/Atique-Syed1/Trading-bot/internal/reconcile"
	"github.com/Atique-Syed1/Trading-bot/internal/scanner"
	"github.com/Atique-Syed1/Trading-bot/internal/store/redis"
)

// Preference keys.
const (
	prefKeyMode      = "mode"
	prefKeyWatchlist = "watchlist"
)

const (
	busBuffer      = 256
	replayCapacity = 500
	statsInterval  = 15 * time.Second
)

func runScanner(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := slog.Default().With("component", "main")

	if err := markethours.AddHolidays(cfg.ParseHolidays()...); err != nil {
		return err
	}
	pol, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return err
	}
	var catalog []offline.CatalogEntry
	if cfg.CatalogPath != "" {
		if catalog, err = offline.LoadCatalog(cfg.CatalogPath); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus()

	// Preferences
	prefStore := prefs.Open(ctx, prefs.Config{
		Backend:        cfg.PrefsBackend,
		SQLitePath:     cfg.SQLitePath,
		PostgresDSN:    cfg.PostgresDSN,
		PostgresSchema: cfg.PostgresSchema,
		RedisAddr:      cfg.RedisAddr,
		RedisPassword:  cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
	})
	defer prefStore.Close()
	prefStore.OnError = func(op string, _ error) {
		m.PrefsErrors.WithLabelValues(op).Inc()
		health.SetPrefs(prefStore.Backend(), true)
	}
	health.SetPrefs(prefStore.Backend(), prefStore.Degraded())

	initial, err := initialMode(ctx, cfg, prefStore)
	if err != nil {
		return err
	}

	// Scan backend
	client := api.New(api.Config{
		BaseURL:       cfg.APIBaseURL,
		Timeout:       cfg.APITimeout,
		RatePerSecond: cfg.APIRate,
		TOTPSecret:    cfg.APITOTPSecret,
	})
	m.ObserveBreaker(client.Breaker())

	// Event bus
	events := make(chan model.StoreEvent, busBuffer)
	fan := bus.New(busBuffer)
	fan.OnDrop = func(sub string) { m.FanoutDropsTotal.WithLabelValues(sub).Inc() }

	hub := httpapi.NewHub(replayCapacity)
	go hub.Run(ctx, fan.Subscribe("ws"))

	watcher := notification.NewBuyWatcher(alertNotifier(cfg))
	watcher.Watchlist = func() []string {
		var syms []string
		prefStore.Get(ctx, prefKeyWatchlist, &syms)
		return syms
	}
	watcher.OnSent = func(string) { m.AlertsSent.Inc() }
	go watcher.Run(ctx, fan.Subscribe("alerts"))

	var rdbClient *redis.Client
	if cfg.RedisEnabled() {
		rdbClient, err = redis.New(ctx, redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			log.Warn("redis unavailable, update publishing disabled", "addr", cfg.RedisAddr, "error", err)
			health.SetRedis(true, false)
		} else {
			defer rdbClient.Close()
			cb := breaker.New(breaker.Settings{Name: "redis", MaxFailures: 5, ResetTimeout: 10 * time.Second})
			m.ObserveBreaker(cb)
			bp := redis.NewBufferedPublisher(redis.NewPublisher(rdbClient, cfg.RedisChannel), cb, 1000)
			bp.OnBuffer = m.BufferedEvents.Inc
			bp.OnFlush = func(n int) { m.PublishedEvents.Add(float64(n)) }
			go bp.Run(ctx, fan.Subscribe("redis"))

			health.CheckRedis(ctx, rdbClient.Redis())
			health.StartLivenessChecker(ctx, rdbClient.Redis(), 10*time.Second)
			log.Info("publishing updates to redis", "addr", cfg.RedisAddr, "channel", cfg.RedisChannel)
		}
	}
	go fan.Run(ctx, events)

	// Mode controller
	ctrl, err := scanner.New(scanner.Config{
		Feed: feed.Config{
			URL:                  cfg.FeedURL,
			ReconnectDelay:       cfg.ReconnectDelay,
			DialTimeout:          cfg.DialTimeout,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		},
		InitialMode: initial,
		ScanDelay:   cfg.ScanDelay,
		Catalog:     catalog,
		Rescore:     cfg.Rescore,
		Policy:      pol.Compliance,
		Thresholds:  pol.Signal,
	}, scanner.Options{
		Backend: client,
		Events:  events,
		Hooks:   scannerHooks(m, health),
	})
	if err != nil {
		return fmt.Errorf("scanner: %w", err)
	}
	hub.SetSource(func(ctx context.Context) ([]model.Instrument, error) {
		st, err := ctrl.State(ctx)
		return st.Instruments, err
	})

	// Servers
	ms := metrics.NewServer(cfg.MetricsAddr, health, reg)
	ms.Start()
	srv := httpapi.New(httpapi.Config{
		Addr:           cfg.HTTPAddr,
		Debug:          cfg.LogLevel == "debug",
		AllowedOrigins: cfg.Origins(),
	}, httpapi.Deps{
		Scanner: ctrl,
		Prefs:   prefStore,
		Stocks:  client,
		Health:  health,
		Hub:     hub,
		OnModeChange: func(md scanner.Mode) {
			_ = prefStore.Set(context.Background(), prefKeyMode, string(md))
		},
	})
	srv.Start()

	go reportStats(ctx, m, fan)

	log.Info("scanner started", "mode", string(initial), "feed", cfg.FeedURL, "api", cfg.APIBaseURL)
	runErr := ctrl.Run(ctx)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Warn("control API shutdown", "error", err)
	}
	if err := ms.Stop(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown", "error", err)
	}
	log.Info("scanner exited")
	return runErr
}

// initialMode picks the --mode flag, then the saved preference, then config.
func initialMode(ctx context.Context, cfg *config.Config, p *prefs.Store) (scanner.Mode, error) {
	if mode != "" {
		return scanner.ParseMode(mode)
	}
	var saved string
	if p.Get(ctx, prefKeyMode, &saved) {
		if m, err := scanner.ParseMode(saved); err == nil {
			return m, nil
		}
	}
	return scanner.ParseMode(cfg.Mode)
}

func alertNotifier(cfg *config.Config) notification.Notifier {
	n := notification.Multi{notification.NewLogNotifier()}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		n = append(n, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		n = append(n, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	return n
}

func scannerHooks(m *metrics.Metrics, h *metrics.HealthStatus) scanner.Hooks {
	return scanner.Hooks{
		OnMode: func(md scanner.Mode) { h.SetMode(string(md)) },
		OnSessionState: func(st feed.State) {
			m.SessionState.Set(float64(st))
			h.SetStreamState(st.String())
		},
		OnReconnect: m.Reconnects.Inc,
		OnFrame: func(kind feed.Kind, dropped int) {
			m.FramesTotal.WithLabelValues(kind.String()).Inc()
			if kind == feed.KindUnrecognized {
				m.FramesDropped.Inc()
			}
			if dropped > 0 {
				m.EntriesDropped.Add(float64(dropped))
			}
		},
		OnDeltas: func(r reconcile.Result) {
			m.DeltasTotal.WithLabelValues("applied").Add(float64(r.Applied))
			m.DeltasTotal.WithLabelValues("ignored").Add(float64(r.Ignored))
			m.DeltasTotal.WithLabelValues("skipped").Add(float64(r.Skipped))
		},
		OnSnapshot: func(n int) { m.Instruments.Set(float64(n)) },
		OnScan: func(md scanner.Mode, took time.Duration, err error) {
			result := "ok"
			if err != nil {
				result = "error"
			}
			m.ScansTotal.WithLabelValues(string(md), result).Inc()
			m.ScanDuration.Observe(took.Seconds())
		},
		OnEventDropped: func() { m.FanoutDropsTotal.WithLabelValues("controller").Inc() },
		OnCommit:       func(at time.Time, _ int) { h.SetLastUpdate(at) },
		OnStatus:       h.SetBackend,
	}
}

func reportStats(ctx context.Context, m *metrics.Metrics, fan *bus.FanOut) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	m.RecordMarket(markethours.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RecordMarket(markethours.Now())
			m.RecordChannelStats(fan.ChannelStats())
		}
	}
}

func buyCandidates(items []model.Instrument) []model.Instrument {
	out := make([]model.Instrument, 0, len(items))
	for _, inst := range items {
		if inst.ComplianceStatus == model.Compliant && inst.Technicals.Signal == model.SignalBuy {
			out = append(out, inst)
		}
	}
	return out
}
