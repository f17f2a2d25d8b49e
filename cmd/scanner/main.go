package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Atique-Syed1/Trading-bot/config"
	"github.com/Atique-Syed1/Trading-bot/internal/logger"
	"github.com/Atique-Syed1/Trading-bot/internal/model"
	"github.com/Atique-Syed1/Trading-bot/internal/offline"
	"github.com/Atique-Syed1/Trading-bot/internal/store/redis"
)

var (
	mode      string
	logLevel  string
	seed      int64
	onlyBuys  bool
	watchChan string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scanner",
		Short: "Compliance-screened RSI stock scanner",
		Long: `Scanner screens an equity universe for compliance and RSI signals.

Commands:
  run    - run the mode controller with the control API and metrics
  scan   - print one offline universe as JSON
  watch  - print store events published to Redis by a running scanner

Examples:
  scanner run --mode live
  scanner scan --seed 42 --buys`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides SCANNER_LOG_LEVEL)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scanner service",
		RunE:  runScanner,
	}
	runCmd.Flags().StringVar(&mode, "mode", "", "initial mode: offline, live (overrides SCANNER_MODE)")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Generate one offline universe and print it as JSON",
		RunE:  runScan,
	}
	scanCmd.Flags().Int64Var(&seed, "seed", 0, "generator seed (0 = time-based)")
	scanCmd.Flags().BoolVar(&onlyBuys, "buys", false, "only print compliant Buy candidates")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Print store events from Redis",
		RunE:  runWatch,
	}
	watchCmd.Flags().StringVar(&watchChan, "channel", "", "Redis channel (default SCANNER_REDIS_CHANNEL)")

	rootCmd.AddCommand(runCmd, scanCmd, watchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger.Init("scanner", logger.Options{
		Level:  logger.ParseLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
		Output: os.Stderr,
	})
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pol, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return err
	}
	catalog := offline.DefaultCatalog()
	if cfg.CatalogPath != "" {
		if catalog, err = offline.LoadCatalog(cfg.CatalogPath); err != nil {
			return err
		}
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	gen := offline.NewGenerator(seed,
		offline.WithPolicy(pol.Compliance), offline.WithThresholds(pol.Signal))
	items := gen.Generate(catalog)
	if onlyBuys {
		items = buyCandidates(items)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.RedisEnabled() {
		return fmt.Errorf("SCANNER_REDIS_ADDR is not set")
	}
	ctx, cancel := signalContext()
	defer cancel()

	rc, err := redis.New(ctx, redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rc.Close()

	channel := watchChan
	if channel == "" {
		channel = cfg.RedisChannel
	}
	out := cmd.OutOrStdout()
	latest, ok, err := redis.NewPublisher(rc, channel).Latest(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(out, "no stored snapshot: %v\n", err)
	case ok:
		printEvent(out, latest)
	}

	events, err := rc.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	for ev := range events {
		printEvent(out, ev)
	}
	return nil
}

func printEvent(out io.Writer, ev model.StoreEvent) {
	switch ev.Type {
	case model.EventSnapshot:
		fmt.Fprintf(out, "%s [%s] snapshot: %d instruments, %d buy candidates\n",
			ev.At.Format("15:04:05"), ev.Mode, len(ev.Instruments), len(buyCandidates(ev.Instruments)))
	default:
		for _, d := range ev.Deltas {
			fmt.Fprintf(out, "%s [%s] %-12s %10.2f %+8.2f (%+.2f%%)\n",
				ev.At.Format("15:04:05"), ev.Mode, d.Symbol, d.Price, d.Change, d.ChangePercent)
		}
	}
}
