// clawbot runs one trading cycle and exits. Scheduling is external: cron,
// a systemd timer, or a Kubernetes CronJob decides the cadence.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/aphsx/24openClaw/internal/binance"
	"github.com/aphsx/24openClaw/internal/config"
	"github.com/aphsx/24openClaw/internal/engine"
	"github.com/aphsx/24openClaw/internal/market"
	"github.com/aphsx/24openClaw/internal/metrics"
	"github.com/aphsx/24openClaw/internal/oracle"
	"github.com/aphsx/24openClaw/internal/order"
	"github.com/aphsx/24openClaw/internal/risk"
	"github.com/aphsx/24openClaw/internal/sentiment"
	"github.com/aphsx/24openClaw/internal/tracker"
	"github.com/aphsx/24openClaw/internal/util"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := util.NewLogger(cfg.App.LogLevel)

	metricsSrv := metrics.Serve(cfg.App.MetricsAddr)
	defer metricsSrv.Close()

	client := binance.NewClient(cfg.Exchange.BaseURL(), cfg.Exchange.APIKey, cfg.Exchange.APISecret, log)
	defer client.Close()

	bound := risk.Bound{StopPct: cfg.Safety.StopPct, TargetPct: cfg.Safety.TargetPct}
	store := market.NewStore(cfg.Trading.Primary().Interval, maxWindow(cfg))
	trk := tracker.New(client, bound, log)
	manager := order.NewManager(client, bound, cfg.Trading.Leverage, log)

	chain := oracle.Chain{
		oracle.NewHTTPDecider(cfg.Oracle.URL, cfg.Oracle.Model, cfg.Oracle.APIKey, cfg.Oracle.Timeout(), log),
	}
	if cfg.Oracle.FallbackURL != "" {
		chain = append(chain,
			oracle.NewHTTPDecider(cfg.Oracle.FallbackURL, cfg.Oracle.Model, cfg.Oracle.APIKey, cfg.Oracle.Timeout(), log))
	}

	news := sentiment.NewCached(sentiment.Static{}, cfg.Cycle.SentimentTimeout(), log)

	eng := engine.New(cfg, client, store, trk, manager, chain, news, log)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Cycle.Deadline())
	defer cancel()

	log.Info().
		Str("app", cfg.App.Name).
		Strs("symbols", cfg.Trading.Symbols).
		Bool("testnet", cfg.Exchange.Testnet).
		Msg("starting trading cycle")

	rec := eng.Run(ctx)

	if err := appendRecord(cfg.App.RecordsPath, rec); err != nil {
		log.Error().Err(err).Str("path", cfg.App.RecordsPath).Msg("cycle record not persisted")
	}

	log.Info().
		Str("cycle_id", rec.ID).
		Str("status", string(rec.Status)).
		Float64("balance", rec.Balance).
		Int("errors", len(rec.Errors)).
		Msg("cycle record written")
	// A failed cycle is a normal terminal state for one invocation; the
	// scheduler retries on the next tick either way.
}

// maxWindow returns the largest configured candle window so the store never
// truncates a timeframe below what its indicators need.
func maxWindow(cfg *config.Config) int {
	max := 0
	for _, tf := range cfg.Trading.Timeframes {
		if tf.Candles > max {
			max = tf.Candles
		}
	}
	return max
}

// appendRecord appends one JSON line per cycle to the records file.
func appendRecord(path string, rec *engine.CycleRecord) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open records file: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal cycle record: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write cycle record: %w", err)
	}
	return nil
}
