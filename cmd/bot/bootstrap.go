package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"vwap-trader/internal/engine"
	"vwap-trader/internal/feed"
	"vwap-trader/internal/logger"
	"vwap-trader/internal/store"
	"vwap-trader/internal/tradelog"
)

// loadConfig reads config.yaml, falling back to built-in defaults when
// no file exists.
func loadConfig(ctx context.Context) (*store.Config, error) {
	path := os.Getenv("TRADER_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := store.LoadConfig(path)
	if os.IsNotExist(err) {
		logger.Warn(ctx, "No config file found, using defaults", "path", path)
		return store.Default(), nil
	}
	return cfg, err
}

// compressOldLogs gzips old trade log files when retention is set.
func compressOldLogs(ctx context.Context) {
	if v := os.Getenv("TRADER_LOG_RETENTION_DAYS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if err := tradelog.CompressOlder(n); err != nil {
			logger.Warn(ctx, "Failed to compress old logs", "error", err)
		}
	}
}

// backfill fetches twice the deviation window of history, so every
// rebuilt deviation snapshot has a full trailing primary window of
// bars behind it.
func backfill(ctx context.Context, cfg *store.Config, rest *feed.REST, eng *engine.Engine) error {
	end := time.Now()
	span := 2 * time.Duration(cfg.Window.DeviationHistoryHours) * time.Hour
	if floor := 2 * time.Duration(cfg.Window.PrimaryHours) * time.Hour; span < floor {
		span = floor
	}
	bars, err := rest.CandleRange(ctx, end.Add(-span), end)
	if err != nil {
		return err
	}
	return eng.Backfill(ctx, bars)
}

// forwardTicks pushes websocket ticks into the engine's event queue.
func forwardTicks(ctx context.Context, ws *feed.WSClient, eng *engine.Engine) {
	for tick := range ws.Ticks() {
		eng.OfferTick(ctx, tick)
	}
}

// pollCandles refreshes the most recent bars over REST. The in-progress
// interval arrives repeatedly; the aggregator's revision semantics make
// the repeats harmless.
func pollCandles(ctx context.Context, cfg *store.Config, rest *feed.REST, eng *engine.Engine) {
	interval := time.Duration(cfg.PollSeconds) * time.Second
	barSpan := time.Duration(cfg.Window.BarIntervalSeconds) * time.Second

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			end := time.Now()
			bars, err := rest.Candles(ctx, end.Add(-2*barSpan), end)
			if err != nil {
				logger.Warn(ctx, "Candle poll failed", "error", err)
				continue
			}
			for _, b := range bars {
				eng.OfferBar(ctx, b)
			}
		}
	}
}
