package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"vwap-trader/internal/engine"
	"vwap-trader/internal/feed"
	"vwap-trader/internal/logger"
	"vwap-trader/internal/web"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		os.Exit(1)
	}
	compressOldLogs(ctx)

	eng := engine.New(cfg)
	rest := feed.NewREST(cfg.Product.RESTURL, cfg.Product.ID, cfg.Window.BarIntervalSeconds)
	ws := feed.NewWSClient(cfg.Product.WSURL, cfg.Product.ID)
	srv := web.NewServer(cfg.Server.Addr, eng)
	eng.OnStep(srv.Publish)

	// Backfill must finish before live events are applied.
	if err := backfill(ctx, cfg, rest, eng); err != nil {
		logger.ErrorWithErr(ctx, "Backfill failed", err)
		os.Exit(1)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); eng.Run(ctx) }()
	go func() { defer wg.Done(); ws.Run(ctx) }()
	go func() { defer wg.Done(); forwardTicks(ctx, ws, eng) }()
	go func() { defer wg.Done(); pollCandles(ctx, cfg, rest, eng) }()

	go func() {
		if err := srv.Start(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorWithErr(ctx, "Web server stopped", err)
			sigc <- syscall.SIGTERM
		}
	}()

	<-sigc
	logger.Info(ctx, "Shutting down")
	cancel()
	wg.Wait()
	_ = logger.Shutdown(context.Background())
}
