package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradehook/internal/api"
	"tradehook/internal/dispatch"
	"tradehook/internal/engine"
	"tradehook/internal/events"
	"tradehook/internal/executor"
	"tradehook/internal/limits"
	"tradehook/internal/notify"
	"tradehook/internal/reentry"
	"tradehook/internal/sizing"
	"tradehook/pkg/config"
	"tradehook/pkg/db"
	"tradehook/pkg/exchanges/binance/futures"
	"tradehook/pkg/exchanges/common"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("starting webhook trading core on port %s (testnet=%v)", cfg.Port, cfg.BinanceTestnet)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()
	defer bus.Close()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := database.ApplyMigrations(ctx); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}

	var notifier notify.Notifier = notify.NewDiscord(cfg.DiscordWebhookURL)

	factory := func(apiKey, secret string, testnet bool) common.Client {
		return futures.NewClient(futures.Config{
			APIKey:    apiKey,
			APISecret: secret,
			Testnet:   testnet,
		})
	}
	eng := engine.New(cfg, factory, bus, nil)
	client := eng.Client()

	guard := limits.NewGuard(cfg.Limits, client, notifier, bus, nil)
	tracker := reentry.NewTracker(cfg.Limits, bus, nil)
	sizer := sizing.NewSizer(cfg.Limits, client)
	exec := executor.New(client, sizer, guard, database, notifier, bus, nil)
	dispatcher := dispatch.New(eng.Running, guard, tracker, exec, dispatch.NeutralTrend{}, bus)

	// Counters roll lazily on access; the ticker makes the reset prompt
	// even on quiet days.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		last := time.Now().UTC().Format("2006-01-02")
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if today := now.UTC().Format("2006-01-02"); today != last {
					last = today
					guard.ResetDaily()
					log.Printf("daily counters reset for %s", today)
				}
			}
		}
	}()

	server := api.NewServer(cfg, bus, database, eng, guard, tracker, dispatcher)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
}
