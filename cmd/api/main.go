package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdarCohen1/MathStARz/internal/api"
	"github.com/AdarCohen1/MathStARz/internal/game"
	"github.com/AdarCohen1/MathStARz/pkg/config"
	"github.com/AdarCohen1/MathStARz/pkg/logger"
	"github.com/AdarCohen1/MathStARz/pkg/server"
	"github.com/AdarCohen1/MathStARz/pkg/store"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "optional config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath, "api")
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	l, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Connect to MongoDB
	client, err := store.Connect(ctx, cfg.MongoDB, l)
	if err != nil {
		l.Error("failed to connect to mongodb", err)
		os.Exit(1)
	}
	defer client.Disconnect(context.Background())

	st := store.New(client.Database(cfg.MongoDB.Database), cfg.MongoDB)
	if err := st.EnsureIndexes(ctx); err != nil {
		l.Error("failed to ensure indexes", err)
		os.Exit(1)
	}

	// 4. Domain service and router
	svc := game.NewService(st, l.Named("game"), game.Options{
		LeaderboardLimit:    cfg.Game.LeaderboardLimit,
		LeaderboardMaxLimit: cfg.Game.LeaderboardMaxLimit,
		AtomicScore:         cfg.Game.AtomicScore,
		BcryptCost:          cfg.Game.BcryptCost,
	})
	router := api.NewRouter(svc, l.Named("http"), api.Options{
		RequestTimeout: cfg.HTTP.RequestTimeout,
		RateLimit:      cfg.HTTP.RateLimit,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	// 5. Observability server
	obsServer := server.New(cfg.HTTP.MetricsAddr, l, server.Check{Name: "mongodb", Run: st.Ping})
	go func() {
		if err := obsServer.Start(); err != nil {
			l.Error("observability server failed", err)
		}
	}()

	// 6. API server
	apiServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		l.Info("api listening", zap.String("addr", cfg.HTTP.Addr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("api server failed", err)
			stop()
		}
	}()

	<-ctx.Done()
	l.Info("api shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		l.Error("api shutdown failed", err)
	}
	obsServer.Shutdown(shutdownCtx)
}
