package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdarCohen1/MathStARz/internal/exporter"
	"github.com/AdarCohen1/MathStARz/pkg/changestream"
	"github.com/AdarCohen1/MathStARz/pkg/config"
	"github.com/AdarCohen1/MathStARz/pkg/logger"
	"github.com/AdarCohen1/MathStARz/pkg/producer"
	"github.com/AdarCohen1/MathStARz/pkg/server"
	"github.com/AdarCohen1/MathStARz/pkg/store"
	"github.com/AdarCohen1/MathStARz/pkg/token"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "optional config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath, "exporter")
	if err == nil {
		err = cfg.ValidateExporter()
	}
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
	users := client.Database(cfg.MongoDB.Database).Collection(cfg.MongoDB.UsersCollection)

	// 4. Resume token backend
	var rdb *redis.Client
	if cfg.Exporter.TokenBackend == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}
	tokens, err := token.New(cfg.Exporter, rdb)
	if err != nil {
		l.Error("failed to create token store", err)
		os.Exit(1)
	}

	// 5. Create service
	pub := producer.NewKafkaPublisher(cfg.Kafka)
	svc := exporter.NewService(l, tokens, pub, changestream.NewUsersWatcher(users))

	// 6. Observability server
	checks := []server.Check{{Name: "mongodb", Run: func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	}}}
	if rdb != nil {
		checks = append(checks, server.Check{Name: "redis", Run: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	obsServer := server.New(cfg.HTTP.MetricsAddr, l, checks...)
	go func() {
		if err := obsServer.Start(); err != nil {
			l.Error("observability server failed", err)
		}
	}()

	// 7. Run until stopped
	l.Info("exporter running", zap.String("topic", cfg.Kafka.Topic), zap.String("token_backend", cfg.Exporter.TokenBackend))
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("exporter failed", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	obsServer.Shutdown(shutdownCtx)
}
