package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdarCohen1/MathStARz/internal/syncer"
	"github.com/AdarCohen1/MathStARz/pkg/config"
	"github.com/AdarCohen1/MathStARz/pkg/consumer"
	"github.com/AdarCohen1/MathStARz/pkg/logger"
	"github.com/AdarCohen1/MathStARz/pkg/retry"
	"github.com/AdarCohen1/MathStARz/pkg/server"
	"github.com/AdarCohen1/MathStARz/pkg/worker"
	"github.com/AdarCohen1/MathStARz/pkg/writer"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "optional config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath, "syncer")
	if err == nil {
		err = cfg.ValidateSyncer()
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

	// 3. Reporting table
	pgWriter, err := writer.NewPGWriter(ctx, cfg.Postgres, l.Named("writer"))
	if err != nil {
		l.Error("failed to connect to postgres", err)
		os.Exit(1)
	}
	defer pgWriter.Close()

	// 4. Consumer and worker pool
	kafkaConsumer := consumer.NewKafkaConsumer(cfg.Kafka)
	pool := worker.NewPool(l.Named("worker"), pgWriter, kafkaConsumer, worker.Options{
		Workers:       cfg.Syncer.WorkerCount,
		BatchSize:     cfg.Syncer.BatchSize,
		FlushInterval: cfg.Syncer.FlushInterval,
		Retry:         retry.DefaultOptions(),
	})

	// 5. Create service
	svc := syncer.NewService(l, kafkaConsumer, pool)

	// 6. Observability server
	obsServer := server.New(cfg.HTTP.MetricsAddr, l, server.Check{Name: "postgres", Run: pgWriter.Ping})
	go func() {
		if err := obsServer.Start(); err != nil {
			l.Error("observability server failed", err)
		}
	}()

	// 7. Run until stopped
	l.Info("syncer running", zap.String("topic", cfg.Kafka.Topic), zap.String("group_id", cfg.Kafka.GroupID))
	if err := svc.Run(ctx); err != nil {
		l.Error("syncer failed", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	obsServer.Shutdown(shutdownCtx)
}
