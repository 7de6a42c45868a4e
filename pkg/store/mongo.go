package store

import (
	"context"
	"fmt"
	"time"

	"github.com/AdarCohen1/MathStARz/pkg/config"
	"github.com/AdarCohen1/MathStARz/pkg/logger"
	"github.com/AdarCohen1/MathStARz/pkg/retry"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Connect opens a client for cfg.URI and waits until the primary answers a
// ping, retrying with backoff. Embedded documents decode as bson.M so
// opaque payloads serialize to plain JSON objects.
func Connect(ctx context.Context, cfg config.MongoConfig, l *logger.Logger) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create mongodb client: %w", err)
	}

	retryOpts := retry.DefaultOptions()
	retryOpts.MaxInterval = 10 * time.Second
	retryOpts.OnRetry = func(attempt int, err error) {
		l.Warn("mongodb not reachable yet", zap.Int("attempt", attempt), zap.Error(err))
	}

	err = retry.Do(ctx, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		return client.Ping(pingCtx, readpref.Primary())
	}, retryOpts)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	l.Info("connected to mongodb", zap.String("database", cfg.Database))
	return client, nil
}
