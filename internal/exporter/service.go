// Package exporter publishes every change to the users collection to Kafka
// and checkpoints the change stream after each acknowledged publish.
package exporter

import (
	"context"
	"errors"
	"fmt"

	"github.com/AdarCohen1/MathStARz/pkg/changestream"
	"github.com/AdarCohen1/MathStARz/pkg/logger"
	"github.com/AdarCohen1/MathStARz/pkg/metrics"
	"github.com/AdarCohen1/MathStARz/pkg/producer"
	"github.com/AdarCohen1/MathStARz/pkg/retry"
	"github.com/AdarCohen1/MathStARz/pkg/token"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

type Service struct {
	logger    *logger.Logger
	tokens    token.Store
	publisher producer.Publisher
	watcher   changestream.Watcher
	retryOpts retry.RetryOptions
}

func NewService(l *logger.Logger, tokens token.Store, pub producer.Publisher, w changestream.Watcher) *Service {
	return &Service{
		logger:    l,
		tokens:    tokens,
		publisher: pub,
		watcher:   w,
		retryOpts: retry.DefaultOptions(),
	}
}

// Run resumes from the stored token and exports changes until ctx is done
// or a change cannot be exported.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting users exporter")
	defer s.close()

	// 1. Resume point
	resume, err := s.tokens.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load resume token: %w", err)
	}
	if resume == nil {
		s.logger.Info("no resume token, starting from now")
	}

	// 2. Watch
	changes, errs := s.watcher.Watch(ctx, resume)

	// 3. Export loop
	for {
		select {
		case change, ok := <-changes:
			if !ok {
				if err := <-errs; err != nil {
					return fmt.Errorf("users watcher stopped: %w", err)
				}
				return ctx.Err()
			}
			if err := s.export(ctx, change); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// export publishes the change keyed by user id, then saves its resume
// token. The token is never saved for a change that was not acknowledged.
func (s *Service) export(ctx context.Context, change changestream.UserChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to encode change %s: %w", change.EventID, err)
	}

	err = retry.Do(ctx, func(ctx context.Context) error {
		return s.publisher.Publish(ctx, []byte(change.UserID), payload)
	}, s.publishOpts(change))
	if err != nil {
		metrics.ExporterPublishErrorsTotal.Inc()
		return fmt.Errorf("failed to publish change %s: %w", change.EventID, err)
	}
	metrics.ExporterEventsTotal.Inc()

	err = retry.Do(ctx, func(ctx context.Context) error {
		return s.tokens.Save(ctx, change.ResumeToken)
	}, s.withLog("save token", change))
	if err != nil {
		return fmt.Errorf("failed to save resume token: %w", err)
	}
	metrics.ExporterTokenSavesTotal.Inc()

	s.logger.Debug("exported user change",
		zap.String("event_id", change.EventID),
		zap.String("operation", change.Operation),
		zap.String("user_id", change.UserID))
	return nil
}

func (s *Service) publishOpts(change changestream.UserChange) retry.RetryOptions {
	opts := s.withLog("publish", change)
	opts.Classifier = producer.Retryable
	return opts
}

func (s *Service) withLog(step string, change changestream.UserChange) retry.RetryOptions {
	opts := s.retryOpts
	opts.OnRetry = func(attempt int, err error) {
		s.logger.Warn(step+" failed, retrying",
			zap.String("event_id", change.EventID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return opts
}

func (s *Service) close() {
	err := errors.Join(s.watcher.Close(), s.publisher.Close())
	if err != nil {
		s.logger.Error("failed to close exporter", err)
	}
}
