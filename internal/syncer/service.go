// Package syncer consumes exported user changes and hands them to the
// worker pool that maintains the reporting table.
package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/AdarCohen1/MathStARz/pkg/consumer"
	"github.com/AdarCohen1/MathStARz/pkg/logger"
	"github.com/AdarCohen1/MathStARz/pkg/parser"
	"github.com/AdarCohen1/MathStARz/pkg/writer"

	"go.uber.org/zap"
)

// Pool is the batching stage the service feeds.
type Pool interface {
	Start(ctx context.Context)
	Submit(ctx context.Context, item writer.Pending) error
	Shutdown(ctx context.Context) error
}

type Service struct {
	logger   *logger.Logger
	consumer consumer.Consumer
	pool     Pool
}

func NewService(l *logger.Logger, c consumer.Consumer, p Pool) *Service {
	return &Service{logger: l, consumer: c, pool: p}
}

// Run consumes until ctx is done or the consumer fails, then drains the
// pool. Cancellation is a clean stop.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting user_scores syncer")

	s.pool.Start(ctx)
	msgs, errs := s.consumer.Consume(ctx)

	runErr := s.loop(ctx, msgs, errs)

	if err := s.shutdown(context.Background()); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

func (s *Service) loop(ctx context.Context, msgs <-chan consumer.Message, errs <-chan error) error {
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				if err := <-errs; err != nil {
					return fmt.Errorf("consumer stopped: %w", err)
				}
				return nil
			}
			if err := s.handle(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// handle parses one message. Malformed messages are logged and committed so
// they are not redelivered forever.
func (s *Service) handle(ctx context.Context, msg consumer.Message) error {
	row, err := parser.ParseUserChange(msg.Value)
	if err != nil {
		s.logger.Warn("skipping malformed user change",
			zap.Error(err),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset))
		return s.consumer.Commit(ctx, msg)
	}
	return s.pool.Submit(ctx, writer.Pending{Row: row, Msg: msg})
}

func (s *Service) shutdown(ctx context.Context) error {
	s.logger.Info("stopping user_scores syncer")
	return errors.Join(s.pool.Shutdown(ctx), s.consumer.Close())
}
