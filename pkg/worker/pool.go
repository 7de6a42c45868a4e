// Package worker batches parsed user rows into the reporting writer and
// commits Kafka offsets once a batch is durable.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AdarCohen1/MathStARz/pkg/consumer"
	"github.com/AdarCohen1/MathStARz/pkg/logger"
	"github.com/AdarCohen1/MathStARz/pkg/metrics"
	"github.com/AdarCohen1/MathStARz/pkg/retry"
	"github.com/AdarCohen1/MathStARz/pkg/writer"

	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("worker pool closed")

type Options struct {
	Workers       int
	BatchSize     int
	FlushInterval time.Duration
	Retry         retry.RetryOptions
}

// Pool runs Workers goroutines, each owning a buffer. Messages from one
// Kafka partition always go to the same worker so their offsets are
// committed in order.
type Pool struct {
	logger   *logger.Logger
	writer   writer.Writer
	consumer consumer.Consumer
	opts     Options
	inputs   []chan writer.Pending
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewPool(l *logger.Logger, w writer.Writer, c consumer.Consumer, opts Options) *Pool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	inputs := make([]chan writer.Pending, opts.Workers)
	for i := range inputs {
		inputs[i] = make(chan writer.Pending, opts.BatchSize)
	}
	return &Pool{logger: l, writer: w, consumer: c, opts: opts, inputs: inputs}
}

func (p *Pool) Start(ctx context.Context) {
	for i, in := range p.inputs {
		p.wg.Add(1)
		go p.run(ctx, i, in)
	}
}

// Submit blocks until the owning worker accepts the row or ctx is done.
func (p *Pool) Submit(ctx context.Context, item writer.Pending) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	in := p.inputs[p.route(item.Msg)]
	select {
	case in <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) route(m consumer.Message) int {
	part := m.Partition
	if part < 0 {
		part = -part
	}
	return part % len(p.inputs)
}

func (p *Pool) run(ctx context.Context, id int, in <-chan writer.Pending) {
	defer p.wg.Done()
	log := p.logger.With(zap.Int("worker_id", id))
	log.Debug("worker started")

	buf := writer.NewBuffer(p.opts.BatchSize)
	ticker := time.NewTicker(p.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case item, ok := <-in:
			if !ok {
				p.flush(context.Background(), log, buf)
				return
			}
			metrics.SyncerMessagesConsumedTotal.Inc()
			if buf.Add(item) {
				p.flush(ctx, log, buf)
			}
		case <-ticker.C:
			if buf.Due(p.opts.FlushInterval) {
				p.flush(ctx, log, buf)
			}
		case <-ctx.Done():
			p.flush(context.Background(), log, buf)
			return
		}
	}
}

// flush writes the buffered rows with retries and commits their offsets.
// A batch that still fails is left uncommitted so Kafka redelivers it.
func (p *Pool) flush(ctx context.Context, log *logger.Logger, buf *writer.Buffer) {
	items := buf.Drain()
	if len(items) == 0 {
		return
	}
	rows := make([]writer.UserRow, len(items))
	msgs := make([]consumer.Message, len(items))
	for i, it := range items {
		rows[i] = it.Row
		msgs[i] = it.Msg
	}

	opts := p.opts.Retry
	opts.OnRetry = func(attempt int, err error) {
		metrics.SyncerWriteErrorsTotal.Inc()
		log.Warn("batch write failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}

	start := time.Now()
	err := retry.Do(ctx, func(ctx context.Context) error {
		return p.writer.WriteBatch(ctx, rows)
	}, opts)
	switch {
	case retry.IsPermanent(err):
		// Redelivery would fail the same way, so the offsets move past it.
		metrics.SyncerWriteErrorsTotal.Inc()
		log.Error("skipping batch the database rejected", err, zap.Int("size", len(rows)))
	case err != nil:
		metrics.SyncerWriteErrorsTotal.Inc()
		log.Error("dropping batch after retries", err, zap.Int("size", len(rows)))
		return
	default:
		metrics.SyncerUpsertLatency.Observe(time.Since(start).Seconds())
		metrics.SyncerBatchWritesTotal.Inc()
	}

	if err := p.consumer.Commit(ctx, msgs...); err != nil {
		log.Error("failed to commit offsets", err, zap.Int64("last_offset", msgs[len(msgs)-1].Offset))
		return
	}
	log.Debug("batch flushed", zap.Int("size", len(rows)))
}

// Shutdown stops accepting work, lets every worker flush and waits.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, in := range p.inputs {
			close(in)
		}
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
