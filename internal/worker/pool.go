// Package worker provides the goroutine pool that runs migration batches.
//
// Every task goes through the pool with the caller's context; no task is
// started with a context that is already cancelled.
package worker

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// ErrPoolClosed is returned when submitting to a released pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a context-aware unit of work.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
	log  *zap.Logger
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Running int
	Free    int
	Cap     int
}

// shutdownTimeout bounds how long Release waits for running tasks.
const shutdownTimeout = 30 * time.Second

// New creates a blocking pool of size workers. Panics inside tasks are
// recovered and logged.
func New(name string, size int, log *zap.Logger) (*Pool, error) {
	if log == nil {
		log = zap.NewNop()
	}
	panicHandler := func(p any) {
		log.Error("worker panic recovered",
			zap.String("pool", name),
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}
	p, err := ants.NewPool(size,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s pool", name)
	}
	return &Pool{pool: p, name: name, log: log}, nil
}

// Submit queues task. If ctx is already cancelled Submit returns ctx.Err()
// without queueing; a task whose context is cancelled while queued is
// skipped.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := p.pool.Submit(func() {
		select {
		case <-ctx.Done():
			p.log.Debug("task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Stats returns the current occupancy.
func (p *Pool) Stats() Stats {
	return Stats{Running: p.pool.Running(), Free: p.pool.Free(), Cap: p.pool.Cap()}
}

// Release stops accepting tasks and waits for running ones.
func (p *Pool) Release() {
	if err := p.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		p.log.Warn("pool shutdown timeout", zap.String("pool", p.name), zap.Error(err))
	}
}
