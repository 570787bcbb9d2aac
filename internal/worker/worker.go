// Package worker runs crawl jobs on a fixed pool of goroutines fed by a
// bounded queue, plus periodic housekeeping beside it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("worker pool closed")
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("worker queue full")
)

// Task is a unit of work. ctx ends when the pool shuts down.
type Task func(ctx context.Context)

// Pool executes submitted tasks on a fixed number of goroutines.
type Pool struct {
	tasks  chan Task
	size   int
	logger *zap.Logger

	closeMu sync.RWMutex
	closed  bool
}

// NewPool creates a pool with size workers and a queue of depth pending tasks.
func NewPool(size, depth int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if depth < 0 {
		depth = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		tasks:  make(chan Task, depth),
		size:   size,
		logger: logger.Named("worker"),
	}
}

// Run starts the workers and blocks until ctx finishes and every worker has
// returned. Tasks still queued at that point are dropped.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	<-ctx.Done()
	wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(ctx, id, task)
		}
	}
}

func (p *Pool) run(ctx context.Context, id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.Int("worker", id), zap.Any("panic", r))
		}
	}()
	task(ctx)
}

// Submit queues task without blocking.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submit canceled: %w", err)
	}
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Every runs task once per interval until ctx ends. It runs on its own
// goroutine rather than through the queue, so it neither takes queue slots
// nor waits for busy workers. Runs never overlap; ticks missed while task is
// running are dropped.
func (p *Pool) Every(ctx context.Context, interval time.Duration, task Task) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.run(ctx, -1, task)
			}
		}
	}()
}

// Close stops accepting tasks. Workers exit once the queue drains or the Run
// context ends.
func (p *Pool) Close() {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return
	}
	close(p.tasks)
	p.closed = true
}
