package history

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/italolelis/download_history/internal/logctx"
)

// Loop is a TaskRunner backed by an unbounded FIFO queue drained by a single
// goroutine. Tasks may post further tasks without blocking.
type Loop struct {
	mu    sync.Mutex
	tasks []func()
	wake  chan struct{}
}

// NewLoop creates an idle loop. Call Run to start executing tasks.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// PostTask enqueues task. It never blocks and never runs task inline.
func (l *Loop) PostTask(task func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})

	l.PostTask(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes tasks until ctx is cancelled. Tasks still queued at that point
// are discarded.
func (l *Loop) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("history loop started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("history loop shutdown", "reason", "context_cancelled")

			return nil
		case <-l.wake:
			for {
				task, ok := l.next()
				if !ok {
					break
				}

				l.runTask(ctx, task)

				if ctx.Err() != nil {
					break
				}
			}
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.tasks) == 0 {
		return nil, false
	}

	task := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]

	return task, true
}

func (l *Loop) runTask(ctx context.Context, task func()) {
	defer func() {
		if r := recover(); r != nil {
			logctx.LoggerFromContext(ctx).Error("history task panic",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	task()
}
