package watcher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/setevik/logsentinel/internal/event"
)

// healthyRun is how long a source must deliver before its failures stop
// counting against the restart budget.
const healthyRun = time.Minute

// SupervisedSource restarts a failing Source until the context ends or the
// restart budget is spent.
type SupervisedSource struct {
	factory     func() Source
	restartWait time.Duration
	maxRestarts int

	restarts atomic.Int64
	mu       sync.Mutex
	cancel   context.CancelFunc
}

// NewSupervisedSource wraps a source factory. After a failure it waits
// restartWait before building a new source. maxRestarts of 0 means
// unlimited; a source that ran for a while without failing resets the count.
func NewSupervisedSource(factory func() Source, restartWait time.Duration, maxRestarts int) *SupervisedSource {
	return &SupervisedSource{
		factory:     factory,
		restartWait: restartWait,
		maxRestarts: maxRestarts,
	}
}

// Restarts returns the total number of restarts so far.
func (s *SupervisedSource) Restarts() int {
	return int(s.restarts.Load())
}

// Events forwards events across restarts. The channel is closed when the
// context is cancelled, Stop is called or the restart budget is exceeded.
func (s *SupervisedSource) Events(ctx context.Context) (<-chan event.LogEvent, error) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	out := make(chan event.LogEvent, 64)

	go func() {
		defer close(out)
		defer cancel()

		budget := 0
		for {
			if s.maxRestarts > 0 && budget >= s.maxRestarts {
				slog.Error("log watcher exceeded max restarts", "max", s.maxRestarts)
				return
			}

			started := time.Now()
			if s.run(ctx, out) {
				return
			}
			if time.Since(started) >= healthyRun {
				budget = 0
			}
			budget++
			n := s.restarts.Add(1)
			slog.Warn("log source stopped, restarting", "restart_count", n, "wait", s.restartWait)

			select {
			case <-ctx.Done():
				return
			case <-time.After(s.restartWait):
			}
		}
	}()

	return out, nil
}

// run drives one source instance. It reports whether the supervisor should
// exit because the context is done.
func (s *SupervisedSource) run(ctx context.Context, out chan<- event.LogEvent) bool {
	source := s.factory()
	defer source.Stop()

	events, err := source.Events(ctx)
	if err != nil {
		slog.Error("failed to start log source", "error", err, "restart_count", s.Restarts())
		return ctx.Err() != nil
	}
	slog.Info("log source started", "restart_count", s.Restarts())

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return ctx.Err() != nil
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return true
			}
		case <-ctx.Done():
			return true
		}
	}
}

func (s *SupervisedSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}
