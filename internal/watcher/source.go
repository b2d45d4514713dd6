// Package watcher tails live log files and turns new lines into LogEvents.
package watcher

import (
	"context"

	"github.com/setevik/logsentinel/internal/event"
)

// Source is the interface for receiving live log events.
// Implementations include the file tailer and test mocks.
type Source interface {
	// Events returns a channel of log events. The channel is closed when the
	// source is stopped, fails, or the context is cancelled.
	Events(ctx context.Context) (<-chan event.LogEvent, error)

	// Stop signals the source to shut down.
	Stop()
}
