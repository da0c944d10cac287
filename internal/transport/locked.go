package transport

import (
	"context"
	"log"
	"sync"
	"time"

	"mpy-sync/internal/metrics"
)

type locked struct {
	mu sync.Mutex
	ch Channel
}

// Locked serializes every command sent through ch and records command
// metrics. The returned channel is safe for concurrent callers; commands
// never overlap.
func Locked(ch Channel) Channel {
	return &locked{ch: ch}
}

func (l *locked) Exec(ctx context.Context, class Class, script string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := l.ch.Exec(ctx, class, script)
	metrics.RecordCommand(class.String(), time.Since(start), err)
	if err != nil && ctx.Err() == nil {
		log.Printf("[transport] %s command failed after %s: %v", class, time.Since(start).Round(time.Millisecond), err)
	}
	return out, err
}

func (l *locked) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	err := l.ch.Reset(ctx)
	metrics.RecordCommand("reset", time.Since(start), err)
	return err
}

func (l *locked) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ch.Close()
}
