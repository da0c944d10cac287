// Package transport sends batches of textual commands to the device and
// returns the captured output.
package transport

import (
	"context"
	"time"
)

// Class selects the timeout applied to a command.
type Class int

const (
	// Short is used for interactive commands: reset, single reads, mkdir, touch, rename.
	Short Class = iota
	// Long is used for bulk work: listings, multi-object deletes, uploads.
	Long
)

func (c Class) String() string {
	if c == Long {
		return "long"
	}
	return "short"
}

// Timeouts holds the duration of each command class.
type Timeouts struct {
	Short time.Duration
	Long  time.Duration
}

// DefaultTimeouts mirrors the defaults written by "mpy-sync init".
var DefaultTimeouts = Timeouts{Short: 5 * time.Second, Long: 100 * time.Second}

// For returns the timeout of class c, falling back to the defaults.
func (t Timeouts) For(c Class) time.Duration {
	d := t.Short
	def := DefaultTimeouts.Short
	if c == Long {
		d, def = t.Long, DefaultTimeouts.Long
	}
	if d <= 0 {
		return def
	}
	return d
}

// Channel is a single logical connection to the device. Implementations are
// not reentrant; wrap them with Locked before sharing.
type Channel interface {
	// Exec runs script on the device and returns everything it printed.
	Exec(ctx context.Context, class Class, script string) ([]byte, error)
	// Reset soft-resets the device.
	Reset(ctx context.Context) error
	Close() error
}
