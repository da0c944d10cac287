package events

import (
	"github.com/asaskevich/EventBus"

	"mpy-sync/internal/remotefs"
)

// Bridge republishes device tree notifications on an event bus so
// subscribers do not need a handle on the FS.
type Bridge struct {
	Bus EventBus.Bus
}

// NewBridge returns a Bridge publishing on GlobalBus.
func NewBridge() *Bridge {
	return &Bridge{Bus: GlobalBus}
}

func (b *Bridge) Before(evs []remotefs.Event) {
	b.Bus.Publish(EventRemoteBefore, evs)
}

func (b *Bridge) After(evs []remotefs.Event) {
	b.Bus.Publish(EventRemoteAfter, evs)
}
