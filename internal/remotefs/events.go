package remotefs

import "sync"

type EventKind int

const (
	EventCreate EventKind = iota
	EventDelete
	EventMove
	EventRename
	EventCopy
	EventContentChange
	// EventRefresh reports that the whole tree was replaced.
	EventRefresh
)

func (k EventKind) String() string {
	switch k {
	case EventCreate:
		return "create"
	case EventDelete:
		return "delete"
	case EventMove:
		return "move"
	case EventRename:
		return "rename"
	case EventCopy:
		return "copy"
	case EventContentChange:
		return "content-change"
	case EventRefresh:
		return "refresh"
	}
	return "unknown"
}

// Event describes one change. Path is the node's path after the change;
// OldPath is set for move, rename and copy (the source).
type Event struct {
	Kind         EventKind
	Path         string
	OldPath      string
	IsDir        bool
	Size         int64
	OldTimestamp int64
	NewTimestamp int64
}

// Observer is notified around every mutation. Before runs before the device
// command; After runs once the device and the tree agree. A Before that is
// never followed by After means the operation failed and nothing changed
// locally. Observers run on the mutating goroutine and must not call back
// into the FS.
type Observer interface {
	Before(events []Event)
	After(events []Event)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	BeforeFunc func([]Event)
	AfterFunc  func([]Event)
}

func (o ObserverFuncs) Before(events []Event) {
	if o.BeforeFunc != nil {
		o.BeforeFunc(events)
	}
}

func (o ObserverFuncs) After(events []Event) {
	if o.AfterFunc != nil {
		o.AfterFunc(events)
	}
}

type observerList struct {
	mu   sync.RWMutex
	next int
	subs map[int]Observer
	ids  []int
}

func (l *observerList) add(o Observer) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subs == nil {
		l.subs = make(map[int]Observer)
	}
	id := l.next
	l.next++
	l.subs[id] = o
	l.ids = append(l.ids, id)

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs, id)
		for i, x := range l.ids {
			if x == id {
				l.ids = append(l.ids[:i], l.ids[i+1:]...)
				break
			}
		}
	}
}

// snapshot returns observers in subscription order.
func (l *observerList) snapshot() []Observer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Observer, 0, len(l.ids))
	for _, id := range l.ids {
		out = append(out, l.subs[id])
	}
	return out
}

func (l *observerList) before(events []Event) {
	for _, o := range l.snapshot() {
		o.Before(events)
	}
}

func (l *observerList) after(events []Event) {
	for _, o := range l.snapshot() {
		o.After(events)
	}
}
