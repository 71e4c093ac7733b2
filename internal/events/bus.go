// README: In-process pub/sub bus; handlers run per-event goroutines so publishers never block.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

type Handler func(Event)

type Bus struct {
	mu     sync.RWMutex
	byKind map[Kind][]Handler
	all    []Handler
	log    *logrus.Logger
}

func NewBus(log *logrus.Logger) *Bus {
	return &Bus{byKind: make(map[Kind][]Handler), log: log}
}

func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byKind[kind] = append(b.byKind[kind], h)
}

func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish assigns the event id and timestamp when unset and dispatches to all
// matching handlers, each on its own goroutine.
func (b *Bus) Publish(e Event) Event {
	e = e.withDefaults()

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.byKind[e.Kind])+len(b.all))
	handlers = append(handlers, b.byKind[e.Kind]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		go b.dispatch(h, e)
	}
	return e
}

func (b *Bus) dispatch(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil && b.log != nil {
			b.log.WithFields(logrus.Fields{"kind": e.Kind, "event_id": e.ID, "panic": r}).
				Error("event handler panicked")
		}
	}()
	h(e)
}
