// Package hub relays account events to interested observers, replaying
// recent history to late subscribers.
package hub

import (
	"container/ring"
	"context"

	"github.com/mailhoard/mailhoard/pkg/account"
)

// Length of hub operation queue
const opChanLen = 100

// Update is one account event tagged with its source account.
type Update struct {
	Account string
	Event   account.Event
}

// Listener receives the contents of the history buffer, followed by new updates
type Listener interface {
	Receive(up Update) error
}

// Hub relays account updates on to its listeners
type Hub struct {
	// history buffer, points next Update to write.  Preceding non-nil entry is oldest Update
	history   *ring.Ring
	listeners map[Listener]struct{} // listeners interested in new updates
	opChan    chan func(h *Hub)     // operations queued for this actor
	done      chan struct{}         // closed when the processing loop exits
}

// New constructs a new Hub which will cache historyLen updates in memory for
// playback to future listeners.  Start must be called to begin processing.
func New(historyLen int) *Hub {
	return &Hub{
		history:   ring.New(historyLen),
		listeners: make(map[Listener]struct{}),
		opChan:    make(chan func(h *Hub), opChanLen),
		done:      make(chan struct{}),
	}
}

// Start Hub processing loop; runs until the provided context is canceled.
func (hub *Hub) Start(ctx context.Context) {
	defer close(hub.done)
	for {
		select {
		case <-ctx.Done():
			// Shutdown
			return
		case op := <-hub.opChan:
			op(hub)
		}
	}
}

// submit queues op for the processing loop.  Senders may race the loop's
// exit, so ops are discarded once the hub has shut down rather than closing
// opChan under them.
func (hub *Hub) submit(op func(h *Hub)) {
	select {
	case hub.opChan <- op:
	case <-hub.done:
	}
}

// Dispatch queues an update for broadcast by the hub.  The update will be
// placed into the history buffer and then relayed to all registered
// listeners.
func (hub *Hub) Dispatch(up Update) {
	hub.submit(func(h *Hub) {
		if h.history != nil {
			// Add to history buffer
			h.history.Value = up
			h.history = h.history.Next()

			// Deliver update to all listeners, removing listeners if they return an error
			for l := range h.listeners {
				if err := l.Receive(up); err != nil {
					delete(h.listeners, l)
				}
			}
		}
	})
}

// AddListener registers a listener to receive broadcasted updates.
func (hub *Hub) AddListener(l Listener) {
	hub.submit(func(h *Hub) {
		// Playback log
		h.history.Do(func(v interface{}) {
			if v != nil {
				l.Receive(v.(Update))
			}
		})

		// Add to listeners
		h.listeners[l] = struct{}{}
	})
}

// RemoveListener deletes a listener registration, it will cease to receive updates.
func (hub *Hub) RemoveListener(l Listener) {
	hub.submit(func(h *Hub) {
		delete(h.listeners, l)
	})
}

// Sync blocks until the hub has processed its queue up to this point, useful
// for unit tests.  Returns immediately after shutdown.
func (hub *Hub) Sync() {
	done := make(chan struct{})
	hub.submit(func(h *Hub) {
		close(done)
	})
	select {
	case <-done:
	case <-hub.done:
	}
}
