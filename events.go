// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package relay

import (
	"sync"
	"time"
)

// EventKind identifies the type of a broker Event.
type EventKind string

const (
	EventPeerConnected    EventKind = "peer_connected"
	EventPeerDisconnected EventKind = "peer_disconnected"
	EventCall             EventKind = "call"
	EventDropped          EventKind = "dropped" // a response or frame was discarded
)

// An Event records a notable change in broker state.
type Event struct {
	Time     time.Time     `json:"time"`
	Kind     EventKind     `json:"kind"`
	Peer     string        `json:"peer,omitempty"`
	Method   string        `json:"method,omitempty"`
	ID       uint64        `json:"id,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
	Drained  int           `json:"drained,omitempty"` // calls failed by a disconnect
}

// eventHub fans events out to subscribers and retains the most recent ones.
// Delivery never blocks: a subscriber that falls behind misses events.
type eventHub struct {
	μ      sync.Mutex
	subs   map[int]chan Event
	nextID int
	recent []Event // ring buffer, oldest first once full
	head   int
	keep   int
	closed bool
}

func newEventHub(keep int) *eventHub {
	return &eventHub{subs: make(map[int]chan Event), keep: keep}
}

func (h *eventHub) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	h.μ.Lock()
	defer h.μ.Unlock()
	if h.keep > 0 {
		if len(h.recent) < h.keep {
			h.recent = append(h.recent, ev)
		} else {
			h.recent[h.head] = ev
			h.head = (h.head + 1) % h.keep
		}
	}
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// snapshot returns a copy of the retained events, oldest first.
func (h *eventHub) snapshot() []Event {
	h.μ.Lock()
	defer h.μ.Unlock()
	out := make([]Event, 0, len(h.recent))
	out = append(out, h.recent[h.head:]...)
	return append(out, h.recent[:h.head]...)
}

func (h *eventHub) subscribe(buf int) (<-chan Event, func()) {
	ch := make(chan Event, buf)
	h.μ.Lock()
	if h.closed {
		h.μ.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.μ.Unlock()

	return ch, func() {
		h.μ.Lock()
		defer h.μ.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
}

// closeAll removes and closes all subscriptions.
func (h *eventHub) closeAll() {
	h.μ.Lock()
	defer h.μ.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
