package store

import (
	"context"
	"sync"
	"time"

	"stars/internal/log"
)

const (
	EntityChild       Entity = "child"
	EntityTemplate    Entity = "task_template"
	EntityReward      Entity = "reward"
	EntitySubmission  Entity = "submission"
	EntityProposal    Entity = "proposal"
	EntityRedemption  Entity = "redemption"
	EntityTransaction Entity = "transaction"
)

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	// OpResync replaces changes a slow subscriber lost. It carries no
	// entity, and the subscriber must treat everything it derived from
	// earlier changes as stale.
	OpResync Op = "resync"
)

const subscriberBuffer = 64

type (
	Entity string
	Op     string

	// Change describes one committed write.
	Change struct {
		Entity   Entity    `json:"entity"`
		Op       Op        `json:"op"`
		ID       string    `json:"id"`
		FamilyID string    `json:"family_id"`
		ChildID  string    `json:"child_id,omitempty"`
		At       time.Time `json:"at"`
	}

	// Filter scopes a subscription. Empty fields match everything.
	Filter struct {
		FamilyID string
		ChildID  string
		Entities []Entity
	}
)

func (f Filter) Match(c Change) bool {
	if f.FamilyID != "" && c.FamilyID != f.FamilyID {
		return false
	}
	if f.ChildID != "" && c.ChildID != f.ChildID {
		return false
	}
	if len(f.Entities) == 0 {
		return true
	}
	for _, e := range f.Entities {
		if e == c.Entity {
			return true
		}
	}
	return false
}

// Hub fans committed changes out to subscribers. Both backends publish
// through a Hub after commit, so subscribers never see rolled-back writes.
// A subscriber that falls behind has its backlog replaced by one OpResync
// change rather than blocking writers.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	filter Filter
	ch     chan Change
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a subscriber that is removed, and its channel
// closed, when ctx is done or the hub is closed.
func (h *Hub) Subscribe(ctx context.Context, f Filter) (<-chan Change, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	sub := &subscriber{filter: f, ch: make(chan Change, subscriberBuffer)}
	h.subs[sub] = struct{}{}

	go func() {
		<-ctx.Done()
		h.remove(sub)
	}()

	return sub.ch, nil
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Publish delivers changes to every matching subscriber.
func (h *Hub) Publish(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		for _, c := range changes {
			if !sub.filter.Match(c) {
				continue
			}
			select {
			case sub.ch <- c:
			default:
				log.ForComponent(log.ComponentStorage).Warn("Subscriber too slow, replacing backlog with resync",
					"entity", string(c.Entity), "id", c.ID, log.FieldFamilyID, c.FamilyID)
				sub.resync(c.At)
			}
		}
	}
}

// resync empties the buffer and queues a single OpResync. The hub is the
// only sender and holds its lock, so the marker always fits.
func (sub *subscriber) resync(at time.Time) {
drain:
	for {
		select {
		case <-sub.ch:
		default:
			break drain
		}
	}
	sub.ch <- Change{Op: OpResync, At: at}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber channel; later Subscribe calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}
