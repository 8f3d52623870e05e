package notification

import (
	"sync"
	"time"

	"github.com/jyothri/detach/detach"
)

// All receives the progress of every run.
const All string = "all"

// Progress is a detach.Event stamped with the run it belongs to.
type Progress struct {
	RunId string    `json:"run_id"`
	Time  time.Time `json:"time"`
	detach.Event
}

// finishedLimit bounds how many final events the hub remembers.
const finishedLimit = 64

// Hub fans progress out to subscribers keyed by run id. Slow subscribers
// miss events rather than stall the run. The final event of the most recent
// runs is kept for subscribers that arrive after the run ended.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan Progress]struct{}
	finished    map[string]Progress
	order       []string
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[chan Progress]struct{}),
		finished:    make(map[string]Progress),
	}
}

// Subscribe returns a channel of progress for key, which is a run id or
// All, and a function that releases it.
func (h *Hub) Subscribe(key string) (<-chan Progress, func()) {
	ch := make(chan Progress, 16)
	h.mu.Lock()
	if h.subscribers[key] == nil {
		h.subscribers[key] = make(map[chan Progress]struct{})
	}
	h.subscribers[key][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subscribers[key], ch)
			if len(h.subscribers[key]) == 0 {
				delete(h.subscribers, key)
			}
			close(ch)
		})
	}
}

func (h *Hub) Publish(p Progress) {
	if p.Time.IsZero() {
		p.Time = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if p.Done && p.RunId != All {
		h.remember(p)
	}
	pushToSubscribers(h.subscribers[p.RunId], p)
	if p.RunId != All {
		pushToSubscribers(h.subscribers[All], p)
	}
}

// Finished returns the final event of run id once the run has ended.
func (h *Hub) Finished(id string) (Progress, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.finished[id]
	return p, ok
}

func (h *Hub) remember(p Progress) {
	if _, seen := h.finished[p.RunId]; !seen {
		h.order = append(h.order, p.RunId)
	}
	h.finished[p.RunId] = p
	for len(h.order) > finishedLimit {
		delete(h.finished, h.order[0])
		h.order = h.order[1:]
	}
}

// Observer publishes the events of run id.
func (h *Hub) Observer(id string) detach.Observer {
	return func(e detach.Event) {
		h.Publish(Progress{RunId: id, Event: e})
	}
}

func pushToSubscribers(subs map[chan Progress]struct{}, p Progress) {
	for ch := range subs {
		select {
		case ch <- p:
		default:
		}
	}
}
