package batch

import (
	"sync"
	"time"
)

// Snapshot is a consistent view of batch progress.
type Snapshot struct {
	BatchID   string    `json:"batch_id"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Cancelled int       `json:"cancelled"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at"`
}

// Progress tracks the counters of the current batch and pushes every change
// to subscribers. Its mutex also guards the record arena of a running batch,
// so a snapshot never disagrees with the stored records.
type Progress struct {
	mu     sync.Mutex
	snap   Snapshot
	subs   map[int]chan Snapshot
	nextID int
}

func NewProgress() *Progress {
	return &Progress{subs: make(map[int]chan Snapshot)}
}

// Snapshot returns the current counters.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Subscribe returns a channel receiving a snapshot after every update, and
// a function that ends the subscription. Updates are dropped for a
// subscriber whose buffer is full; Snapshot always has the latest state.
func (p *Progress) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(ch)
		})
	}
}

// update applies fn to the counters under the lock and notifies subscribers.
func (p *Progress) update(fn func(s *Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.snap)
	for _, ch := range p.subs {
		select {
		case ch <- p.snap:
		default:
		}
	}
}
