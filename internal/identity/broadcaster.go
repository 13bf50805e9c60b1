package identity

import (
	"context"
	"sync"
)

const defaultBufferSize = 4

// Broadcaster fans identity changes out to subscribers. Subscribers always observe the
// latest snapshot: when a subscriber falls behind, stale pending snapshots are dropped.
type Broadcaster struct {
	mu          sync.Mutex
	current     Snapshot
	subscribers map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Snapshot
}

// NewBroadcaster starts with the guest snapshot.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		current:     Guest(),
		subscribers: make(map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Current returns the last published snapshot.
func (b *Broadcaster) Current() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Subscribe returns a stream primed with the current snapshot. The stream is closed by
// the returned cleanup or when ctx ends.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Snapshot, func()) {
	b.mu.Lock()
	b.nextID++
	sub := &subscriber{
		id:     b.nextID,
		stream: make(chan Snapshot, b.bufferSize),
	}
	sub.stream <- b.current
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() { b.unregister(sub.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish records snapshot and notifies subscribers. It reports false when the snapshot
// equals the current one.
func (b *Broadcaster) Publish(snapshot Snapshot) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if snapshot == b.current {
		return false
	}
	b.current = snapshot
	for _, sub := range b.subscribers {
		deliverLatest(sub.stream, snapshot)
	}
	return true
}

func deliverLatest(stream chan Snapshot, snapshot Snapshot) {
	for {
		select {
		case stream <- snapshot:
			return
		default:
		}
		select {
		case <-stream:
		default:
		}
	}
}

func (b *Broadcaster) unregister(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(sub.stream)
}
