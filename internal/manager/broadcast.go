package manager

import "sync"

// broadcastCapacity is the bounded backlog per subscriber (spec §4.2, §5).
const broadcastCapacity = 10000

// DeltaReceiver is a subscription handle into the manager's broadcast bus.
// Go has no stdlib equivalent of tokio::sync::broadcast, so the bus is
// synthesized as a bounded channel per subscriber plus a lag counter — the
// shape the design notes call out as an acceptable substitute, grounded on
// luvjson/crdtpubsub/memory.go's per-subscription channel pattern.
type DeltaReceiver struct {
	id      uint64
	ch      chan Delta
	bus     *broadcastBus
	closed  bool
	mu      sync.Mutex
	lagged  uint64
}

// Recv blocks until a delta is available or the subscription is closed (ok
// is false once the channel is closed and drained).
func (r *DeltaReceiver) Recv() (Delta, bool) {
	d, ok := <-r.ch
	return d, ok
}

// Chan exposes the underlying channel for use in select statements (the
// transport layer multiplexes this against socket reads).
func (r *DeltaReceiver) Chan() <-chan Delta { return r.ch }

// Lagged returns the number of deltas dropped for this subscriber because
// its backlog was full, and resets the counter.
func (r *DeltaReceiver) Lagged() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.lagged
	r.lagged = 0
	return n
}

// Close releases the subscription.
func (r *DeltaReceiver) Close() {
	r.bus.unsubscribe(r.id)
}

type broadcastBus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*DeltaReceiver
	closed bool
}

func newBroadcastBus() *broadcastBus {
	return &broadcastBus{subs: make(map[uint64]*DeltaReceiver)}
}

func (b *broadcastBus) subscribe() *DeltaReceiver {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	r := &DeltaReceiver{
		id:  b.nextID,
		ch:  make(chan Delta, broadcastCapacity),
		bus: b,
	}
	b.subs[r.id] = r
	return r
}

func (b *broadcastBus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(r.ch)
	}
}

// publish fans d out to every current subscriber. A full backlog increments
// that subscriber's lag counter and drops its oldest queued delta to make
// room for d, so a slow reader resumes from the newest deltas; the publisher
// never blocks on a slow reader.
func (b *broadcastBus) publish(d Delta) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.subs {
		select {
		case r.ch <- d:
		default:
			select {
			case <-r.ch:
			default:
			}
			select {
			case r.ch <- d:
			default:
			}
			r.mu.Lock()
			r.lagged++
			r.mu.Unlock()
		}
	}
}

// subscriberCount reports the current number of live subscribers.
func (b *broadcastBus) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// close terminates every subscriber's channel, used on manager shutdown.
func (b *broadcastBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, r := range b.subs {
		close(r.ch)
		delete(b.subs, id)
	}
}
