// Package transport implements the binding abstraction (C9) and per-binding
// listener loop (C10): a Binding hides the wire transport (CoAP, STOMP)
// behind a send/listen/receive contract, and an inbound queue smooths the
// mismatch between a transport's own delivery model and the agent's single
// dispatch path.
package transport

import (
	"time"

	log "github.com/golang/glog"

	"github.com/Workiva/go-datastructures/queue"
)

// Addr names a destination reachable through exactly one binding's
// protocol. Only the fields relevant to that protocol are populated (spec.md
// 3.5: CoAP.Host/Port/Path, or STOMP.Reference pointing at a Connection row).
type Addr struct {
	Protocol string // "CoAP" or "STOMP"

	CoAPHost string
	CoAPPort int
	CoAPPath string

	STOMPHost        string
	STOMPPort        int
	STOMPUsername    string
	STOMPPassword    string
	STOMPVirtualHost string
	STOMPDestination string
}

// Binding is the C9 contract every transport implements.
type Binding interface {
	// Protocol names the binding ("CoAP" or "STOMP"), used for logging and
	// to match a Controller MTP row to the binding that can reach it.
	Protocol() string
	// Send enqueues a unicast frame to to. May block on a bounded transport
	// buffer; never blocks indefinitely.
	Send(payload []byte, to Addr) error
	// Listen begins accepting inbound frames at selfAddr, placing each on
	// the binding's own inbound queue.
	Listen(selfAddr Addr) error
	// Receive cooperatively waits up to timeout for the next inbound item.
	Receive(timeout time.Duration) (*QueueItem, bool)
	// Requeue puts item back into the inbound queue, ordered by its
	// CreatedAt rather than at the tail.
	Requeue(item QueueItem)
	// Close terminates the transport cleanly.
	Close() error
}

// QueueItem is a single inbound frame awaiting dispatch (spec.md 4.8.2).
type QueueItem struct {
	Payload   []byte
	ReplyTo   Addr
	CreatedAt time.Time
}

// Compare orders QueueItems FIFO by arrival time, satisfying
// go-datastructures/queue.Item so InboundQueue can use a PriorityQueue as a
// plain FIFO.
func (q QueueItem) Compare(other queue.Item) int {
	o := other.(QueueItem)
	switch {
	case q.CreatedAt.Before(o.CreatedAt):
		return -1
	case q.CreatedAt.After(o.CreatedAt):
		return 1
	default:
		return 0
	}
}

// DefaultItemTTL is how long an inbound item may sit unclaimed before
// Receive drops it, logging a warning for the first of a run of expired
// items (spec.md 4.8.2).
const DefaultItemTTL = 60 * time.Second

// InboundQueue is the FIFO every Binding implementation uses to decouple its
// own receive goroutine from the listener loop that drains it.
type InboundQueue struct {
	q          *queue.PriorityQueue
	ttl        time.Duration
	loggedOnce bool
}

// NewInboundQueue builds an InboundQueue with the given item TTL; ttl <= 0
// selects DefaultItemTTL.
func NewInboundQueue(ttl time.Duration) *InboundQueue {
	if ttl <= 0 {
		ttl = DefaultItemTTL
	}
	return &InboundQueue{q: queue.NewPriorityQueue(16, false), ttl: ttl}
}

// Put enqueues item for later Receive.
func (iq *InboundQueue) Put(item QueueItem) error {
	return iq.q.Put(item)
}

// Receive waits up to timeout for the next item. If that item is past its
// TTL it is dropped and Receive reports no item without waiting further.
func (iq *InboundQueue) Receive(timeout time.Duration) (*QueueItem, bool) {
	items, err := iq.q.Poll(1, timeout)
	if err != nil || len(items) == 0 {
		return nil, false
	}
	item := items[0].(QueueItem)
	if time.Since(item.CreatedAt) > iq.ttl {
		if !iq.loggedOnce {
			log.Warningf("transport: dropping expired inbound item, age=%s", time.Since(item.CreatedAt))
			iq.loggedOnce = true
		}
		return nil, false
	}
	iq.loggedOnce = false
	return &item, true
}

// Requeue puts item back into the queue, used when a listener determines
// the item belongs to a different sub-component. The queue orders items by
// CreatedAt, so a requeued item is delivered ahead of every item that
// arrived after it; it does not go to the tail.
func (iq *InboundQueue) Requeue(item QueueItem) {
	iq.q.Put(item)
}
