// Package lanebuffer implements the per-connection priority lane buffer
// (spec §4.B): one bounded FIFO per queued lane, drained in strict priority
// order, with a global drop-oldest overflow policy and synchronous
// interrupt bypass.
package lanebuffer

import (
	"sort"
	"sync"

	"github.com/relaytide/edgegateway/internal/bus"
	"github.com/relaytide/edgegateway/internal/queue"
)

// Buffer holds one Ring per queued lane, sharing a single global capacity.
// Safe for concurrent use: many producers may call Dispatch while a single
// writer drains it.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	lanes    map[bus.Lane]*queue.Ring[entry]
	seq      int

	interruptMu sync.RWMutex
	interrupt   map[int]bus.InterruptHandler
	interruptSeq int

	overflowMu  sync.RWMutex
	overflow    map[int]bus.OverflowHandler
	overflowSeq int
}

// entry wraps a LaneMessage with a monotonically increasing sequence number
// so the stable cross-lane drain sort can break ties by enqueue order.
type entry struct {
	msg bus.LaneMessage
	seq int
}

// New constructs a Buffer with the given shared global capacity across all
// queued lanes (steer, collect, followup). capacity must be >= 1 per lane
// slot requested; each lane gets its own Ring sized to capacity so that, in
// the worst case, one lane may hold every slot.
func New(capacity int) *Buffer {
	b := &Buffer{
		capacity:  capacity,
		lanes:     make(map[bus.Lane]*queue.Ring[entry]),
		interrupt: make(map[int]bus.InterruptHandler),
		overflow:  make(map[int]bus.OverflowHandler),
	}
	for _, lane := range bus.QueuedLanes {
		r, _ := queue.New[entry](capacity) // capacity >= 1 guaranteed by caller contract
		b.lanes[lane] = r
	}
	return b
}

// Dispatch routes m according to its lane. Interrupt-lane messages never
// queue: every registered interrupt handler runs synchronously and m is
// discarded afterward. All other lanes enqueue into their own Ring; if the
// global count would exceed capacity, the globally oldest queued message
// (the earliest enqueued, whichever lane holds it) is evicted and reported
// via onOverflow.
func (b *Buffer) Dispatch(m bus.LaneMessage) {
	if m.Lane == bus.LaneInterrupt {
		b.fireInterrupt(m)
		return
	}

	b.mu.Lock()
	ring, ok := b.lanes[m.Lane]
	if !ok {
		b.mu.Unlock()
		return // structurally invalid lane; nothing to do, no queue to grow
	}

	b.seq++
	var (
		victim  bus.LaneMessage
		evicted bool
	)
	if b.totalLocked() >= b.capacity {
		victim, evicted = b.evictOldestLocked()
	}
	ring.Enqueue(entry{msg: m, seq: b.seq})
	b.mu.Unlock()
	if evicted {
		b.fireOverflow(bus.OverflowEvent{NodeID: m.ChannelID, Message: victim, Reason: "capacity"})
	}
}

// evictOldestLocked must be called with b.mu held. It removes and returns
// the globally oldest queued message: of the heads of all non-empty lanes,
// the one with the smallest enqueue sequence, whatever its lane's priority,
// matching "drop-oldest globally" (§4.B).
func (b *Buffer) evictOldestLocked() (bus.LaneMessage, bool) {
	var (
		victimLane bus.Lane
		victimSeq  = -1
	)
	for _, lane := range bus.QueuedLanes {
		ring := b.lanes[lane]
		e, ok := ring.Peek()
		if !ok {
			continue
		}
		if victimSeq == -1 || e.seq < victimSeq {
			victimSeq = e.seq
			victimLane = lane
		}
	}
	if victimSeq == -1 {
		return bus.LaneMessage{}, false
	}
	e, _ := b.lanes[victimLane].Dequeue()
	return e.msg, true
}

func (b *Buffer) totalLocked() int {
	total := 0
	for _, lane := range bus.QueuedLanes {
		total += b.lanes[lane].Len()
	}
	return total
}

// Drain empties the buffer and returns every queued message ordered by
// strict priority, FIFO within each lane.
func (b *Buffer) Drain() []bus.LaneMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	var all []entry
	for _, lane := range bus.QueuedLanes {
		all = append(all, b.lanes[lane].Drain()...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		pi := bus.LanePriority[all[i].msg.Lane]
		pj := bus.LanePriority[all[j].msg.Lane]
		return pi < pj
	})
	out := make([]bus.LaneMessage, len(all))
	for i, e := range all {
		out[i] = e.msg
	}
	return out
}

// QueueSize returns the number of messages currently queued in one lane.
func (b *Buffer) QueueSize(lane bus.Lane) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.lanes[lane]
	if !ok {
		return 0
	}
	return r.Len()
}

// TotalQueued returns the total number of messages queued across all lanes.
func (b *Buffer) TotalQueued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalLocked()
}

// OnInterrupt registers fn to run synchronously for every interrupt-lane
// dispatch. The returned Disposer removes it; multiple subscribers may be
// registered independently.
func (b *Buffer) OnInterrupt(fn bus.InterruptHandler) bus.Disposer {
	b.interruptMu.Lock()
	b.interruptSeq++
	id := b.interruptSeq
	b.interrupt[id] = fn
	b.interruptMu.Unlock()

	return func() {
		b.interruptMu.Lock()
		delete(b.interrupt, id)
		b.interruptMu.Unlock()
	}
}

// OnOverflow registers fn to run whenever a drop-oldest eviction occurs.
func (b *Buffer) OnOverflow(fn bus.OverflowHandler) bus.Disposer {
	b.overflowMu.Lock()
	b.overflowSeq++
	id := b.overflowSeq
	b.overflow[id] = fn
	b.overflowMu.Unlock()

	return func() {
		b.overflowMu.Lock()
		delete(b.overflow, id)
		b.overflowMu.Unlock()
	}
}

func (b *Buffer) fireInterrupt(m bus.LaneMessage) {
	b.interruptMu.RLock()
	defer b.interruptMu.RUnlock()
	for _, fn := range b.interrupt {
		fn(m)
	}
}

func (b *Buffer) fireOverflow(ev bus.OverflowEvent) {
	b.overflowMu.RLock()
	defer b.overflowMu.RUnlock()
	for _, fn := range b.overflow {
		fn(ev)
	}
}
