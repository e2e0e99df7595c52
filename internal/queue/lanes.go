package queue

import (
	"context"

	"github.com/vowsuite/notify/internal/domain"
)

// Item is the minimal data placed on a lane. Workers fetch the full
// notification from the repository using the ID, keeping the queue
// lightweight and the stored data authoritative.
type Item struct {
	NotificationID string
	Priority       domain.Priority
}

// Lane buffer sizes, indexed by domain.Priority.LaneIndex().
// Critical is small on purpose: it must never accumulate, and a small buffer
// applies back-pressure quickly. Medium carries the bulk of traffic.
var laneCapacities = [domain.NumLanes]int{500, 2000, 5000, 2000}

// Lanes is the four-tier dispatch queue. Each priority has its own buffered
// channel and its own worker pool; lanes never share a concurrency budget,
// so critical items cannot be starved by a bulk of low-priority traffic.
//
// A single tagged Item type carries its priority and is routed by LaneIndex,
// so adding a tier means extending the priority enum, not wiring a new named
// queue through the codebase.
type Lanes struct {
	lanes [domain.NumLanes]chan Item
}

func New() *Lanes {
	var l Lanes
	for i := range l.lanes {
		l.lanes[i] = make(chan Item, laneCapacities[i])
	}
	return &l
}

// Enqueue places an item on its priority's lane. It is non-blocking: if the
// lane is full, ErrQueueFull is returned immediately rather than blocking the
// caller (the HTTP handler). Callers treat a full lane as a system alarm, not
// something to retry silently.
func (l *Lanes) Enqueue(item Item) error {
	if !item.Priority.IsValid() {
		return domain.ErrInvalidPriority
	}
	select {
	case l.lanes[item.Priority.LaneIndex()] <- item:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Dequeue blocks until an item is available on the given priority's lane or
// ctx is cancelled. Returns (Item{}, false) on cancellation.
//
// Each worker is bound to exactly one lane, so cross-lane ordering is decided
// by pool sizing (critical has the most workers), not by a shared select.
func (l *Lanes) Dequeue(ctx context.Context, p domain.Priority) (Item, bool) {
	select {
	case item := <-l.lanes[p.LaneIndex()]:
		return item, true
	case <-ctx.Done():
		return Item{}, false
	}
}

// Depths returns the current number of items waiting in each lane,
// indexed by LaneIndex. Used for the metrics snapshot and gauges.
func (l *Lanes) Depths() [domain.NumLanes]int {
	var d [domain.NumLanes]int
	for i, ch := range l.lanes {
		d[i] = len(ch)
	}
	return d
}
