package relaypool

import "container/heap"

// queueItem is a relay held by the pool's heap.
type queueItem struct {
	relay     Relay
	seq       uint64
	heapIndex int
}

// relayQueue orders relays by (AvailableAt, seq). A zero AvailableAt sorts
// before any set deadline. For any instant, every available relay therefore
// precedes every unavailable one, and among unavailable relays the one with
// the soonest deadline comes first.
type relayQueue []*queueItem

var _ heap.Interface = (*relayQueue)(nil)

func (q relayQueue) Len() int { return len(q) }

func (q relayQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if !a.relay.AvailableAt.Equal(b.relay.AvailableAt) {
		if a.relay.AvailableAt.IsZero() {
			return true
		}
		if b.relay.AvailableAt.IsZero() {
			return false
		}
		return a.relay.AvailableAt.Before(b.relay.AvailableAt)
	}
	return a.seq < b.seq
}

func (q relayQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapIndex = i
	q[j].heapIndex = j
}

func (q *relayQueue) Push(x any) {
	item := x.(*queueItem)
	item.heapIndex = len(*q)
	*q = append(*q, item)
}

func (q *relayQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.heapIndex = -1
	*q = old[:n-1]
	return item
}
