// Package queue provides the ready-operation priority queue used by the
// scheduler. Lower priority values are served first; operations with equal
// priority are served in submission order.
package queue

import "container/heap"

// Compile time check to ensure ReadyQueue satisfies the heap interface.
var _ heap.Interface = (*ReadyQueue)(nil)

// Item represents a ready operation in the queue.
type Item struct {
	Value    any    // Value is the scheduled operation, opaque to the queue.
	Priority int    // Priority is the caller-supplied hint; lower runs sooner.
	Seq      uint64 // Seq is the global submission counter, breaking ties FIFO.
	Index    int    // Index is maintained by the heap.Interface methods.
}

// ReadyQueue implements heap.Interface and holds Items.
type ReadyQueue struct {
	Items []*Item
}

// Len returns the number of elements in the queue.
func (q *ReadyQueue) Len() int { return len(q.Items) }

// Less reports whether the element with index i should sort before the element with index j.
func (q *ReadyQueue) Less(i, j int) bool {
	if q.Items[i].Priority != q.Items[j].Priority {
		return q.Items[i].Priority < q.Items[j].Priority
	}
	return q.Items[i].Seq < q.Items[j].Seq
}

// Swap swaps the elements with indexes i and j.
func (q *ReadyQueue) Swap(i, j int) {
	q.Items[i], q.Items[j] = q.Items[j], q.Items[i]
	q.Items[i].Index, q.Items[j].Index = i, j // Update indices
}

// Push adds x to the queue.
func (q *ReadyQueue) Push(x any) {
	item, _ := x.(*Item)
	item.Index = len(q.Items)
	q.Items = append(q.Items, item)
}

// Pop removes and returns the top element from the queue.
func (q *ReadyQueue) Pop() any {
	if len(q.Items) == 0 {
		return nil
	}

	old := q.Items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil      // Avoid memory leak
	item.Index = -1     // For safety
	q.Items = old[:n-1] // Reslice without creating a new underlying array

	return item
}

// Top returns the top element of the queue without removing it.
func (q *ReadyQueue) Top() *Item {
	return q.Items[0]
}
