// Package queue provides the FIFO primitives used for pending device commands.
package queue

// Queue defines the interface for a FIFO queue of T.
//
// Implementations are not required to be safe for concurrent use; callers
// guard them with their own lock when they are shared.
type Queue[T any] interface {
	// Enqueue adds an item to the tail of the queue.
	Enqueue(item T)
	// Dequeue removes and returns the item at the head of the queue.
	// ok is false if the queue is empty.
	Dequeue() (item T, ok bool)
	// Peek returns the item at the head of the queue without removing it.
	// ok is false if the queue is empty.
	Peek() (item T, ok bool)
	// Drain removes and returns all queued items in FIFO order.
	Drain() []T
	// IsEmpty returns true if the queue is empty, false otherwise.
	IsEmpty() bool
	// Length returns the number of items in the queue.
	Length() int
}
