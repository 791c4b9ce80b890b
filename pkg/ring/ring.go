// Package ring provides fixed-capacity circular buffers with power-of-two
// capacities and bitmask index arithmetic.
package ring

import "errors"

// ErrCapacity indicates the requested capacity is not a positive power of two.
var ErrCapacity = errors.New("capacity must be a positive power of two")

// MaxCapacity is the largest capacity accepted.
const MaxCapacity = 1 << 30

// OverflowPolicy decides what Push does when the buffer is full.
type OverflowPolicy int

const (
	// DropOldest overwrites the oldest unread element.
	DropOldest OverflowPolicy = iota
	// DropNewest discards the element being pushed.
	DropNewest
)

// String implements fmt.Stringer.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	}
	return "unknown"
}

// ParseOverflowPolicy parses the String form of a policy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "drop-oldest", "oldest":
		return DropOldest, nil
	case "drop-newest", "newest":
		return DropNewest, nil
	}
	return DropOldest, errors.New("unknown overflow policy: " + s)
}

// IsPowerOfTwo checks n is a usable capacity.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n <= MaxCapacity && n&(n-1) == 0
}

// Ring is a single-owner circular buffer of T.
//
// read and write are free-running counters; the slot is counter&mask, so
// the whole capacity is usable and write-read is always the length.
type Ring[T any] struct {
	buf     []T
	mask    uint32
	read    uint32
	write   uint32
	policy  OverflowPolicy
	dropped uint64
}

// New creates a Ring.
func New[T any](capacity int, policy OverflowPolicy) (*Ring[T], error) {
	if !IsPowerOfTwo(capacity) {
		return nil, ErrCapacity
	}
	return &Ring[T]{
		buf:    make([]T, capacity),
		mask:   uint32(capacity - 1),
		policy: policy,
	}, nil
}

// Push copies v into the buffer. It returns false if an element was dropped
// to make the push fit the capacity.
func (r *Ring[T]) Push(v T) bool {
	if r.write-r.read == uint32(len(r.buf)) {
		r.dropped++
		if r.policy == DropNewest {
			return false
		}
		r.read++
		r.buf[r.write&r.mask] = v
		r.write++
		return false
	}
	r.buf[r.write&r.mask] = v
	r.write++
	return true
}

// Available tells whether there is anything to pop.
func (r *Ring[T]) Available() bool {
	return r.read != r.write
}

// Pop removes the oldest element.
func (r *Ring[T]) Pop() (v T, ok bool) {
	ok = r.PopInto(&v)
	return
}

// PopInto copies the oldest element into out and removes it. out is left
// untouched when the buffer is empty.
func (r *Ring[T]) PopInto(out *T) bool {
	if r.read == r.write {
		return false
	}
	slot := &r.buf[r.read&r.mask]
	*out = *slot
	var zero T
	*slot = zero
	r.read++
	return true
}

// Peek returns the oldest element without removing it.
func (r *Ring[T]) Peek() (v T, ok bool) {
	if r.read == r.write {
		return
	}
	return r.buf[r.read&r.mask], true
}

// Len is the number of unread elements.
func (r *Ring[T]) Len() int {
	return int(r.write - r.read)
}

// Cap is the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Full tells whether the next Push overflows.
func (r *Ring[T]) Full() bool {
	return r.Len() == len(r.buf)
}

// Dropped counts elements lost to overflow.
func (r *Ring[T]) Dropped() uint64 {
	return r.dropped
}

// Policy returns the overflow policy.
func (r *Ring[T]) Policy() OverflowPolicy {
	return r.policy
}

// Reset discards everything unread. The drop counter is kept.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.read, r.write = 0, 0
}
