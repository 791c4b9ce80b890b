package ring

import "sync/atomic"

// ByteQueue is a single-producer/single-consumer byte FIFO.
//
// The producer is the only writer of write and the consumer the only writer
// of read. Each side only loads the other's index, so no lock is needed as
// long as there is exactly one goroutine on each side. A full queue rejects
// bytes; it never overwrites unread data.
type ByteQueue struct {
	buf   []byte
	mask  uint32
	read  atomic.Uint32
	write atomic.Uint32
}

// NewByteQueue creates a ByteQueue.
func NewByteQueue(capacity int) (*ByteQueue, error) {
	if !IsPowerOfTwo(capacity) {
		return nil, ErrCapacity
	}
	return &ByteQueue{
		buf:  make([]byte, capacity),
		mask: uint32(capacity - 1),
	}, nil
}

// Cap is the fixed capacity.
func (q *ByteQueue) Cap() int {
	return len(q.buf)
}

// Len is a snapshot of the unread byte count. Safe from either side.
func (q *ByteQueue) Len() int {
	return int(q.write.Load() - q.read.Load())
}

// Producer side.

// PutByte appends b. It returns false when the queue is full.
func (q *ByteQueue) PutByte(b byte) bool {
	w := q.write.Load()
	if w-q.read.Load() == uint32(len(q.buf)) {
		return false
	}
	q.buf[w&q.mask] = b
	q.write.Store(w + 1)
	return true
}

// Put appends as much of p as fits and returns the accepted count.
func (q *ByteQueue) Put(p []byte) int {
	w := q.write.Load()
	free := uint32(len(q.buf)) - (w - q.read.Load())
	n := uint32(len(p))
	if n > free {
		n = free
	}
	for i := uint32(0); i < n; i++ {
		q.buf[(w+i)&q.mask] = p[i]
	}
	q.write.Store(w + n)
	return int(n)
}

// Free is the number of bytes Put would accept right now.
func (q *ByteQueue) Free() int {
	return len(q.buf) - q.Len()
}

// Consumer side.

// Empty tells whether there is nothing to read.
func (q *ByteQueue) Empty() bool {
	return q.read.Load() == q.write.Load()
}

// GetByte removes the oldest byte.
func (q *ByteQueue) GetByte() (byte, bool) {
	r := q.read.Load()
	if r == q.write.Load() {
		return 0, false
	}
	b := q.buf[r&q.mask]
	q.read.Store(r + 1)
	return b, true
}

// Get moves up to len(p) bytes into p and returns the count.
func (q *ByteQueue) Get(p []byte) int {
	r := q.read.Load()
	n := q.write.Load() - r
	if n > uint32(len(p)) {
		n = uint32(len(p))
	}
	for i := uint32(0); i < n; i++ {
		p[i] = q.buf[(r+i)&q.mask]
	}
	q.read.Store(r + n)
	return int(n)
}
