package sim

import (
	"io"
	"sync"
)

// NoisyWriter flips one bit in every Nth byte written, simulating line
// noise. The byte count is kept so frame alignment survives.
type NoisyWriter struct {
	io.ReadWriter
	// Every is N; 0 disables corruption.
	Every int
	// Bit selects the flipped bit.
	Bit uint

	lock    sync.Mutex
	written int
	flipped int
}

// Write implements io.Writer.
func (w *NoisyWriter) Write(p []byte) (int, error) {
	w.lock.Lock()
	if w.Every > 0 {
		buf := append([]byte(nil), p...)
		for n := range buf {
			w.written++
			if w.written%w.Every == 0 {
				buf[n] ^= 1 << (w.Bit & 7)
				w.flipped++
			}
		}
		p = buf
	}
	w.lock.Unlock()
	return w.ReadWriter.Write(p)
}

// Flipped is the number of corrupted bytes.
func (w *NoisyWriter) Flipped() int {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.flipped
}
