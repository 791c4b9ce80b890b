package ring

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestByteQueuePartialPut(t *testing.T) {
	q, err := NewByteQueue(8)
	require.NoError(t, err)
	require.Equal(t, 5, q.Put([]byte{1, 2, 3, 4, 5}))
	require.Equal(t, 3, q.Put([]byte{6, 7, 8, 9, 10}))
	require.False(t, q.PutByte(11))
	require.Equal(t, 0, q.Free())

	buf := make([]byte, 3)
	require.Equal(t, 3, q.Get(buf))
	require.Equal(t, []byte{1, 2, 3}, buf)
	require.True(t, q.PutByte(9))

	var got []byte
	for !q.Empty() {
		b, ok := q.GetByte()
		require.True(t, ok)
		got = append(got, b)
	}
	require.Equal(t, []byte{4, 5, 6, 7, 8, 9}, got)
	_, ok := q.GetByte()
	require.False(t, ok)
}

func TestByteQueueConcurrent(t *testing.T) {
	q, err := NewByteQueue(16)
	require.NoError(t, err)
	const total = 100000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if q.PutByte(byte(i)) {
				i++
			} else {
				runtime.Gosched()
			}
		}
	}()

	buf := make([]byte, 5)
	for i := 0; i < total; {
		n := q.Get(buf)
		if n == 0 {
			runtime.Gosched()
		}
		for _, b := range buf[:n] {
			if b != byte(i) {
				t.Fatalf("byte %d: got %d", i, b)
			}
			i++
		}
	}
	wg.Wait()
	require.True(t, q.Empty())
}
