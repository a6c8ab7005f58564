package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zbynekdrlik/ndi-bridge-go/internal/frame"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/videoformat"
)

func mkFrame(n byte) frame.Frame {
	return frame.Frame{Data: []byte{n}, TimestampNS: int64(n), Format: videoformat.Format{Width: 1, Height: 1}}
}

// S2 / property 5: newest-wins.
func TestNewestWins(t *testing.T) {
	q := New(1)
	for i := byte(0); i <= 4; i++ {
		q.TryPush(mkFrame(i))
	}
	f, ok := q.TryPop(10 * time.Millisecond)
	require.True(t, ok)
	require.Equal(t, byte(4), f.Data[0])
	require.EqualValues(t, 4, q.DroppedCount())
}

// Property 6: FIFO within capacity.
func TestFIFOWithinCapacity(t *testing.T) {
	q := New(4)
	for i := byte(0); i < 3; i++ {
		require.True(t, q.TryPush(mkFrame(i)))
	}
	for i := byte(0); i < 3; i++ {
		f, ok := q.TryPop(10 * time.Millisecond)
		require.True(t, ok)
		require.Equal(t, i, f.Data[0])
	}
	require.EqualValues(t, 0, q.DroppedCount())
}

// Property 7: Stop wakes waiters promptly.
func TestStopWakesWaiters(t *testing.T) {
	q := New(2)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.TryPop(100 * time.Millisecond)
		done <- ok
	}()
	time.Sleep(5 * time.Millisecond)
	q.Stop()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(10 * time.Millisecond):
		t.Fatal("TryPop did not wake within 10ms of Stop")
	}
}

func TestEmptyFullSize(t *testing.T) {
	q := New(2)
	require.True(t, q.Empty())
	require.False(t, q.Full())
	q.TryPush(mkFrame(1))
	require.Equal(t, 1, q.Size())
	q.TryPush(mkFrame(2))
	require.True(t, q.Full())
	require.Equal(t, 2, q.Capacity())
}

func TestBufferIndexQueueFIFO(t *testing.T) {
	q := NewBufferIndexQueue(2)
	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))
	require.False(t, q.TryPush(3))

	v, ok := q.TryPop()
	require.True(t, ok)
	require.EqualValues(t, 1, v)

	v, ok = q.TryPop()
	require.True(t, ok)
	require.EqualValues(t, 2, v)

	require.True(t, q.Empty())
}
