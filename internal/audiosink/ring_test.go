package audiosink

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingFIFO(t *testing.T) {
	r := &Ring{buf: make([]int16, 4), capacity: 4}
	r.Write([]int16{1, 2, 3})
	out := make([]int16, 3)
	n := r.Read(out)
	require.Equal(t, 3, n)
	require.Equal(t, []int16{1, 2, 3}, out)
}

func TestRingDropOldestOnOverflow(t *testing.T) {
	r := &Ring{buf: make([]int16, 4), capacity: 4}
	r.Write([]int16{1, 2, 3, 4, 5, 6})
	out := make([]int16, 4)
	r.Read(out)
	require.Equal(t, []int16{3, 4, 5, 6}, out)
	require.EqualValues(t, 2, r.Dropped())
}

func TestRingUnderrunPadsSilence(t *testing.T) {
	r := &Ring{buf: make([]int16, 4), capacity: 4}
	r.Write([]int16{9})
	out := make([]int16, 3)
	n := r.Read(out)
	require.Equal(t, 1, n)
	require.Equal(t, []int16{9, 0, 0}, out)
}

func TestNewRingSizing(t *testing.T) {
	r := NewRing(SampleRate, Channels)
	require.Equal(t, SampleRate*Channels*RingDuration/1000, r.capacity)
}
