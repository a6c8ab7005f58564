package streammanager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAutoMapCountCapsAtThree(t *testing.T) {
	require.Equal(t, 3, autoMapCount(5, 5))
	require.Equal(t, 2, autoMapCount(2, 5))
	require.Equal(t, 1, autoMapCount(5, 1))
	require.Equal(t, 0, autoMapCount(0, 5))
}

func TestUnmapUnknownDisplayErrors(t *testing.T) {
	m := New("/dev/dri/card0")
	err := m.Unmap(99)
	require.Error(t, err)
}

func TestSnapshotsEmptyByDefault(t *testing.T) {
	m := New("/dev/dri/card0")
	require.Empty(t, m.Snapshots())
}
