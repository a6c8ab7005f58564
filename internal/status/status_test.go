package status

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	e := Entry{
		StreamName:     "CAM1",
		DisplayID:      1,
		PID:            1234,
		Width:          1920,
		Height:         1080,
		Fps:            59.94,
		Bitrate:        0,
		FramesReceived: 100,
		FramesDropped:  2,
	}
	require.NoError(t, Write(dir, e))

	entries, err := List(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, e.StreamName, entries[0].StreamName)
	require.Equal(t, e.DisplayID, entries[0].DisplayID)
	require.Equal(t, e.Width, entries[0].Width)
	require.Equal(t, e.Height, entries[0].Height)
	require.Equal(t, e.FramesReceived, entries[0].FramesReceived)
	require.Equal(t, e.FramesDropped, entries[0].FramesDropped)
}

func TestWriteLeavesNoTmpFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, Entry{DisplayID: 2}))
	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestRemoveDropsEntryFromList(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, Entry{DisplayID: 1}))
	require.NoError(t, Write(dir, Entry{DisplayID: 2}))
	require.NoError(t, Write(dir, Entry{DisplayID: 3}))

	entries, err := List(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	require.NoError(t, Remove(dir, 2))
	entries, err = List(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestRemoveMissingIsNotError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Remove(dir, 42))
}
