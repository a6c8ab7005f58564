//go:build linux

package v4l2

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zbynekdrlik/ndi-bridge-go/internal/videoformat"
)

func TestFourccToPixelFormat(t *testing.T) {
	cases := map[uint32]videoformat.PixelFormat{
		fourccYUYV: videoformat.YUYV,
		fourccUYVY: videoformat.UYVY,
		fourccNV12: videoformat.NV12,
		fourccRGB3: videoformat.RGB24,
		fourccBGR3: videoformat.BGR24,
		fourccMJPG: videoformat.MJPEG,
		0xdeadbeef: videoformat.Unknown,
	}
	for cc, want := range cases {
		require.Equal(t, want, fourccToPixelFormat(cc))
	}
}

func TestFormatPreferenceOrder(t *testing.T) {
	require.Equal(t, []uint32{fourccYUYV, fourccUYVY, fourccNV12, fourccRGB3, fourccBGR3, fourccMJPG}, formatPreference)
}

func TestResolutionPreferenceOrder(t *testing.T) {
	require.Equal(t, [2]uint32{1920, 1080}, resolutionPreference[0])
	require.Equal(t, [2]uint32{640, 480}, resolutionPreference[len(resolutionPreference)-1])
}
