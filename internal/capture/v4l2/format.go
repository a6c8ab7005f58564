//go:build linux

package v4l2

import "github.com/zbynekdrlik/ndi-bridge-go/internal/videoformat"

// formatPreference is the negotiation order from spec.md §4.3.1: try each
// pixel format in turn against each resolution/fps combination until the
// driver accepts one.
var formatPreference = []uint32{fourccYUYV, fourccUYVY, fourccNV12, fourccRGB3, fourccBGR3, fourccMJPG}

var resolutionPreference = [][2]uint32{
	{1920, 1080},
	{1280, 720},
	{640, 480},
}

var fpsPreference = []uint32{60, 30}

func fourccToPixelFormat(cc uint32) videoformat.PixelFormat {
	switch cc {
	case fourccYUYV:
		return videoformat.YUYV
	case fourccUYVY:
		return videoformat.UYVY
	case fourccNV12:
		return videoformat.NV12
	case fourccRGB3:
		return videoformat.RGB24
	case fourccBGR3:
		return videoformat.BGR24
	case fourccMJPG:
		return videoformat.MJPEG
	default:
		return videoformat.Unknown
	}
}
