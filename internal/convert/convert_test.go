package convert

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zbynekdrlik/ndi-bridge-go/internal/videoformat"
)

func makeUYVY(width, height int, u, y0, v, y1 uint8) []byte {
	row := make([]byte, width*2)
	for x := 0; x < width; x += 2 {
		row[x*2+0] = u
		row[x*2+1] = y0
		row[x*2+2] = v
		row[x*2+3] = y1
	}
	buf := make([]byte, width*2*height)
	for y := 0; y < height; y++ {
		copy(buf[y*width*2:], row)
	}
	return buf
}

func makeYUYV(width, height int, y0, u, y1, v uint8) []byte {
	row := make([]byte, width*2)
	for x := 0; x < width; x += 2 {
		row[x*2+0] = y0
		row[x*2+1] = u
		row[x*2+2] = y1
		row[x*2+3] = v
	}
	buf := make([]byte, width*2*height)
	for y := 0; y < height; y++ {
		copy(buf[y*width*2:], row)
	}
	return buf
}

// S3: black (limited range) and white scenarios from spec.md §8.
func TestUYVYScenarioS3(t *testing.T) {
	src := makeUYVY(2, 1, 128, 16, 128, 16)
	dst := make([]byte, 2*4)
	require.NoError(t, ToBGRA(src, 2, 1, 4, videoformat.UYVY, Range601, dst))
	require.Equal(t, []byte{0, 0, 0, 255, 0, 0, 0, 255}, dst)

	src = makeUYVY(2, 1, 128, 235, 128, 235)
	dst = make([]byte, 2*4)
	require.NoError(t, ToBGRA(src, 2, 1, 4, videoformat.UYVY, Range601, dst))
	for i, want := range []byte{255, 255, 255, 255, 255, 255, 255, 255} {
		require.InDeltaf(t, float64(want), float64(dst[i]), 1, "byte %d", i)
	}
}

// Property 1: round-trip clamping — output always in [0,255], alpha==255.
func TestClampingProperty(t *testing.T) {
	for _, yv := range []uint8{0, 16, 128, 235, 255} {
		for _, uv := range []uint8{0, 64, 128, 192, 255} {
			for _, vv := range []uint8{0, 64, 128, 192, 255} {
				src := makeUYVY(2, 1, uv, yv, vv, yv)
				dst := make([]byte, 2*4)
				require.NoError(t, ToBGRA(src, 2, 1, 4, videoformat.UYVY, Range601, dst))
				for _, b := range dst {
					require.GreaterOrEqual(t, int(b), 0)
					require.LessOrEqual(t, int(b), 255)
				}
				require.EqualValues(t, 255, dst[3])
				require.EqualValues(t, 255, dst[7])
			}
		}
	}
}

// Property 2: UYVY and YUYV parity with byte-swapped inputs.
func TestUYVYYUYVParity(t *testing.T) {
	u, y0, v, y1 := uint8(90), uint8(120), uint8(180), uint8(140)
	uyvySrc := makeUYVY(4, 1, u, y0, v, y1)
	yuyvSrc := makeYUYV(4, 1, y0, u, y1, v)

	dstA := make([]byte, 4*4)
	dstB := make([]byte, 4*4)
	require.NoError(t, ToBGRA(uyvySrc, 4, 1, 8, videoformat.UYVY, Range601, dstA))
	require.NoError(t, ToBGRA(yuyvSrc, 4, 1, 8, videoformat.YUYV, Range601, dstB))
	require.Equal(t, dstA, dstB)
}

// Property 4: BGRA identity.
func TestBGRAIdentity(t *testing.T) {
	src := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	dst := make([]byte, len(src))
	require.NoError(t, ToBGRA(src, 2, 1, 8, videoformat.BGRA, Range601, dst))
	require.Equal(t, src, dst)
}

// Property 3: SIMD (wide) equivalence with scalar, widths divisible by 16
// up to 1920, plus a tail width not divisible by 16.
func TestWideScalarEquivalence(t *testing.T) {
	widths := []int{16, 32, 352, 1920}
	for _, w := range widths {
		src := makeUYVY(w, 2, 100, 130, 160, 140)
		dstScalar := make([]byte, w*4*2)
		dstWide := make([]byte, w*4*2)
		require.NoError(t, convertPacked422Scalar(src, w, 2, w*2, dstScalar, w*4, coeffs601, true))
		require.NoError(t, convertPacked422Wide(src, w, 2, w*2, dstWide, w*4, coeffs601, true))
		require.Equal(t, dstScalar, dstWide, "width %d", w)
	}

	// tail width (1934 mod 16 = 14 leftover columns): the whole row,
	// tail included, must match scalar.
	w := 1934
	src := makeUYVY(w, 1, 100, 130, 160, 140)
	dstScalar := make([]byte, w*4)
	dstWide := make([]byte, w*4)
	require.NoError(t, convertPacked422Scalar(src, w, 1, w*2, dstScalar, w*4, coeffs601, true))
	require.NoError(t, convertPacked422Wide(src, w, 1, w*2, dstWide, w*4, coeffs601, true))
	require.Equal(t, dstScalar, dstWide)
}

func TestMJPEGUnsupported(t *testing.T) {
	err := ToBGRA([]byte{1}, 1, 1, 1, videoformat.MJPEG, Range601, make([]byte, 4))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestInvalidArguments(t *testing.T) {
	require.ErrorIs(t, ToBGRA(nil, 1, 1, 4, videoformat.BGRA, Range601, make([]byte, 4)), ErrInvalidArgument)
	require.ErrorIs(t, ToBGRA([]byte{1, 2, 3, 4}, 0, 1, 4, videoformat.BGRA, Range601, make([]byte, 4)), ErrInvalidArgument)
	require.ErrorIs(t, ToBGRA([]byte{1, 2, 3, 4}, 1, -1, 4, videoformat.BGRA, Range601, make([]byte, 4)), ErrInvalidArgument)
}

func TestRGB24ToBGRA(t *testing.T) {
	src := []byte{10, 20, 30, 40, 50, 60}
	dst := make([]byte, 2*4)
	require.NoError(t, ToBGRA(src, 2, 1, 6, videoformat.RGB24, Range601, dst))
	require.Equal(t, []byte{30, 20, 10, 255, 60, 50, 40, 255}, dst)
}
