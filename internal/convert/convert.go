// Package convert implements pixel-format conversion to BGRA: a scalar
// path for every supported source tag plus a runtime-selected wide path
// that processes 16 source pixels per iteration in the shape of the
// appliance's original hand-vectorised SIMD routine (see wide.go).
package convert

import (
	"fmt"

	"github.com/zbynekdrlik/ndi-bridge-go/internal/videoformat"
)

// ErrUnsupportedFormat is returned for a pixel tag the converter declares
// but does not implement (MJPEG), or an invalid source tag.
var ErrUnsupportedFormat = fmt.Errorf("convert: unsupported pixel format")

// ErrInvalidArgument is returned for null buffers or non-positive
// dimensions — a programmer error, never a panic.
var ErrInvalidArgument = fmt.Errorf("convert: invalid argument")

// Range selects which YCbCr coefficients and offsets to apply.
type Range int

const (
	// RangeAuto picks 601 vs 709 from height (DefaultColorSpaceForHeight)
	// and always assumes limited range, matching the appliance default.
	RangeAuto Range = iota
	Range601
	Range709
)

type coeffs struct {
	yCoeff, vRed, vGreen, uGreen, uBlue int
}

// 601/709 coefficients per spec.md §4.1, positionally {Y, Vred, Ugreen,
// Vgreen, Ublue}.
var coeffs601 = coeffs{yCoeff: 298, vRed: 409, uGreen: -100, vGreen: -208, uBlue: 516}
var coeffs709 = coeffs{yCoeff: 298, vRed: 459, uGreen: -137, vGreen: -55, uBlue: -229}

func pickCoeffs(r Range, height int) coeffs {
	switch r {
	case Range709:
		return coeffs709
	case Range601:
		return coeffs601
	default:
		if videoformat.DefaultColorSpaceForHeight(height) == videoformat.ColorSpace709 {
			return coeffs709
		}
		return coeffs601
	}
}

func clamp8(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

func yuvToBGRA(c coeffs, y, u, v uint8) (b, g, r byte) {
	cy := int(y) - 16
	d := int(u) - 128
	e := int(v) - 128
	ri := (c.yCoeff*cy + c.vRed*e + 128) >> 8
	gi := (c.yCoeff*cy + c.uGreen*d + c.vGreen*e + 128) >> 8
	bi := (c.yCoeff*cy + c.uBlue*d + 128) >> 8
	return clamp8(bi), clamp8(gi), clamp8(ri)
}

// ToBGRA converts src (in the given format) into dst, a caller-provided
// buffer of at least width*height*4 bytes with stride width*4. It selects
// the wide (SIMD-shaped) path when the CPU probe allows it and the image
// is large enough to benefit, scalar otherwise.
func ToBGRA(src []byte, width, height, srcStride int, pf videoformat.PixelFormat, rng Range, dst []byte) error {
	if src == nil || dst == nil || width <= 0 || height <= 0 {
		return ErrInvalidArgument
	}
	dstStride := width * 4
	if len(dst) < dstStride*height {
		return ErrInvalidArgument
	}
	c := pickCoeffs(rng, height)

	switch pf {
	case videoformat.BGRA:
		return bgraIdentity(src, width, height, srcStride, dst, dstStride)
	case videoformat.UYVY:
		return convertPacked422(src, width, height, srcStride, dst, dstStride, c, true)
	case videoformat.YUYV:
		return convertPacked422(src, width, height, srcStride, dst, dstStride, c, false)
	case videoformat.NV12:
		return convertNV12(src, width, height, srcStride, dst, dstStride, c)
	case videoformat.RGB24:
		return convertRGB24(src, width, height, srcStride, dst, dstStride, false)
	case videoformat.BGR24:
		return convertRGB24(src, width, height, srcStride, dst, dstStride, true)
	case videoformat.MJPEG:
		return ErrUnsupportedFormat
	default:
		return ErrUnsupportedFormat
	}
}

func bgraIdentity(src []byte, width, height, srcStride int, dst []byte, dstStride int) error {
	rowBytes := width * 4
	for y := 0; y < height; y++ {
		srcOff := y * srcStride
		dstOff := y * dstStride
		if srcOff+rowBytes > len(src) {
			return ErrInvalidArgument
		}
		copy(dst[dstOff:dstOff+rowBytes], src[srcOff:srcOff+rowBytes])
	}
	return nil
}

// convertRGB24 handles RGB24 and BGR24 (swapBR) via a per-pixel byte
// reorder with constant alpha 255.
func convertRGB24(src []byte, width, height, srcStride int, dst []byte, dstStride int, swapBR bool) error {
	for y := 0; y < height; y++ {
		srcRow := src[y*srcStride:]
		dstRow := dst[y*dstStride:]
		for x := 0; x < width; x++ {
			so := x * 3
			do := x * 4
			if so+3 > len(srcRow) || do+4 > len(dstRow) {
				return ErrInvalidArgument
			}
			r, g, b := srcRow[so], srcRow[so+1], srcRow[so+2]
			if swapBR {
				r, b = b, r
			}
			dstRow[do+0] = b
			dstRow[do+1] = g
			dstRow[do+2] = r
			dstRow[do+3] = 255
		}
	}
	return nil
}

// convertPacked422 handles UYVY (uyvy=true) and YUYV (uyvy=false), each
// pair of source bytes covering two destination pixels.
func convertPacked422(src []byte, width, height, srcStride int, dst []byte, dstStride int, c coeffs, uyvy bool) error {
	if useWidePath(width) {
		return convertPacked422Wide(src, width, height, srcStride, dst, dstStride, c, uyvy)
	}
	return convertPacked422Scalar(src, width, height, srcStride, dst, dstStride, c, uyvy)
}

func convertPacked422Scalar(src []byte, width, height, srcStride int, dst []byte, dstStride int, c coeffs, uyvy bool) error {
	for y := 0; y < height; y++ {
		srcRow := src[y*srcStride:]
		dstRow := dst[y*dstStride:]
		for x := 0; x < width; x += 2 {
			so := x * 2
			if so+4 > len(srcRow) {
				return ErrInvalidArgument
			}
			var y0, y1, u, v uint8
			if uyvy {
				u, y0, v, y1 = srcRow[so], srcRow[so+1], srcRow[so+2], srcRow[so+3]
			} else {
				y0, u, y1, v = srcRow[so], srcRow[so+1], srcRow[so+2], srcRow[so+3]
			}
			b0, g0, r0 := yuvToBGRA(c, y0, u, v)
			do := x * 4
			if do+4 > len(dstRow) {
				return ErrInvalidArgument
			}
			dstRow[do+0], dstRow[do+1], dstRow[do+2], dstRow[do+3] = b0, g0, r0, 255
			if x+1 < width {
				b1, g1, r1 := yuvToBGRA(c, y1, u, v)
				dstRow[do+4], dstRow[do+5], dstRow[do+6], dstRow[do+7] = b1, g1, r1, 255
			}
		}
	}
	return nil
}

func convertNV12(src []byte, width, height, srcStride int, dst []byte, dstStride int, c coeffs) error {
	if useWidePath(width) {
		return convertNV12Wide(src, width, height, srcStride, dst, dstStride, c)
	}
	return convertNV12Scalar(src, width, height, srcStride, dst, dstStride, c)
}

func convertNV12Scalar(src []byte, width, height, srcStride int, dst []byte, dstStride int, c coeffs) error {
	yPlane := src
	uvPlane := src[srcStride*height:]
	for y := 0; y < height; y++ {
		yRow := yPlane[y*srcStride:]
		uvRow := uvPlane[(y/2)*srcStride:]
		dstRow := dst[y*dstStride:]
		for x := 0; x < width; x++ {
			yv := yRow[x]
			u := uvRow[(x/2)*2]
			v := uvRow[(x/2)*2+1]
			b, g, r := yuvToBGRA(c, yv, u, v)
			do := x * 4
			dstRow[do+0], dstRow[do+1], dstRow[do+2], dstRow[do+3] = b, g, r, 255
		}
	}
	return nil
}
