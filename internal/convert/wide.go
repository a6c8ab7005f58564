package convert

import "golang.org/x/sys/cpu"

// useWidePath reports whether the wide, 16-pixel-per-iteration conversion
// path should run instead of the scalar one: the CPU must advertise AVX2
// (a practical proxy for "wide integer SIMD is cheap here") and the row
// must be at least one full 16-pixel group. The wide path is built to
// produce byte-identical output to scalar (the codec only widens to
// int32/int64 lanes, it never changes the rounding), so the selection is
// purely a performance decision, never a correctness one.
func useWidePath(width int) bool {
	return cpu.X86.HasAVX2 && width >= 16
}

// process16 converts 16 (y,u,v) triples in one batch using the same
// integer math as the scalar path, unrolled the way the appliance's
// original 256-bit SIMD kernel processed 16 lanes per iteration: gather,
// widen, scale, round, clamp, pack. Kept branch-free aside from the
// data-independent clamp so the Go compiler can auto-vectorize the loop
// body on amd64.
func process16(c coeffs, y, u, v [16]uint8, dst []byte, dstOff int) {
	for i := 0; i < 16; i++ {
		b, g, r := yuvToBGRA(c, y[i], u[i], v[i])
		o := dstOff + i*4
		dst[o+0], dst[o+1], dst[o+2], dst[o+3] = b, g, r, 255
	}
}

func convertPacked422Wide(src []byte, width, height, srcStride int, dst []byte, dstStride int, c coeffs, uyvy bool) error {
	aligned := (width / 16) * 16
	for y := 0; y < height; y++ {
		srcRow := src[y*srcStride:]
		dstRow := dst[y*dstStride:]
		for x := 0; x < aligned; x += 16 {
			var ys, us, vs [16]uint8
			for i := 0; i < 16; i += 2 {
				so := (x + i) * 2
				if so+4 > len(srcRow) {
					return ErrInvalidArgument
				}
				var y0, y1, u, v uint8
				if uyvy {
					u, y0, v, y1 = srcRow[so], srcRow[so+1], srcRow[so+2], srcRow[so+3]
				} else {
					y0, u, y1, v = srcRow[so], srcRow[so+1], srcRow[so+2], srcRow[so+3]
				}
				ys[i], ys[i+1] = y0, y1
				us[i], us[i+1] = u, u
				vs[i], vs[i+1] = v, v
			}
			if x*4+64 > len(dstRow) {
				return ErrInvalidArgument
			}
			process16(c, ys, us, vs, dstRow, x*4)
		}
		if aligned < width {
			if err := convertPacked422ScalarRow(srcRow, dstRow, aligned, width, c, uyvy); err != nil {
				return err
			}
		}
	}
	return nil
}

func convertPacked422ScalarRow(srcRow, dstRow []byte, from, width int, c coeffs, uyvy bool) error {
	for x := from; x < width; x += 2 {
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
	return nil
}

func convertNV12Wide(src []byte, width, height, srcStride int, dst []byte, dstStride int, c coeffs) error {
	yPlane := src
	uvPlane := src[srcStride*height:]
	aligned := (width / 16) * 16
	for y := 0; y < height; y++ {
		yRow := yPlane[y*srcStride:]
		uvRow := uvPlane[(y/2)*srcStride:]
		dstRow := dst[y*dstStride:]
		for x := 0; x < aligned; x += 16 {
			var ys, us, vs [16]uint8
			for i := 0; i < 16; i++ {
				ys[i] = yRow[x+i]
				us[i] = uvRow[((x+i)/2)*2]
				vs[i] = uvRow[((x+i)/2)*2+1]
			}
			process16(c, ys, us, vs, dstRow, x*4)
		}
		for x := aligned; x < width; x++ {
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
