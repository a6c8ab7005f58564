//go:build linux

package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// V4L2 ioctl numbers, computed the same way as the DRM ioctls in
// internal/display/ioctl_linux.go: _IOWR('V', nr, size) encodes the
// direction/size/type/nr into the ioctl request value. Written out as
// literal constants with the derivation in a comment, matching the
// teacher's drm/ioctl_linux.go convention, rather than computed at
// init time — these never change at runtime.
const (
	// VIDIOC_QUERYCAP = _IOR('V', 0, struct v4l2_capability) (104 bytes)
	vidiocQueryCap = 0x80685600

	// VIDIOC_ENUM_FMT = _IOWR('V', 2, struct v4l2_fmtdesc) (64 bytes)
	vidiocEnumFmt = 0xc0405602

	// VIDIOC_G_FMT / VIDIOC_S_FMT = _IOWR('V', 4/5, struct v4l2_format) (208 bytes)
	vidiocGFmt = 0xc0d05604
	vidiocSFmt = 0xc0d05605

	// VIDIOC_REQBUFS = _IOWR('V', 8, struct v4l2_requestbuffers) (20 bytes)
	vidiocReqBufs = 0xc0145608

	// VIDIOC_QUERYBUF = _IOWR('V', 9, struct v4l2_buffer) (88 bytes)
	vidiocQueryBuf = 0xc0585609

	// VIDIOC_QBUF / VIDIOC_DQBUF = _IOWR('V', 15/17, struct v4l2_buffer)
	vidiocQBuf  = 0xc058560f
	vidiocDQBuf = 0xc0585611

	// VIDIOC_STREAMON / VIDIOC_STREAMOFF = _IOW('V', 18/19, int)
	vidiocStreamOn  = 0x40045612
	vidiocStreamOff = 0x40045613

	// VIDIOC_ENUM_FRAMESIZES = _IOWR('V', 74, struct v4l2_frmsizeenum) (44 bytes)
	vidiocEnumFrameSizes = 0xc02c564a

	// VIDIOC_ENUM_FRAMEINTERVALS = _IOWR('V', 75, struct v4l2_frmivalenum) (52 bytes)
	vidiocEnumFrameIntervals = 0xc034564b

	// VIDIOC_S_PARM = _IOWR('V', 22, struct v4l2_streamparm) (204 bytes)
	vidiocSParm = 0xc0cc5616
)

const (
	v4l2BufTypeVideoCapture = 1
	v4l2MemoryMMAP          = 1
	v4l2FieldNone           = 1
	v4l2CapVideoCapture     = 0x00000001
	v4l2CapStreaming        = 0x04000000

	v4l2BufFlagTimestampMonotonic = 0x00002000
	v4l2BufFlagTimestampMask      = 0x0000e000
)

// FourCC pixel format codes, little-endian four-character tags.
const (
	fourccYUYV = 0x56595559
	fourccUYVY = 0x59565955
	fourccNV12 = 0x3231564e
	fourccRGB3 = 0x33424752
	fourccBGR3 = 0x33524742
	fourccMJPG = 0x47504a4d
)

type v4l2Capability struct {
	Driver       [16]byte
	Card         [32]byte
	BusInfo      [32]byte
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	Reserved     [3]uint32
}

type v4l2Fract struct {
	Numerator   uint32
	Denominator uint32
}

type v4l2PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

// v4l2Format mirrors struct v4l2_format; only the pix union member we use
// is laid out, with raw padding to match the kernel's 200-byte union. The
// union is 8-byte aligned on 64-bit kernels, so it starts at offset 8.
type v4l2Format struct {
	Type uint32
	_    [4]byte
	Pix  v4l2PixFormat
	_    [200 - 48]byte
}

type v4l2Timeval struct {
	Sec  int64
	Usec int64
}

type v4l2Buffer struct {
	Index     uint32
	Type      uint32
	BytesUsed uint32
	Flags     uint32
	Field     uint32
	Timestamp v4l2Timeval
	_         [20]byte // struct v4l2_timecode + sequence
	Memory    uint32
	Offset    uint32   // m.offset, the MMAP member of the 8-byte m union
	_         [4]byte  // rest of the m union
	Length    uint32
	_         [12]byte // reserved2, request_fd and tail padding to reach 88 bytes
}

type v4l2RequestBuffers struct {
	Count        uint32
	Type         uint32
	Memory       uint32
	Capabilities uint32
	Reserved     [1]uint32
}

type v4l2FrmSizeDiscrete struct {
	Width  uint32
	Height uint32
}

type v4l2FrmSizeEnum struct {
	Index       uint32
	PixelFormat uint32
	Type        uint32
	Discrete    v4l2FrmSizeDiscrete
	_           [24]byte
}

type v4l2FrmIvalEnum struct {
	Index       uint32
	PixelFormat uint32
	Width       uint32
	Height      uint32
	Type        uint32
	DiscreteN   uint32
	DiscreteD   uint32
	_           [24]byte
}

type v4l2StreamParm struct {
	Type uint32
	// capture struct v4l2_captureparm, embedding only timeperframe since
	// that's all we set.
	Capability   uint32
	CaptureMode  uint32
	TimePerFrame v4l2Fract
	_            [184]byte
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
