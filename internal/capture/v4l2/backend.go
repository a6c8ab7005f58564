//go:build linux

package v4l2

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/zbynekdrlik/ndi-bridge-go/internal/capture"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/device"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/videoformat"
)

// state is the backend's lifecycle, spec.md §4.3.1: Closed -> Opened ->
// Configured -> Streaming -> Closed.
type state int

const (
	stateClosed state = iota
	stateOpened
	stateConfigured
	stateStreaming
)

const numBuffers = 2

// mmapBuffer is one kernel-allocated capture buffer, mapped into our
// address space for zero-copy access.
type mmapBuffer struct {
	data   []byte
	length uint32
}

// Backend is the Linux V4L2 capture.Backend implementation.
type Backend struct {
	mu    sync.Mutex
	state state
	fd    int

	format videoformat.Format
	fourcc uint32

	buffers []mmapBuffer

	frameCB capture.FrameCallback
	errCB   capture.ErrorCallback

	stopCh chan struct{}
	doneCh chan struct{}

	hasErr     atomic.Bool
	lastErr    atomic.Value // string
	capturing  atomic.Bool
	statsMu    sync.Mutex
	stats      capture.Statistics
}

// New creates an unopened V4L2 backend.
func New() *Backend {
	b := &Backend{fd: -1}
	b.lastErr.Store("")
	return b
}

func (b *Backend) EnumerateDevices() ([]device.Descriptor, error) {
	return EnumerateDevices()
}

// StartCapture opens deviceIDOrName (or the first enumerated device if
// empty), negotiates a format per the preference tables, allocates MMAP
// buffers, starts streaming, and launches the capture goroutine. It blocks
// until the first frame arrives or negotiation/start fails.
func (b *Backend) StartCapture(deviceIDOrName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != stateClosed {
		return fmt.Errorf("v4l2: StartCapture called while backend is not closed")
	}

	node := deviceIDOrName
	if node == "" {
		devices, err := EnumerateDevices()
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			return fmt.Errorf("v4l2: no capture devices found")
		}
		node = devices[0].Id
	}

	fd, err := unix.Open(node, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return errors.Wrapf(err, "v4l2: open %s", node)
	}
	b.fd = fd
	b.state = stateOpened

	if err := b.negotiateFormat(); err != nil {
		b.closeLocked()
		return err
	}
	b.state = stateConfigured

	if err := b.allocBuffers(); err != nil {
		b.closeLocked()
		return err
	}

	if err := b.setStreaming(true); err != nil {
		b.closeLocked()
		return err
	}
	b.state = stateStreaming

	b.resetStats()
	b.hasErr.Store(false)
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.capturing.Store(true)

	first := make(chan error, 1)
	go b.captureLoop(first)

	select {
	case err := <-first:
		if err != nil {
			b.capturing.Store(false)
			b.closeLocked()
			return err
		}
	case <-time.After(capture.StallDeadline):
		b.capturing.Store(false)
		b.closeLocked()
		return fmt.Errorf("v4l2: timed out waiting for first frame")
	}
	return nil
}

// StopCapture signals the capture goroutine to exit, waits for it, and
// tears down streaming + buffers. Idempotent.
func (b *Backend) StopCapture() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateStreaming {
		return
	}
	close(b.stopCh)
	<-b.doneCh
	b.capturing.Store(false)
	b.closeLocked()
}

func (b *Backend) closeLocked() {
	if b.fd >= 0 {
		if b.state == stateStreaming {
			_ = b.setStreaming(false)
		}
		for _, buf := range b.buffers {
			if buf.data != nil {
				_ = unix.Munmap(buf.data)
			}
		}
		b.buffers = nil
		_ = unix.Close(b.fd)
		b.fd = -1
	}
	b.state = stateClosed
}

func (b *Backend) SetFrameCallback(cb capture.FrameCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frameCB = cb
}

func (b *Backend) SetErrorCallback(cb capture.ErrorCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errCB = cb
}

func (b *Backend) HasError() bool   { return b.hasErr.Load() }
func (b *Backend) LastError() string {
	v, _ := b.lastErr.Load().(string)
	return v
}
func (b *Backend) IsCapturing() bool { return b.capturing.Load() }

func (b *Backend) GetStatistics() capture.Statistics {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

func (b *Backend) resetStats() {
	b.statsMu.Lock()
	b.stats = capture.Statistics{}
	b.statsMu.Unlock()
}

func (b *Backend) reportError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	b.hasErr.Store(true)
	b.lastErr.Store(msg)
	log.Error().Str("backend", "v4l2").Msg(msg)
	b.mu.Lock()
	cb := b.errCB
	b.mu.Unlock()
	if cb != nil {
		cb(msg)
	}
}

// negotiateFormat tries formatPreference x resolutionPreference x
// fpsPreference in order until VIDIOC_S_FMT succeeds, per spec.md §4.3.1.
func (b *Backend) negotiateFormat() error {
	for _, fourcc := range formatPreference {
		for _, res := range resolutionPreference {
			var fmtReq v4l2Format
			fmtReq.Type = v4l2BufTypeVideoCapture
			fmtReq.Pix.Width = res[0]
			fmtReq.Pix.Height = res[1]
			fmtReq.Pix.PixelFormat = fourcc
			fmtReq.Pix.Field = v4l2FieldNone

			if err := ioctl(b.fd, vidiocSFmt, unsafe.Pointer(&fmtReq)); err != nil {
				continue
			}
			if fmtReq.Pix.PixelFormat != fourcc {
				// Driver substituted a different format than requested.
				continue
			}

			b.fourcc = fourcc
			pf := fourccToPixelFormat(fourcc)
			b.format = videoformat.Format{
				Width:       int(fmtReq.Pix.Width),
				Height:      int(fmtReq.Pix.Height),
				StrideBytes: int(fmtReq.Pix.BytesPerLine),
				PixelFormat: pf,
				FpsNum:      60,
				FpsDen:      1,
				Color: videoformat.ColorInfo{
					Space: videoformat.DefaultColorSpaceForHeight(int(fmtReq.Pix.Height)),
					Range: videoformat.RangeLimited,
				},
			}
			b.negotiateFrameRate()
			return nil
		}
	}
	return fmt.Errorf("v4l2: no acceptable format/resolution negotiated")
}

// negotiateFrameRate attempts fpsPreference via VIDIOC_S_PARM on a
// best-effort basis; failure to set a frame rate does not fail capture.
func (b *Backend) negotiateFrameRate() {
	for _, fps := range fpsPreference {
		var parm v4l2StreamParm
		parm.Type = v4l2BufTypeVideoCapture
		parm.TimePerFrame = v4l2Fract{Numerator: 1, Denominator: fps}
		if err := ioctl(b.fd, vidiocSParm, unsafe.Pointer(&parm)); err == nil {
			b.format.FpsNum = int(fps)
			b.format.FpsDen = 1
			return
		}
	}
}

// allocBuffers requests numBuffers MMAP buffers and maps each into our
// address space.
func (b *Backend) allocBuffers() error {
	var req v4l2RequestBuffers
	req.Count = numBuffers
	req.Type = v4l2BufTypeVideoCapture
	req.Memory = v4l2MemoryMMAP
	if err := ioctl(b.fd, vidiocReqBufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("v4l2: VIDIOC_REQBUFS: %w", err)
	}
	if req.Count < 1 {
		return fmt.Errorf("v4l2: driver granted zero buffers")
	}

	b.buffers = make([]mmapBuffer, req.Count)
	for i := uint32(0); i < req.Count; i++ {
		var buf v4l2Buffer
		buf.Type = v4l2BufTypeVideoCapture
		buf.Memory = v4l2MemoryMMAP
		buf.Index = i
		if err := ioctl(b.fd, vidiocQueryBuf, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("v4l2: VIDIOC_QUERYBUF[%d]: %w", i, err)
		}

		data, err := unix.Mmap(b.fd, int64(buf.Offset), int(buf.Length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return fmt.Errorf("v4l2: mmap buffer %d: %w", i, err)
		}
		b.buffers[i] = mmapBuffer{data: data, length: buf.Length}

		if err := ioctl(b.fd, vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("v4l2: VIDIOC_QBUF[%d] (initial queue): %w", i, err)
		}
	}
	return nil
}

func (b *Backend) setStreaming(on bool) error {
	t := uint32(v4l2BufTypeVideoCapture)
	req := uintptr(vidiocStreamOff)
	if on {
		req = uintptr(vidiocStreamOn)
	}
	if err := ioctl(b.fd, req, unsafe.Pointer(&t)); err != nil {
		return fmt.Errorf("v4l2: VIDIOC_STREAM%v: %w", on, err)
	}
	return nil
}
