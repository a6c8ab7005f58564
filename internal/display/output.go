//go:build linux

package display

import (
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/zbynekdrlik/ndi-bridge-go/internal/convert"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/videoformat"
)

const flipEventWindow = 17 * time.Millisecond

// framebuffer is one dumb-buffer-backed scanout surface (spec.md §3
// "DRM framebuffer"): fb_id, dumb handle, mmap'd CPU-writable bytes, pitch.
type framebuffer struct {
	fbID   uint32
	handle uint32
	data   []byte
	pitch  uint32
	width  uint32
	height uint32
}

// Output owns one opened display card: its saved CRTC and double-buffered
// framebuffers. Scaling is done in software; no hardware plane is used.
type Output struct {
	mu sync.Mutex

	f           *os.File
	connectorID uint32
	crtcID      uint32
	mode        drmModeModeInfo

	savedCrtc drmModeCrtc
	hasSaved  bool

	buffers   [2]framebuffer
	current   int
	closed    bool
}

// Open opens cardPath, becomes master, enumerates connectors, and picks
// the first connected one (or the one matching connectorID if nonzero),
// then allocates double-buffered dumb framebuffers at its preferred mode.
func Open(cardPath string, connectorID uint32) (*Output, error) {
	f, err := openCard(cardPath)
	if err != nil {
		return nil, errors.Wrap(err, "display: open card")
	}

	_, connectorIDs, err := getResources(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "display: get resources")
	}

	var chosen ConnectorInfo
	found := false
	for _, id := range connectorIDs {
		info, err := getConnector(f, id)
		if err != nil || !info.Connected {
			continue
		}
		if connectorID != 0 && id != connectorID {
			continue
		}
		chosen = info
		found = true
		break
	}
	if !found {
		f.Close()
		return nil, fmt.Errorf("display: no connected connector found on %s", cardPath)
	}

	crtcIDs, _, _ := getResources(f)
	crtcID := uint32(0)
	if len(crtcIDs) > 0 {
		crtcID = crtcIDs[0]
	}

	o := &Output{f: f, connectorID: chosen.ConnectorID, crtcID: crtcID, mode: chosen.PreferredMode}

	if err := o.saveCrtc(); err != nil {
		f.Close()
		return nil, err
	}

	w := uint32(chosen.PreferredMode.Hdisplay)
	h := uint32(chosen.PreferredMode.Vdisplay)
	for i := range o.buffers {
		fb, err := createFramebuffer(f, w, h)
		if err != nil {
			o.destroyBuffersAndClose()
			return nil, err
		}
		o.buffers[i] = fb
	}

	if err := o.setCrtc(o.buffers[0].fbID); err != nil {
		o.destroyBuffersAndClose()
		return nil, err
	}

	return o, nil
}

func (o *Output) saveCrtc() error {
	var crtc drmModeCrtc
	crtc.CrtcID = o.crtcID
	if err := ioctl(o.f, ioctlModeGetCrtc, unsafe.Pointer(&crtc)); err != nil {
		return fmt.Errorf("display: GETCRTC: %w", err)
	}
	o.savedCrtc = crtc
	o.hasSaved = true
	return nil
}

func (o *Output) setCrtc(fbID uint32) error {
	connectors := []uint32{o.connectorID}
	crtc := drmModeCrtc{
		CrtcID:           o.crtcID,
		FbID:             fbID,
		SetConnectorsPtr: uint64(uintptr(unsafe.Pointer(&connectors[0]))),
		CountConnectors:  1,
		ModeValid:        1,
		Mode:             o.mode,
	}
	if err := ioctl(o.f, ioctlModeSetCrtc, unsafe.Pointer(&crtc)); err != nil {
		return fmt.Errorf("display: SETCRTC: %w", err)
	}
	return nil
}

func createFramebuffer(f *os.File, width, height uint32) (framebuffer, error) {
	dumb := drmModeCreateDumb{Width: width, Height: height, Bpp: 32}
	if err := ioctl(f, ioctlModeCreateDumb, unsafe.Pointer(&dumb)); err != nil {
		return framebuffer{}, fmt.Errorf("display: CREATE_DUMB: %w", err)
	}

	fbCmd := drmModeFbCmd{Width: width, Height: height, Pitch: dumb.Pitch, Bpp: 32, Depth: 24, Handle: dumb.Handle}
	if err := ioctl(f, ioctlModeAddFb, unsafe.Pointer(&fbCmd)); err != nil {
		return framebuffer{}, fmt.Errorf("display: ADDFB: %w", err)
	}

	mapReq := drmModeMapDumb{Handle: dumb.Handle}
	if err := ioctl(f, ioctlModeMapDumb, unsafe.Pointer(&mapReq)); err != nil {
		return framebuffer{}, fmt.Errorf("display: MAP_DUMB: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), int64(mapReq.Offset), int(dumb.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return framebuffer{}, fmt.Errorf("display: mmap dumb buffer: %w", err)
	}

	return framebuffer{fbID: fbCmd.FbID, handle: dumb.Handle, data: data, pitch: dumb.Pitch, width: width, height: height}, nil
}

// PresentBGRA converts src (in the given format) to the back buffer at
// the display's native resolution with aspect-preserving letterbox/
// pillarbox, flips it on, and waits up to flipEventWindow for the flip
// event, matching spec.md's SW-scale display algorithm.
func (o *Output) PresentBGRA(src []byte, srcW, srcH, srcStride int, pf videoformat.PixelFormat) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("display: PresentBGRA on closed output")
	}

	back := o.buffers[1-o.current]
	target := letterboxRect(srcW, srcH, int(back.width), int(back.height))

	clearBGRA(back.data, int(back.width), int(back.height), int(back.pitch))

	bgra := make([]byte, srcW*4*srcH)
	if err := convert.ToBGRA(src, srcW, srcH, srcStride, pf, convert.RangeAuto, bgra); err != nil {
		return err
	}

	nearestBlit(bgra, srcW, srcH, srcW*4, back.data, int(back.pitch), target)

	if err := o.flip(back.fbID); err != nil {
		return err
	}
	o.current = 1 - o.current
	return nil
}

// rect is the destination sub-rectangle of the back buffer the source
// image is scaled into; outside it stays cleared to black.
type rect struct {
	x, y, w, h int
}

// letterboxRect computes the aspect-preserving centred rectangle per
// spec.md §4.5's display algorithm.
func letterboxRect(srcW, srcH, dstW, dstH int) rect {
	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(dstW) / float64(dstH)
	if srcAspect > dstAspect {
		h := int(float64(dstW) / srcAspect)
		return rect{x: 0, y: (dstH - h) / 2, w: dstW, h: h}
	}
	w := int(float64(dstH) * srcAspect)
	return rect{x: (dstW - w) / 2, y: 0, w: w, h: dstH}
}

func clearBGRA(dst []byte, width, height, pitch int) {
	for y := 0; y < height; y++ {
		row := dst[y*pitch : y*pitch+width*4]
		for i := range row {
			row[i] = 0
		}
	}
}

// nearestBlit writes src (full-size BGRA) into dst's rect using
// nearest-neighbor sampling (src_x = dst_x*src_w/dst_w, same for y).
func nearestBlit(src []byte, srcW, srcH, srcStride int, dst []byte, dstPitch int, r rect) {
	if r.w <= 0 || r.h <= 0 {
		return
	}
	for dy := 0; dy < r.h; dy++ {
		sy := dy * srcH / r.h
		dstRow := dst[(r.y+dy)*dstPitch:]
		srcRow := src[sy*srcStride:]
		for dx := 0; dx < r.w; dx++ {
			sx := dx * srcW / r.w
			so := sx * 4
			do := (r.x + dx) * 4
			copy(dstRow[do:do+4], srcRow[so:so+4])
		}
	}
}

func (o *Output) flip(fbID uint32) error {
	pf := drmModeCrtcPageFlip{CrtcID: o.crtcID, FbID: fbID, Flags: drmModePageFlipEvent}
	if err := ioctl(o.f, ioctlModePageFlip, unsafe.Pointer(&pf)); err != nil {
		// Fall back to SETCRTC when atomic/async page-flip isn't available.
		return o.setCrtc(fbID)
	}
	return o.waitForFlipEvent()
}

// waitForFlipEvent drains the DRM event fd for up to flipEventWindow,
// matching spec.md's "≈16.6ms select window" — a missed event is not an
// error, just means the kernel delivered the flip without us observing it
// in time (the next flip call still succeeds).
func (o *Output) waitForFlipEvent() error {
	fds := []unix.PollFd{{Fd: int32(o.f.Fd()), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(flipEventWindow.Milliseconds()))
	if err != nil || n == 0 {
		return nil
	}
	buf := make([]byte, 1024)
	_, _ = unix.Read(int(o.f.Fd()), buf)
	return nil
}

func (o *Output) destroyBuffersAndClose() {
	for _, fb := range o.buffers {
		if fb.data != nil {
			_ = unix.Munmap(fb.data)
		}
		if fb.fbID != 0 {
			_ = ioctl(o.f, ioctlModeRmFb, unsafe.Pointer(&fb.fbID))
		}
		if fb.handle != 0 {
			dd := drmModeDestroyDumb{Handle: fb.handle}
			_ = ioctl(o.f, ioctlModeDestroyDumb, unsafe.Pointer(&dd))
		}
	}
	o.f.Close()
}

// Close restores the saved CRTC, unmaps/destroys both framebuffers, drops
// master, and closes the card fd (spec.md §4.5 "On close...").
func (o *Output) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true

	if o.hasSaved {
		_ = ioctl(o.f, ioctlModeSetCrtc, unsafe.Pointer(&o.savedCrtc))
	}
	for _, fb := range o.buffers {
		if fb.data != nil {
			_ = unix.Munmap(fb.data)
		}
		if fb.fbID != 0 {
			_ = ioctl(o.f, ioctlModeRmFb, unsafe.Pointer(&fb.fbID))
		}
		if fb.handle != 0 {
			dd := drmModeDestroyDumb{Handle: fb.handle}
			_ = ioctl(o.f, ioctlModeDestroyDumb, unsafe.Pointer(&dd))
		}
	}
	_ = ioctl(o.f, ioctlDropMaster, nil)
	o.f.Close()
}
