//go:build decklink

// Package decklink wraps the Blackmagic DeckLink SDK for video capture
// (spec.md §4.3.3) through shim.cpp's C facade, satisfying the same
// capture.Backend contract as the V4L2 and Media Foundation backends.
// Build-tagged `decklink` since the SDK headers and driver are an optional
// install, unlike the always-available V4L2 path.
package decklink

/*
#cgo CXXFLAGS: -std=c++14
#cgo LDFLAGS: -ldl
#include "shim.h"
#include <stdlib.h>

extern void goDeckLinkFrame(void *userdata, const uint8_t *data, int width, int height, int stride, int64_t ts_ns);
extern void goDeckLinkError(void *userdata, const char *message);
*/
import "C"

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/rs/zerolog/log"

	"github.com/zbynekdrlik/ndi-bridge-go/internal/capture"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/device"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/videoformat"
)

var (
	registryMu sync.Mutex
	registry   = make(map[uintptr]*Backend)
	nextID     uintptr
)

type state int

const (
	stateClosed state = iota
	stateOpened
	stateStreaming
)

// Backend implements capture.Backend over the DeckLink SDK. Frames arrive
// as 8-bit BGRA (the format requested of the SDK in shim.cpp's dl_start),
// so this backend never needs internal/convert on its hot path.
type Backend struct {
	mu      sync.Mutex
	state   state
	handle  C.DlCapture
	id      uintptr
	format  videoformat.Format

	frameCB capture.FrameCallback
	errCB   capture.ErrorCallback

	hasErr    atomic.Bool
	lastErr   atomic.Value
	capturing atomic.Bool

	statsMu sync.Mutex
	stats   capture.Statistics

	firstOnce sync.Once
	firstCh   chan error
}

func New() *Backend {
	b := &Backend{}
	b.lastErr.Store("")
	return b
}

const maxDevices = 32

// EnumerateDevices lists DeckLink input-capable devices.
func (b *Backend) EnumerateDevices() ([]device.Descriptor, error) {
	infos := make([]C.DlDeviceInfo, maxDevices)
	n := int(C.dl_enumerate(&infos[0], C.int(maxDevices)))
	out := make([]device.Descriptor, 0, n)
	for i := 0; i < n; i++ {
		name := C.GoString(&infos[i].name[0])
		out = append(out, device.Descriptor{
			Id:           fmt.Sprintf("dl:%d", int(infos[i].index)),
			DisplayName:  name,
			Capabilities: device.CapCapture | device.CapStreaming,
		})
	}
	return out, nil
}

// StartCapture opens deviceIDOrName (index "dl:N", name, or "" for the
// first device), starts streaming, and blocks for the first frame.
func (b *Backend) StartCapture(deviceIDOrName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateClosed {
		return fmt.Errorf("decklink: StartCapture called from non-closed state")
	}

	index := resolveIndex(deviceIDOrName, b.EnumerateDevices)
	handle := C.dl_open(C.int(index))
	if handle == nil {
		return fmt.Errorf("decklink: failed to open device %q", deviceIDOrName)
	}

	registryMu.Lock()
	nextID++
	id := nextID
	registry[id] = b
	registryMu.Unlock()

	b.handle = handle
	b.id = id
	b.format = videoformat.Format{
		Width: 1920, Height: 1080, StrideBytes: 1920 * 4,
		PixelFormat: videoformat.BGRA, FpsNum: 60, FpsDen: 1,
		Color: videoformat.ColorInfo{Space: videoformat.ColorSpace709, Range: videoformat.RangeFull},
	}
	b.resetStats()
	b.firstCh = make(chan error, 1)
	b.capturing.Store(true)

	if rc := C.dl_start(handle, C.dl_frame_callback(C.goDeckLinkFrame), C.dl_error_callback(C.goDeckLinkError), unsafe.Pointer(id)); rc != 0 {
		b.teardownLocked()
		return fmt.Errorf("decklink: dl_start failed")
	}
	b.state = stateStreaming

	select {
	case err := <-b.firstCh:
		if err != nil {
			b.teardownLocked()
			return err
		}
	case <-time.After(capture.StallDeadline):
		b.teardownLocked()
		return fmt.Errorf("decklink: no frame within %s of starting", capture.StallDeadline)
	}
	return nil
}

func resolveIndex(deviceIDOrName string, enumerate func() ([]device.Descriptor, error)) int {
	if deviceIDOrName == "" {
		return -1
	}
	devices, err := enumerate()
	if err != nil {
		return -1
	}
	for _, d := range devices {
		if d.Id == deviceIDOrName || d.DisplayName == deviceIDOrName {
			var idx int
			fmt.Sscanf(d.Id, "dl:%d", &idx)
			return idx
		}
	}
	return -1
}

//export goDeckLinkFrame
func goDeckLinkFrame(userdata unsafe.Pointer, data *C.uint8_t, width, height, stride C.int, tsNS C.int64_t) {
	id := uintptr(userdata)
	registryMu.Lock()
	b := registry[id]
	registryMu.Unlock()
	if b == nil {
		return
	}

	frame := unsafe.Slice((*byte)(unsafe.Pointer(data)), int(stride)*int(height))

	b.mu.Lock()
	b.format.Width = int(width)
	b.format.Height = int(height)
	b.format.StrideBytes = int(stride)
	cb := b.frameCB
	format := b.format
	b.mu.Unlock()

	if cb != nil {
		cb(frame, int64(tsNS), format)
	}
	b.recordStats()
	b.firstOnce.Do(func() { b.firstCh <- nil })
}

//export goDeckLinkError
func goDeckLinkError(userdata unsafe.Pointer, message *C.char) {
	id := uintptr(userdata)
	registryMu.Lock()
	b := registry[id]
	registryMu.Unlock()
	if b == nil {
		return
	}
	msg := C.GoString(message)
	b.hasErr.Store(true)
	b.lastErr.Store(msg)
	log.Warn().Str("component", "decklink").Msg(msg)

	b.mu.Lock()
	cb := b.errCB
	b.mu.Unlock()
	if cb != nil {
		cb(msg)
	}
	b.firstOnce.Do(func() { b.firstCh <- fmt.Errorf("decklink: %s", msg) })
}

func (b *Backend) recordStats() {
	b.statsMu.Lock()
	b.stats.Captured++
	b.statsMu.Unlock()
}

func (b *Backend) resetStats() {
	b.statsMu.Lock()
	b.stats = capture.Statistics{}
	b.statsMu.Unlock()
}

func (b *Backend) StopCapture() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.teardownLocked()
}

func (b *Backend) teardownLocked() {
	if b.state == stateClosed {
		return
	}
	C.dl_stop(b.handle)
	C.dl_close(b.handle)
	registryMu.Lock()
	delete(registry, b.id)
	registryMu.Unlock()
	b.capturing.Store(false)
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

func (b *Backend) HasError() bool { return b.hasErr.Load() }

func (b *Backend) LastError() string {
	v := b.lastErr.Load()
	if v == nil {
		return ""
	}
	return v.(string)
}

func (b *Backend) IsCapturing() bool { return b.capturing.Load() }

func (b *Backend) GetStatistics() capture.Statistics {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}
