// Package ndisend wraps the NDI SDK's send API (spec.md §4.4). It cgo-binds
// against Processing.NDI.Lib directly, rather than through a vendored Go
// module, since the SDK is a proprietary runtime library the appliance
// expects preinstalled on the host (matching how the teacher's gst_pipeline.go
// treats GStreamer: a system library probed at init, not a Go dependency).
package ndisend

/*
#cgo CFLAGS: -I${SRCDIR}/include
#cgo linux LDFLAGS: -L/usr/lib -lndi
#cgo darwin LDFLAGS: -L/Library/NDI\ SDK\ for\ Apple/lib/macOS -lndi
#cgo windows LDFLAGS: -L"C:/Program Files/NDI/NDI 5 SDK/Lib/x64" -lProcessing.NDI.Lib.x64

#include <stdlib.h>
#include <stdbool.h>
#include <stdint.h>

typedef struct NDIlib_send_create_t {
	const char* p_ndi_name;
	const char* p_groups;
	bool clock_video;
	bool clock_audio;
} NDIlib_send_create_t;

typedef void* NDIlib_send_instance_t;

typedef struct NDIlib_video_frame_v2_t {
	int xres;
	int yres;
	uint32_t FourCC;
	int frame_rate_N;
	int frame_rate_D;
	float picture_aspect_ratio;
	int frame_format_type;
	int64_t timecode;
	uint8_t* p_data;
	int line_stride_in_bytes;
	const char* p_metadata;
	int64_t timestamp;
} NDIlib_video_frame_v2_t;

typedef struct NDIlib_audio_frame_v2_t {
	int sample_rate;
	int no_channels;
	int no_samples;
	int64_t timecode;
	float* p_data;
	int channel_stride_in_bytes;
	const char* p_metadata;
	int64_t timestamp;
} NDIlib_audio_frame_v2_t;

extern NDIlib_send_instance_t NDIlib_send_create(const NDIlib_send_create_t* p_create_settings);
extern void NDIlib_send_destroy(NDIlib_send_instance_t p_instance);
extern void NDIlib_send_send_video_v2(NDIlib_send_instance_t p_instance, const NDIlib_video_frame_v2_t* p_video_data);
extern void NDIlib_send_send_audio_v2(NDIlib_send_instance_t p_instance, const NDIlib_audio_frame_v2_t* p_audio_data);
extern int NDIlib_send_get_no_connections(NDIlib_send_instance_t p_instance, uint32_t timeout_in_ms);
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/zbynekdrlik/ndi-bridge-go/internal/convert"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/ndicore"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/videoformat"
)

// FourCC tags NDI understands on the send side (spec.md §4.4).
const (
	fourccUYVY = 0x59565955
	fourccBGRA = 0x41524742
)

// Sender owns one NDI send instance.
type Sender struct {
	mu       sync.Mutex
	handle   C.NDIlib_send_instance_t
	name     *C.char
	scratch  []byte // UYVY conversion scratch for YUYV sources
	closed   bool
}

// NewSender creates and names an NDI output. ndiName is the source name
// advertised on the network (spec.md §6, --ndi-name).
func NewSender(ndiName string) (*Sender, error) {
	if err := ndicore.Acquire(); err != nil {
		return nil, errors.Wrap(err, "ndisend: acquire NDI runtime")
	}

	cName := C.CString(ndiName)
	create := C.NDIlib_send_create_t{
		p_ndi_name:  cName,
		clock_video: false,
		clock_audio: false,
	}
	handle := C.NDIlib_send_create(&create)
	if handle == nil {
		C.free(unsafe.Pointer(cName))
		ndicore.Release()
		return nil, fmt.Errorf("ndisend: NDIlib_send_create failed for %q", ndiName)
	}
	return &Sender{handle: handle, name: cName}, nil
}

// SendVideo pushes one frame. YUYV sources are converted to UYVY inline
// (spec.md §4.4: NDI's packed 4:2:2 tag is UYVY, not YUYV) with this
// package's yuyvToUYVY byte swap; every other supported tag is
// passed through zero-copy.
func (s *Sender) SendVideo(data []byte, format videoformat.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("ndisend: SendVideo on closed sender")
	}

	fourcc, payload, stride, err := s.prepareVideo(data, format)
	if err != nil {
		return err
	}

	frame := C.NDIlib_video_frame_v2_t{
		xres:                 C.int(format.Width),
		yres:                 C.int(format.Height),
		FourCC:               C.uint32_t(fourcc),
		frame_rate_N:         C.int(format.FpsNum),
		frame_rate_D:         C.int(format.FpsDen),
		picture_aspect_ratio: C.float(float64(format.Width) / float64(format.Height)),
		p_data:               (*C.uint8_t)(unsafe.Pointer(&payload[0])),
		line_stride_in_bytes: C.int(stride),
	}
	C.NDIlib_send_send_video_v2(s.handle, &frame)
	return nil
}

// prepareVideo returns the NDI FourCC and a byte slice suitable for
// p_data, converting YUYV to UYVY in s.scratch when needed.
func (s *Sender) prepareVideo(data []byte, format videoformat.Format) (uint32, []byte, int, error) {
	switch format.PixelFormat {
	case videoformat.UYVY:
		return fourccUYVY, data, format.StrideBytes, nil
	case videoformat.BGRA:
		return fourccBGRA, data, format.StrideBytes, nil
	case videoformat.YUYV:
		if len(s.scratch) < len(data) {
			s.scratch = make([]byte, len(data))
		}
		if err := yuyvToUYVY(data, format.Width, format.Height, format.StrideBytes, s.scratch); err != nil {
			return 0, nil, 0, err
		}
		return fourccUYVY, s.scratch, format.StrideBytes, nil
	default:
		return 0, nil, 0, fmt.Errorf("ndisend: pixel format %s has no direct NDI FourCC, convert to UYVY or BGRA first", format.PixelFormat)
	}
}

// yuyvToUYVY reorders bytes in place of a byte-swap, not a colour
// conversion: both tags carry the same samples in a different byte order.
func yuyvToUYVY(src []byte, width, height, stride int, dst []byte) error {
	for y := 0; y < height; y++ {
		srcRow := src[y*stride:]
		dstRow := dst[y*stride:]
		for x := 0; x+3 < stride; x += 4 {
			if x+4 > len(srcRow) || x+4 > len(dstRow) {
				return convert.ErrInvalidArgument
			}
			y0, u, y1, v := srcRow[x], srcRow[x+1], srcRow[x+2], srcRow[x+3]
			dstRow[x], dstRow[x+1], dstRow[x+2], dstRow[x+3] = u, y0, v, y1
		}
	}
	return nil
}

// SendAudio pushes one interleaved stereo S16 buffer, converting to the
// SDK's planar float32 layout NDI requires.
func (s *Sender) SendAudio(pcm []int16, sampleRate, channels int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("ndisend: SendAudio on closed sender")
	}
	if channels <= 0 {
		return fmt.Errorf("ndisend: invalid channel count %d", channels)
	}
	samples := len(pcm) / channels
	planar := make([]float32, len(pcm))
	stride := samples * 4
	for ch := 0; ch < channels; ch++ {
		for i := 0; i < samples; i++ {
			planar[ch*samples+i] = float32(pcm[i*channels+ch]) / 32768.0
		}
	}

	frame := C.NDIlib_audio_frame_v2_t{
		sample_rate:            C.int(sampleRate),
		no_channels:            C.int(channels),
		no_samples:             C.int(samples),
		p_data:                 (*C.float)(unsafe.Pointer(&planar[0])),
		channel_stride_in_bytes: C.int(stride),
	}
	C.NDIlib_send_send_audio_v2(s.handle, &frame)
	return nil
}

// ConnectionCount reports how many receivers are currently connected,
// waiting up to timeoutMS for a change (0 polls immediately).
func (s *Sender) ConnectionCount(timeoutMS int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return int(C.NDIlib_send_get_no_connections(s.handle, C.uint32_t(timeoutMS)))
}

// Close destroys the send instance and releases the process-global
// runtime reference.
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	C.NDIlib_send_destroy(s.handle)
	C.free(unsafe.Pointer(s.name))
	ndicore.Release()
}
