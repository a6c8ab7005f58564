// Package ndirecv wraps the NDI SDK's find/receive API (spec.md §4.5). It
// runs a dedicated polling goroutine equivalent to the SDK's
// NDIlib_recv_capture_v2 loop, dispatching to caller-supplied video/audio
// callbacks and freeing the SDK-owned frame before returning, grounded on
// the shape of other_examples' go-video-capture NDI receiver binding.
package ndirecv

/*
#cgo CFLAGS: -I${SRCDIR}/include
#cgo linux LDFLAGS: -L/usr/lib -lndi
#cgo darwin LDFLAGS: -L/Library/NDI\ SDK\ for\ Apple/lib/macOS -lndi
#cgo windows LDFLAGS: -L"C:/Program Files/NDI/NDI 5 SDK/Lib/x64" -lProcessing.NDI.Lib.x64

#include <stdlib.h>
#include <stdbool.h>
#include <stdint.h>

typedef struct NDIlib_source_t {
	const char* p_ndi_name;
	const char* p_url_address;
} NDIlib_source_t;

typedef struct NDIlib_find_create_t {
	bool show_local_sources;
	const char* p_groups;
	const char* p_extra_ips;
} NDIlib_find_create_t;

typedef void* NDIlib_find_instance_t;
typedef void* NDIlib_recv_instance_t;

typedef struct NDIlib_recv_create_v3_t {
	NDIlib_source_t source_to_connect_to;
	int color_format;
	int bandwidth;
	bool allow_video_fields;
	const char* p_ndi_recv_name;
} NDIlib_recv_create_v3_t;

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

typedef enum NDIlib_frame_type_e {
	NDIlib_frame_type_none = 0,
	NDIlib_frame_type_video = 1,
	NDIlib_frame_type_audio = 2,
	NDIlib_frame_type_metadata = 3,
	NDIlib_frame_type_error = 4,
	NDIlib_frame_type_status_change = 100
} NDIlib_frame_type_e;

extern NDIlib_find_instance_t NDIlib_find_create_v2(const NDIlib_find_create_t* p_create_settings);
extern void NDIlib_find_destroy(NDIlib_find_instance_t p_instance);
extern bool NDIlib_find_wait_for_sources(NDIlib_find_instance_t p_instance, uint32_t timeout_in_ms);
extern const NDIlib_source_t* NDIlib_find_get_current_sources(NDIlib_find_instance_t p_instance, uint32_t* p_no_sources);

extern NDIlib_recv_instance_t NDIlib_recv_create_v3(const NDIlib_recv_create_v3_t* p_create_settings);
extern void NDIlib_recv_destroy(NDIlib_recv_instance_t p_instance);
extern void NDIlib_recv_connect(NDIlib_recv_instance_t p_instance, const NDIlib_source_t* p_src);
extern NDIlib_frame_type_e NDIlib_recv_capture_v2(NDIlib_recv_instance_t p_instance, NDIlib_video_frame_v2_t* p_video_data, NDIlib_audio_frame_v2_t* p_audio_data, void* p_metadata, uint32_t timeout_in_ms);
extern void NDIlib_recv_free_video_v2(NDIlib_recv_instance_t p_instance, const NDIlib_video_frame_v2_t* p_video_data);
extern void NDIlib_recv_free_audio_v2(NDIlib_recv_instance_t p_instance, const NDIlib_audio_frame_v2_t* p_audio_data);
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zbynekdrlik/ndi-bridge-go/internal/ndicore"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/videoformat"
)

const captureTimeoutMS = 100

// VideoCallback receives a borrowed view of one decoded video frame; data
// is invalid once the callback returns.
type VideoCallback func(data []byte, format videoformat.Format, timestampNS int64)

// AudioCallback receives a borrowed view of one interleaved S16 buffer.
type AudioCallback func(pcm []int16, sampleRate, channels int, timestampNS int64)

// Source identifies one discoverable NDI sender.
type Source struct {
	Name    string
	Address string
}

// Finder discovers NDI sources on the network.
type Finder struct {
	handle C.NDIlib_find_instance_t
}

// NewFinder starts source discovery. showLocal includes sources on this
// host in the result set.
func NewFinder(showLocal bool) (*Finder, error) {
	if err := ndicore.Acquire(); err != nil {
		return nil, errors.Wrap(err, "ndirecv: acquire NDI runtime")
	}
	create := C.NDIlib_find_create_t{show_local_sources: C.bool(showLocal)}
	handle := C.NDIlib_find_create_v2(&create)
	if handle == nil {
		ndicore.Release()
		return nil, fmt.Errorf("ndirecv: NDIlib_find_create_v2 failed")
	}
	return &Finder{handle: handle}, nil
}

// WaitForSources blocks up to timeout for the source list to change, then
// returns the current list.
func (f *Finder) WaitForSources(timeout time.Duration) []Source {
	C.NDIlib_find_wait_for_sources(f.handle, C.uint32_t(timeout.Milliseconds()))
	var n C.uint32_t
	cSources := C.NDIlib_find_get_current_sources(f.handle, &n)
	out := make([]Source, 0, int(n))
	if cSources == nil {
		return out
	}
	slice := unsafe.Slice(cSources, int(n))
	for _, s := range slice {
		out = append(out, Source{
			Name:    C.GoString(s.p_ndi_name),
			Address: C.GoString(s.p_url_address),
		})
	}
	return out
}

// Close releases the finder.
func (f *Finder) Close() {
	C.NDIlib_find_destroy(f.handle)
	ndicore.Release()
}

// Receiver owns one NDI receive instance and its dedicated polling
// goroutine.
type Receiver struct {
	mu       sync.Mutex
	handle   C.NDIlib_recv_instance_t
	stopCh   chan struct{}
	doneCh   chan struct{}
	videoCB  VideoCallback
	audioCB  AudioCallback
	running  bool
}

// NewReceiver connects to source (by name) and starts the poll loop.
func NewReceiver(source Source, recvName string) (*Receiver, error) {
	if err := ndicore.Acquire(); err != nil {
		return nil, errors.Wrap(err, "ndirecv: acquire NDI runtime")
	}

	cName := C.CString(source.Name)
	defer C.free(unsafe.Pointer(cName))
	cAddr := C.CString(source.Address)
	defer C.free(unsafe.Pointer(cAddr))
	cRecvName := C.CString(recvName)
	defer C.free(unsafe.Pointer(cRecvName))

	create := C.NDIlib_recv_create_v3_t{
		source_to_connect_to: C.NDIlib_source_t{p_ndi_name: cName, p_url_address: cAddr},
		color_format:          1, // NDIlib_recv_color_format_UYVY_BGRA
		bandwidth:             100,
		allow_video_fields:    false,
		p_ndi_recv_name:       cRecvName,
	}
	handle := C.NDIlib_recv_create_v3(&create)
	if handle == nil {
		ndicore.Release()
		return nil, fmt.Errorf("ndirecv: NDIlib_recv_create_v3 failed for %q", source.Name)
	}

	r := &Receiver{handle: handle, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
	r.running = true
	go r.pollLoop()
	return r, nil
}

func (r *Receiver) SetVideoCallback(cb VideoCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videoCB = cb
}

func (r *Receiver) SetAudioCallback(cb AudioCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audioCB = cb
}

// pollLoop mirrors NDIlib_recv_capture_v2's blocking-poll contract: each
// call returns within captureTimeoutMS with either a frame type or "none",
// and every non-none, non-error frame must be freed by us before the next
// call.
func (r *Receiver) pollLoop() {
	defer close(r.doneCh)
	var video C.NDIlib_video_frame_v2_t
	var audio C.NDIlib_audio_frame_v2_t

	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		frameType := C.NDIlib_recv_capture_v2(r.handle, &video, &audio, nil, captureTimeoutMS)
		switch frameType {
		case C.NDIlib_frame_type_video:
			r.dispatchVideo(&video)
			C.NDIlib_recv_free_video_v2(r.handle, &video)
		case C.NDIlib_frame_type_audio:
			r.dispatchAudio(&audio)
			C.NDIlib_recv_free_audio_v2(r.handle, &audio)
		case C.NDIlib_frame_type_error:
			return
		default:
			// none or metadata/status_change: nothing to free, keep polling.
		}
	}
}

func (r *Receiver) dispatchVideo(v *C.NDIlib_video_frame_v2_t) {
	r.mu.Lock()
	cb := r.videoCB
	r.mu.Unlock()
	if cb == nil {
		return
	}
	stride := int(v.line_stride_in_bytes)
	height := int(v.yres)
	data := unsafe.Slice((*byte)(v.p_data), stride*height)
	format := videoformat.Format{
		Width:       int(v.xres),
		Height:      height,
		StrideBytes: stride,
		PixelFormat: fourccToPixelFormat(uint32(v.FourCC)),
		FpsNum:      int(v.frame_rate_N),
		FpsDen:      int(v.frame_rate_D),
		Color: videoformat.ColorInfo{
			Space: videoformat.DefaultColorSpaceForHeight(height),
			Range: videoformat.RangeLimited,
		},
	}
	cb(data, format, int64(v.timestamp)*int64(time.Microsecond)/10)
}

// maxAudioChannels and maxAudioSamples bound a single NDI audio frame
// (spec.md §4.5); a frame outside either limit is malformed and dropped
// rather than read out of bounds.
const (
	maxAudioChannels = 32
	maxAudioSamples  = 192000
)

func (r *Receiver) dispatchAudio(a *C.NDIlib_audio_frame_v2_t) {
	r.mu.Lock()
	cb := r.audioCB
	r.mu.Unlock()
	if cb == nil {
		return
	}
	channels := int(a.no_channels)
	samples := int(a.no_samples)
	if channels < 1 || channels > maxAudioChannels || samples < 0 || samples > maxAudioSamples {
		log.Warn().Int("channels", channels).Int("samples", samples).
			Msg("ndirecv: malformed audio frame, dropped")
		return
	}
	planar := unsafe.Slice((*float32)(a.p_data), channels*samples)

	// Downmix to stereo before handing off (audio_processor.cpp's
	// mono-duplicate / take-first-two rule): mono is duplicated to both
	// channels, anything above stereo keeps only the first two channels.
	stereo := make([]int16, samples*2)
	switch {
	case channels == 1:
		for i := 0; i < samples; i++ {
			v := floatToS16(planar[i])
			stereo[i*2] = v
			stereo[i*2+1] = v
		}
	default:
		for i := 0; i < samples; i++ {
			stereo[i*2] = floatToS16(planar[i])
			stereo[i*2+1] = floatToS16(planar[samples+i])
		}
	}
	cb(stereo, int(a.sample_rate), 2, int64(a.timestamp)*int64(time.Microsecond)/10)
}

func floatToS16(f float32) int16 {
	v := f * 32768.0
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

func fourccToPixelFormat(cc uint32) videoformat.PixelFormat {
	switch cc {
	case 0x59565955: // UYVY
		return videoformat.UYVY
	case 0x41524742, 0x58524742: // BGRA, BGRX
		return videoformat.BGRA
	case 0x3231564e: // NV12
		return videoformat.NV12
	default:
		return videoformat.Unknown
	}
}

// Close stops the poll loop and releases the receive instance.
func (r *Receiver) Close() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
	C.NDIlib_recv_destroy(r.handle)
	ndicore.Release()
}
