//go:build cgo

package audiosink

/*
#cgo pkg-config: libpipewire-0.3 libspa-0.2
#include <pipewire/pipewire.h>
#include <spa/param/audio/format-utils.h>
#include <stdlib.h>

typedef struct {
	struct pw_main_loop *loop;
	struct pw_context *context;
	struct pw_core *core;
	struct pw_stream *stream;
	struct spa_hook stream_listener;
	int running;
	uintptr_t userdata;
} PwPlaybackStream;

extern void goPlaybackProcess(uintptr_t userdata);

static void on_stream_process(void *data) {
	PwPlaybackStream *s = (PwPlaybackStream *)data;
	goPlaybackProcess(s->userdata);
}

static const struct pw_stream_events stream_events = {
	PW_VERSION_STREAM_EVENTS,
	.process = on_stream_process,
};

static PwPlaybackStream *pw_playback_stream_new(uintptr_t userdata) {
	PwPlaybackStream *s = calloc(1, sizeof(PwPlaybackStream));
	s->userdata = userdata;
	s->loop = pw_main_loop_new(NULL);
	s->context = pw_context_new(pw_main_loop_get_loop(s->loop), NULL, 0);
	s->core = pw_context_connect(s->context, NULL, 0);
	return s;
}

static int pw_playback_stream_connect(PwPlaybackStream *s, int rate, int channels, int quantum) {
	uint8_t buffer[1024];
	struct spa_pod_builder b = SPA_POD_BUILDER_INIT(buffer, sizeof(buffer));

	struct spa_audio_info_raw info = {0};
	info.format = SPA_AUDIO_FORMAT_S16;
	info.rate = rate;
	info.channels = channels;
	if (channels == 2) {
		info.position[0] = SPA_AUDIO_CHANNEL_FL;
		info.position[1] = SPA_AUDIO_CHANNEL_FR;
	}

	char quantumStr[32];
	snprintf(quantumStr, sizeof(quantumStr), "%d/%d", quantum, rate);

	struct pw_properties *props = pw_properties_new(
		PW_KEY_MEDIA_TYPE, "Audio",
		PW_KEY_MEDIA_CATEGORY, "Playback",
		PW_KEY_MEDIA_ROLE, "Movie",
		PW_KEY_NODE_NAME, "ndi-bridge-display",
		PW_KEY_NODE_LATENCY, quantumStr,
		NULL);

	s->stream = pw_stream_new(s->core, "ndi-bridge-playback", props);
	pw_stream_add_listener(s->stream, &s->stream_listener, &stream_events, s);

	const struct spa_pod *params[1];
	params[0] = spa_format_audio_raw_build(&b, SPA_PARAM_EnumFormat, &info);

	return pw_stream_connect(s->stream,
		PW_DIRECTION_OUTPUT,
		PW_ID_ANY,
		PW_STREAM_FLAG_AUTOCONNECT | PW_STREAM_FLAG_MAP_BUFFERS | PW_STREAM_FLAG_RT_PROCESS,
		params, 1);
}

static void pw_playback_stream_run(PwPlaybackStream *s) {
	s->running = 1;
	pw_main_loop_run(s->loop);
}

static void pw_playback_stream_stop(PwPlaybackStream *s) {
	if (s->running) {
		pw_main_loop_quit(s->loop);
		s->running = 0;
	}
}

static void pw_playback_stream_destroy(PwPlaybackStream *s) {
	if (s->stream) pw_stream_destroy(s->stream);
	if (s->core) pw_context_disconnect(s->core);
	if (s->context) pw_context_destroy(s->context);
	if (s->loop) pw_main_loop_destroy(s->loop);
	free(s);
}

// pw_playback_write dequeues the current process buffer, copies nSamples
// int16 values into it, and queues it back to PipeWire.
static int pw_playback_write(PwPlaybackStream *s, const int16_t *data, int nSamples) {
	struct pw_buffer *b = pw_stream_dequeue_buffer(s->stream);
	if (!b) return -1;
	struct spa_buffer *buf = b->buffer;
	int16_t *dst = buf->datas[0].data;
	if (!dst) return -1;

	int bytes = nSamples * (int)sizeof(int16_t);
	int maxBytes = (int)buf->datas[0].maxsize;
	if (bytes > maxBytes) bytes = maxBytes;
	memcpy(dst, data, bytes);

	buf->datas[0].chunk->offset = 0;
	buf->datas[0].chunk->stride = (int)sizeof(int16_t) * 2;
	buf->datas[0].chunk->size = bytes;

	pw_stream_queue_buffer(s->stream, b);
	return 0;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

var (
	pwOnce     sync.Once
	registryMu sync.Mutex
	registry   = make(map[uintptr]*PipeWireSink)
	nextID     uintptr
)

// PipeWireSink drives a PW_DIRECTION_OUTPUT pw_stream, pulling samples
// from a Ring on every process callback — the RT-thread-safe analogue of
// pipewire_cursor.go's process callback, adapted from metadata sniffing to
// audio playback.
type PipeWireSink struct {
	mu     sync.Mutex
	stream *C.PwPlaybackStream
	ring   *Ring
	id     uintptr
	doneCh chan struct{}
}

const pullQuantum = 256

// NewPipeWireSink creates and connects a stereo S16/48kHz playback
// stream, starting its processing loop on a dedicated goroutine.
func NewPipeWireSink(ring *Ring) (*PipeWireSink, error) {
	pwOnce.Do(func() {
		C.pw_init(nil, nil)
	})

	registryMu.Lock()
	nextID++
	id := nextID
	registryMu.Unlock()

	stream := C.pw_playback_stream_new(C.uintptr_t(id))
	if stream == nil {
		return nil, fmt.Errorf("audiosink: pw_playback_stream_new failed")
	}

	s := &PipeWireSink{stream: stream, ring: ring, id: id, doneCh: make(chan struct{})}

	registryMu.Lock()
	registry[id] = s
	registryMu.Unlock()

	if rc := C.pw_playback_stream_connect(stream, C.int(SampleRate), C.int(Channels), C.int(pullQuantum)); rc != 0 {
		registryMu.Lock()
		delete(registry, id)
		registryMu.Unlock()
		C.pw_playback_stream_destroy(stream)
		return nil, fmt.Errorf("audiosink: pw_stream_connect failed: %d", int(rc))
	}

	go func() {
		defer close(s.doneCh)
		C.pw_playback_stream_run(stream)
	}()
	return s, nil
}

//export goPlaybackProcess
func goPlaybackProcess(userdata C.uintptr_t) {
	registryMu.Lock()
	s := registry[uintptr(userdata)]
	registryMu.Unlock()
	if s == nil {
		return
	}
	samples := make([]int16, pullQuantum*Channels)
	s.ring.Read(samples)
	C.pw_playback_write(s.stream, (*C.int16_t)(unsafe.Pointer(&samples[0])), C.int(len(samples)))
}

// Close stops the stream's main loop and releases all PipeWire resources.
func (s *PipeWireSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	C.pw_playback_stream_stop(s.stream)
	<-s.doneCh
	registryMu.Lock()
	delete(registry, s.id)
	registryMu.Unlock()
	C.pw_playback_stream_destroy(s.stream)
}
