//go:build cgo

package audiosink

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
	"github.com/rs/zerolog/log"
)

var gstInitOnce sync.Once

func initGStreamer() {
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
}

// GstSink feeds Ring into PipeWire via "appsrc ! audioconvert !
// audioresample ! pipewiresink", used when a direct pw_stream connection
// isn't available (e.g. pipewiresink chooses auto-routing for us).
// Grounded on mic_stream.go's appsrc push-pipeline shape.
type GstSink struct {
	mu       sync.Mutex
	pipeline *gst.Pipeline
	appsrc   *app.Source
	ring     *Ring
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewGstSink builds and starts the pipeline, then begins a pull goroutine
// that reads pullQuantum-sample chunks from ring and pushes them to appsrc.
func NewGstSink(ring *Ring) (*GstSink, error) {
	initGStreamer()

	pipeline, err := gst.NewPipelineFromString(
		"appsrc name=ndisrc format=time is-live=true do-timestamp=true ! audioconvert ! audioresample ! pipewiresink sync=false")
	if err != nil {
		return nil, fmt.Errorf("audiosink: build pipeline: %w", err)
	}

	srcElement, err := pipeline.GetElementByName("ndisrc")
	if err != nil {
		return nil, fmt.Errorf("audiosink: find appsrc: %w", err)
	}
	appsrc := app.SrcFromElement(srcElement)
	appsrc.SetProperty("format", gst.FormatTime)
	appsrc.SetProperty("is-live", true)
	appsrc.SetProperty("do-timestamp", true)

	caps := gst.NewCapsFromString(fmt.Sprintf("audio/x-raw,format=S16LE,rate=%d,channels=%d,layout=interleaved", SampleRate, Channels))
	appsrc.SetProperty("caps", caps)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("audiosink: set playing: %w", err)
	}

	s := &GstSink{
		pipeline: pipeline,
		appsrc:   appsrc,
		ring:     ring,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go s.pullLoop()
	return s, nil
}

func (s *GstSink) pullLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(pullQuantum * time.Second / SampleRate)
	defer ticker.Stop()

	samples := make([]int16, pullQuantum*Channels)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.ring.Read(samples)
			bytes := make([]byte, len(samples)*2)
			for i, v := range samples {
				bytes[2*i] = byte(v)
				bytes[2*i+1] = byte(v >> 8)
			}
			buffer := gst.NewBufferWithSize(int64(len(bytes)))
			buffer.Map(gst.MapWrite).WriteData(bytes)
			buffer.Unmap()
			if ret := s.appsrc.PushBuffer(buffer); ret != gst.FlowOK {
				log.Warn().Str("component", "audiosink").Msg("appsrc push returned non-OK flow")
			}
		}
	}
}

// Close stops the pull loop, ends the stream, and tears down the pipeline.
func (s *GstSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.stopCh)
	<-s.doneCh
	_ = s.appsrc.EndStream()
	_ = s.pipeline.SetState(gst.StateNull)
}
