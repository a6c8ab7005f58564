// Package streammanager implements the display-side StreamManager
// (spec.md §4.6): a map from display_id to StreamMapping, with map/unmap/
// auto_map operations that wire an NDI receiver's video callback to a DRM
// Output and its audio callback to a PipeWire-backed Ring.
package streammanager

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zbynekdrlik/ndi-bridge-go/internal/audiosink"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/display"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/ndirecv"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/videoformat"
)

// audioSink is the subset shared by PipeWireSink and GstSink.
type audioSink interface {
	Close()
}

// newPipeWireSink/newGstSink are indirected through variables so tests can
// substitute a sink that doesn't require a live PipeWire server.
var (
	newPipeWireSink = func(r *audiosink.Ring) (audioSink, error) { return audiosink.NewPipeWireSink(r) }
	newGstSink      = func(r *audiosink.Ring) (audioSink, error) { return audiosink.NewGstSink(r) }
)

// StreamMapping is one active display_id -> NDI source binding.
type StreamMapping struct {
	DisplayID  uint32
	SourceName string
	StartedAt  time.Time

	receiver  *ndirecv.Receiver
	output    *display.Output
	ring      *audiosink.Ring
	audioSink audioSink

	mu              sync.Mutex
	framesReceived  uint64
	framesDropped   uint64
	lastWidth       int
	lastHeight      int
	lastFpsNum      int
	lastFpsDen      int
}

// Snapshot is the read-only view used by status reporting.
type Snapshot struct {
	DisplayID      uint32
	SourceName     string
	Width, Height  int
	FpsNum, FpsDen int
	FramesReceived uint64
	FramesDropped  uint64
	StartedAt      time.Time
}

func (m *StreamMapping) snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		DisplayID:      m.DisplayID,
		SourceName:     m.SourceName,
		Width:          m.lastWidth,
		Height:         m.lastHeight,
		FpsNum:         m.lastFpsNum,
		FpsDen:         m.lastFpsDen,
		FramesReceived: m.framesReceived,
		FramesDropped:  m.framesDropped,
		StartedAt:      m.StartedAt,
	}
}

// Manager owns every active StreamMapping, keyed by display_id.
type Manager struct {
	cardPath string

	mu       sync.Mutex
	mappings map[uint32]*StreamMapping
}

// New creates a manager that opens displays on the given DRM card
// (typically "/dev/dri/card0").
func New(cardPath string) *Manager {
	return &Manager{cardPath: cardPath, mappings: make(map[uint32]*StreamMapping)}
}

// Map creates a receiver for source, opens displayID, wires the video and
// audio callbacks, and starts receiving (spec.md §4.6 StreamManager.map).
func (m *Manager) Map(source ndirecv.Source, displayID uint32) error {
	m.mu.Lock()
	if _, exists := m.mappings[displayID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("streammanager: display %d already mapped", displayID)
	}
	m.mu.Unlock()

	out, err := display.Open(m.cardPath, displayID)
	if err != nil {
		return fmt.Errorf("streammanager: open display %d: %w", displayID, err)
	}

	ring := audiosink.NewRing(audiosink.SampleRate, audiosink.Channels)
	sink, err := newPipeWireSink(ring)
	if err != nil {
		log.Warn().Err(err).Msg("streammanager: direct PipeWire stream unavailable, falling back to GStreamer")
		sink, err = newGstSink(ring)
		if err != nil {
			out.Close()
			return fmt.Errorf("streammanager: open audio sink: %w", err)
		}
	}

	mapping := &StreamMapping{
		DisplayID:  displayID,
		SourceName: source.Name,
		StartedAt:  time.Now(),
		output:     out,
		ring:       ring,
		audioSink:  sink,
	}

	recv, err := ndirecv.NewReceiver(source, fmt.Sprintf("ndi-bridge-display-%d", displayID))
	if err != nil {
		sink.Close()
		out.Close()
		return fmt.Errorf("streammanager: create receiver: %w", err)
	}
	mapping.receiver = recv

	recv.SetVideoCallback(func(data []byte, format videoformat.Format, _ int64) {
		mapping.mu.Lock()
		mapping.framesReceived++
		mapping.lastWidth = format.Width
		mapping.lastHeight = format.Height
		mapping.lastFpsNum = format.FpsNum
		mapping.lastFpsDen = format.FpsDen
		mapping.mu.Unlock()

		if err := out.PresentBGRA(data, format.Width, format.Height, format.StrideBytes, format.PixelFormat); err != nil {
			mapping.mu.Lock()
			mapping.framesDropped++
			mapping.mu.Unlock()
			log.Warn().Err(err).Uint32("display_id", displayID).Msg("streammanager: present failed, frame dropped")
		}
	})
	recv.SetAudioCallback(func(pcm []int16, _ int, _ int, _ int64) {
		ring.Write(pcm)
	})

	m.mu.Lock()
	m.mappings[displayID] = mapping
	m.mu.Unlock()
	return nil
}

// Unmap stops the receive thread, destroys the audio sink, closes the
// display, and removes the mapping.
func (m *Manager) Unmap(displayID uint32) error {
	m.mu.Lock()
	mapping, ok := m.mappings[displayID]
	if ok {
		delete(m.mappings, displayID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("streammanager: display %d not mapped", displayID)
	}

	mapping.receiver.Close()
	mapping.audioSink.Close()
	mapping.output.Close()
	return nil
}

// autoMapCount returns how many source/display pairs AutoMap should wire:
// at most 3, and at most min(len(sources), len(displayIDs)).
func autoMapCount(numSources, numDisplays int) int {
	n := numSources
	if numDisplays < n {
		n = numDisplays
	}
	if n > 3 {
		n = 3
	}
	return n
}

// AutoMap pairs the first three discovered sources with the first three
// display IDs, per spec.md §4.6 auto_map.
func (m *Manager) AutoMap(sources []ndirecv.Source, displayIDs []uint32) error {
	n := autoMapCount(len(sources), len(displayIDs))
	var firstErr error
	for i := 0; i < n; i++ {
		if err := m.Map(sources[i], displayIDs[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Snapshots returns a Snapshot per active mapping, for status reporting.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.mappings))
	for _, mapping := range m.mappings {
		out = append(out, mapping.snapshot())
	}
	return out
}

// UnmapAll tears down every active mapping, used on shutdown.
func (m *Manager) UnmapAll() {
	m.mu.Lock()
	ids := make([]uint32, 0, len(m.mappings))
	for id := range m.mappings {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.Unmap(id)
	}
}
