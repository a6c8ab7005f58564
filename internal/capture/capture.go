// Package capture defines the common backend contract shared by the
// V4L2, Media Foundation and DeckLink capture implementations (spec.md
// §4.3). Backends are a fixed, closed set; callers select one by tag
// rather than through an open-ended plugin registry (spec.md §9 design
// note: a tagged variant, not per-call vtables).
package capture

import (
	"time"

	"github.com/zbynekdrlik/ndi-bridge-go/internal/device"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/videoformat"
)

// FrameCallback is invoked on the backend's own capture thread for every
// frame. It must not block longer than one frame period — it is the NDI
// send hot path. data is only valid for the duration of the call.
type FrameCallback func(data []byte, timestampNS int64, format videoformat.Format)

// ErrorCallback reports an asynchronous error string from the backend.
type ErrorCallback func(message string)

// Statistics mirrors spec.md §3 capture statistics, reset on each capture
// start and updated only by the capture thread.
type Statistics struct {
	Captured       uint64
	Dropped        uint64
	ZeroCopy       uint64
	TotalLatencyNS int64
	MaxLatencyNS   int64
	MinLatencyNS   int64
}

// Backend is the contract every capture implementation satisfies.
type Backend interface {
	// EnumerateDevices lists devices this backend can see right now.
	EnumerateDevices() ([]device.Descriptor, error)

	// StartCapture opens deviceIDOrName (empty for "first available") and
	// blocks until the first frame arrives or capture fails immediately.
	StartCapture(deviceIDOrName string) error

	// StopCapture is idempotent and returns within roughly one second.
	StopCapture()

	SetFrameCallback(cb FrameCallback)
	SetErrorCallback(cb ErrorCallback)

	HasError() bool
	LastError() string
	IsCapturing() bool

	GetStatistics() Statistics
}

// Tag names the fixed set of backend kinds.
type Tag string

const (
	TagV4L2     Tag = "v4l2"
	TagMF       Tag = "mf"
	TagDeckLink Tag = "dl"
)

// StallDeadline is the duration of unchanged Captured count, while
// IsCapturing is true, that the supervisor treats as a stall (spec.md §8.8).
const StallDeadline = 5 * time.Second
