// Package frame defines the in-memory representation of one captured or
// received video frame.
package frame

import "github.com/zbynekdrlik/ndi-bridge-go/internal/videoformat"

// Frame is a reference to one frame's pixel data plus its metadata. Data
// may be a zero-copy borrow into a backend's own buffer — valid only for
// the duration of the callback that produced it — or an owned copy. Callers
// that need the data to outlive the callback must call Owned().
type Frame struct {
	Data        []byte
	TimestampNS int64
	Format      videoformat.Format
}

// ByteLen is the length of the frame's payload, len(Data); backends slice
// Data to the payload's length.
func (f Frame) ByteLen() int {
	return len(f.Data)
}

// Owned returns a copy of f whose Data is independently allocated, safe to
// retain past the producing callback's return.
func (f Frame) Owned() Frame {
	cp := make([]byte, len(f.Data))
	copy(cp, f.Data)
	return Frame{Data: cp, TimestampNS: f.TimestampNS, Format: f.Format}
}
