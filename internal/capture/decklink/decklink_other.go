//go:build !decklink

package decklink

import (
	"fmt"

	"github.com/zbynekdrlik/ndi-bridge-go/internal/capture"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/device"
)

// Backend is a non-functional placeholder when built without the
// `decklink` tag, so --type dl still resolves to a Backend value and
// fails with a clear error instead of a compile-time absence.
type Backend struct{}

func New() *Backend { return &Backend{} }

func (b *Backend) EnumerateDevices() ([]device.Descriptor, error) {
	return nil, fmt.Errorf("decklink: built without the 'decklink' tag")
}

func (b *Backend) StartCapture(string) error {
	return fmt.Errorf("decklink: built without the 'decklink' tag")
}

func (b *Backend) StopCapture() {}

func (b *Backend) SetFrameCallback(capture.FrameCallback) {}
func (b *Backend) SetErrorCallback(capture.ErrorCallback) {}

func (b *Backend) HasError() bool    { return false }
func (b *Backend) LastError() string { return "" }
func (b *Backend) IsCapturing() bool { return false }

func (b *Backend) GetStatistics() capture.Statistics { return capture.Statistics{} }
