//go:build !windows

package mf

import (
	"fmt"

	"github.com/zbynekdrlik/ndi-bridge-go/internal/capture"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/device"
)

// Backend is a non-functional placeholder on platforms without Media
// Foundation; New still returns a value so cmd/ndi-bridge-send can select
// --type mf uniformly and fail with a clear error at StartCapture time.
type Backend struct{}

func New() *Backend { return &Backend{} }

func (b *Backend) EnumerateDevices() ([]device.Descriptor, error) {
	return nil, fmt.Errorf("mf: Media Foundation capture is only available on Windows")
}

func (b *Backend) StartCapture(string) error {
	return fmt.Errorf("mf: Media Foundation capture is only available on Windows")
}

func (b *Backend) StopCapture() {}

func (b *Backend) SetFrameCallback(capture.FrameCallback) {}
func (b *Backend) SetErrorCallback(capture.ErrorCallback) {}

func (b *Backend) HasError() bool    { return false }
func (b *Backend) LastError() string { return "" }
func (b *Backend) IsCapturing() bool { return false }

func (b *Backend) GetStatistics() capture.Statistics { return capture.Statistics{} }
