//go:build linux

package v4l2

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zbynekdrlik/ndi-bridge-go/internal/device"
)

// EnumerateDevices walks /dev/video* and queries VIDIOC_QUERYCAP on each
// node, keeping only devices that advertise video capture + streaming.
func EnumerateDevices() ([]device.Descriptor, error) {
	nodes, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("v4l2: glob /dev/video*: %w", err)
	}
	sort.Strings(nodes)

	var out []device.Descriptor
	for _, node := range nodes {
		desc, ok := probeDevice(node)
		if ok {
			out = append(out, desc)
		}
	}
	return out, nil
}

func probeDevice(node string) (device.Descriptor, bool) {
	fd, err := unix.Open(node, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return device.Descriptor{}, false
	}
	defer unix.Close(fd)

	var vcap v4l2Capability
	if err := ioctl(fd, vidiocQueryCap, unsafe.Pointer(&vcap)); err != nil {
		return device.Descriptor{}, false
	}

	caps := vcap.Capabilities
	if caps&v4l2CapVideoCapture == 0 || caps&v4l2CapStreaming == 0 {
		return device.Descriptor{}, false
	}

	return device.Descriptor{
		Id:           node,
		DisplayName:  cString(vcap.Card[:]),
		Serial:       busInfoToSerial(cString(vcap.BusInfo[:])),
		Capabilities: device.CapCapture | device.CapStreaming,
	}, true
}

func cString(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// busInfoToSerial extracts a stable identifier from the kernel's bus_info
// string (e.g. "usb-0000:00:14.0-1") so hot-unplug/replug of the same port
// keeps the same device.Descriptor key (device.Descriptor.Key prefers
// Serial over Id).
func busInfoToSerial(busInfo string) string {
	if busInfo == "" {
		return ""
	}
	return busInfo
}
