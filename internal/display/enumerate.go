//go:build linux

package display

import (
	"fmt"
	"os"
	"unsafe"
)

// ConnectorInfo describes one DRM connector discovered on a card.
type ConnectorInfo struct {
	ConnectorID uint32
	Connected   bool
	Width       int
	Height      int
	PreferredMode drmModeModeInfo
}

// EnumerateConnectors lists every connector on the card, resolving a
// preferred mode for each connected one.
func EnumerateConnectors(cardPath string) ([]ConnectorInfo, error) {
	f, err := openCard(cardPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	_, connectorIDs, err := getResources(f)
	if err != nil {
		return nil, err
	}

	out := make([]ConnectorInfo, 0, len(connectorIDs))
	for _, id := range connectorIDs {
		info, err := getConnector(f, id)
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

func getResources(f *os.File) (crtcIDs, connectorIDs []uint32, err error) {
	var res drmModeCardRes
	if err := ioctl(f, ioctlModeGetResources, unsafe.Pointer(&res)); err != nil {
		return nil, nil, fmt.Errorf("display: GETRESOURCES count: %w", err)
	}

	crtcIDs = make([]uint32, res.CountCrtcs)
	connectorIDs = make([]uint32, res.CountConnectors)
	res2 := drmModeCardRes{
		CountCrtcs:      res.CountCrtcs,
		CountConnectors: res.CountConnectors,
	}
	if len(crtcIDs) > 0 {
		res2.CrtcIDPtr = uint64(uintptr(unsafe.Pointer(&crtcIDs[0])))
	}
	if len(connectorIDs) > 0 {
		res2.ConnectorIDPtr = uint64(uintptr(unsafe.Pointer(&connectorIDs[0])))
	}
	if err := ioctl(f, ioctlModeGetResources, unsafe.Pointer(&res2)); err != nil {
		return nil, nil, fmt.Errorf("display: GETRESOURCES ids: %w", err)
	}
	return crtcIDs, connectorIDs, nil
}

func getConnector(f *os.File, connectorID uint32) (ConnectorInfo, error) {
	conn := drmModeGetConnector{ConnectorID: connectorID}
	if err := ioctl(f, ioctlModeGetConnector, unsafe.Pointer(&conn)); err != nil {
		return ConnectorInfo{}, fmt.Errorf("display: GETCONNECTOR count: %w", err)
	}

	info := ConnectorInfo{
		ConnectorID: connectorID,
		Connected:   conn.Connection == connectorStatusConnected,
	}
	if !info.Connected || conn.CountModes == 0 {
		return info, nil
	}

	modes := make([]drmModeModeInfo, conn.CountModes)
	conn2 := drmModeGetConnector{
		ConnectorID: connectorID,
		ModesPtr:    uint64(uintptr(unsafe.Pointer(&modes[0]))),
		CountModes:  conn.CountModes,
	}
	if err := ioctl(f, ioctlModeGetConnector, unsafe.Pointer(&conn2)); err != nil {
		return ConnectorInfo{}, fmt.Errorf("display: GETCONNECTOR modes: %w", err)
	}

	// DRM_MODE_TYPE_PREFERRED; fall back to the first listed mode.
	const drmModeTypePreferred = 1 << 3
	best := modes[0]
	for _, m := range modes {
		if m.Type&drmModeTypePreferred != 0 {
			best = m
			break
		}
	}
	info.PreferredMode = best
	info.Width = int(best.Hdisplay)
	info.Height = int(best.Vdisplay)
	return info, nil
}
