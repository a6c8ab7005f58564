// Package status persists per-display state to $STATUS_DIR/display-<id>.status
// (spec.md §6), so a separate process (or a human with cat) can observe
// what each display is currently showing without querying the running
// bridge over any RPC channel.
package status

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Entry is one display's reported state, written as key=value lines.
type Entry struct {
	StreamName     string
	DisplayID      uint32
	PID            int
	Width          int
	Height         int
	Fps            float64
	Bitrate        int64
	FramesReceived uint64
	FramesDropped  uint64
}

// ResolveDir picks $STATUS_DIR's effective value: the appliance default
// /var/run/ndi-display when that directory exists or can be created,
// falling back to /tmp/ndi-display otherwise (spec.md §6's explicit
// fallback, hard-coded in original_source's status_reporter.h instead).
func ResolveDir() string {
	const preferred = "/var/run/ndi-display"
	if err := os.MkdirAll(preferred, 0o755); err == nil {
		return preferred
	}
	const fallback = "/tmp/ndi-display"
	_ = os.MkdirAll(fallback, 0o755)
	return fallback
}

func fileName(dir string, displayID uint32) string {
	return filepath.Join(dir, fmt.Sprintf("display-%d.status", displayID))
}

// Write atomically replaces dir/display-<id>.status with e's fields,
// writing a .tmp file first and renaming it into place.
func Write(dir string, e Entry) error {
	final := fileName(dir, e.DisplayID)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("status: create %s: %w", tmp, err)
	}

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "STREAM_NAME=%s\n", e.StreamName)
	fmt.Fprintf(w, "DISPLAY_ID=%d\n", e.DisplayID)
	fmt.Fprintf(w, "PID=%d\n", e.PID)
	fmt.Fprintf(w, "RESOLUTION=%dx%d\n", e.Width, e.Height)
	fmt.Fprintf(w, "FPS=%.2f\n", e.Fps)
	fmt.Fprintf(w, "BITRATE=%d\n", e.Bitrate)
	fmt.Fprintf(w, "FRAMES_RECEIVED=%d\n", e.FramesReceived)
	fmt.Fprintf(w, "FRAMES_DROPPED=%d\n", e.FramesDropped)
	fmt.Fprintf(w, "TIMESTAMP=%s\n", time.Now().Format("2006-01-02T15:04:05-07:00"))

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("status: write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("status: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("status: rename %s: %w", tmp, err)
	}
	return nil
}

// Remove deletes dir/display-<id>.status, ignoring a missing file.
func Remove(dir string, displayID uint32) error {
	err := os.Remove(fileName(dir, displayID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("status: remove display %d: %w", displayID, err)
	}
	return nil
}

// List reads every display-*.status file in dir and parses it back into
// an Entry, used by the `status` CLI subcommand.
func List(dir string) ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "display-*.status"))
	if err != nil {
		return nil, fmt.Errorf("status: glob %s: %w", dir, err)
	}
	entries := make([]Entry, 0, len(matches))
	for _, path := range matches {
		e, err := parseFile(path)
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseFile(path string) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "STREAM_NAME":
			e.StreamName = value
		case "DISPLAY_ID":
			v, _ := strconv.ParseUint(value, 10, 32)
			e.DisplayID = uint32(v)
		case "PID":
			e.PID, _ = strconv.Atoi(value)
		case "RESOLUTION":
			w, h, ok := strings.Cut(value, "x")
			if ok {
				e.Width, _ = strconv.Atoi(w)
				e.Height, _ = strconv.Atoi(h)
			}
		case "FPS":
			e.Fps, _ = strconv.ParseFloat(value, 64)
		case "BITRATE":
			e.Bitrate, _ = strconv.ParseInt(value, 10, 64)
		case "FRAMES_RECEIVED":
			e.FramesReceived, _ = strconv.ParseUint(value, 10, 64)
		case "FRAMES_DROPPED":
			e.FramesDropped, _ = strconv.ParseUint(value, 10, 64)
		}
	}
	return e, nil
}
