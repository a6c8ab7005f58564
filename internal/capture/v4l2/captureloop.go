//go:build linux

package v4l2

import (
	"runtime"
	"time"
	"unsafe"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/zbynekdrlik/ndi-bridge-go/internal/videoformat"
)

const (
	pollTimeoutMS     = 5
	aggregateStallNS  = int64(time.Second)
	rtFIFOPriority    = 90
	pinnedCPU         = 3
)

// captureLoop owns the capture file descriptor from the point StartCapture
// returns until StopCapture closes stopCh. It runs on its own OS thread so
// CPU pinning and RT scheduling apply only here, never to arbitrary
// goroutines sharing the thread (spec.md §4.3.1 real-time notes).
func (b *Backend) captureLoop(first chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(b.doneCh)

	applyRealtimeTuning()

	firstSent := false
	var lastCaptured uint64
	lastProgress := time.Now()

	pfd := []unix.PollFd{{Fd: int32(b.fd), Events: unix.POLLIN}}

	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		n, err := unix.Poll(pfd, pollTimeoutMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			b.reportError("poll: %v", err)
			if !firstSent {
				first <- err
				firstSent = true
			}
			return
		}

		if n == 0 {
			if time.Since(lastProgress).Nanoseconds() >= aggregateStallNS {
				b.reportError("no frames for %s, device may have been removed", time.Since(lastProgress))
				lastProgress = time.Now()
			}
			continue
		}

		if err := b.dequeueAndDeliver(&lastCaptured); err != nil {
			b.reportError("dequeue: %v", err)
			if !firstSent {
				first <- err
				firstSent = true
				return
			}
			continue
		}

		lastProgress = time.Now()
		if !firstSent {
			first <- nil
			firstSent = true
		}
	}
}

// dequeueAndDeliver performs one VIDIOC_DQBUF, invokes the frame callback
// with a zero-copy view into the mmap'd buffer for the duration of the
// call, requeues the buffer, and updates statistics.
func (b *Backend) dequeueAndDeliver(lastCaptured *uint64) error {
	var buf v4l2Buffer
	buf.Type = v4l2BufTypeVideoCapture
	buf.Memory = v4l2MemoryMMAP
	if err := ioctl(b.fd, vidiocDQBuf, unsafe.Pointer(&buf)); err != nil {
		return err
	}

	capturedAt := time.Now()
	mb := b.buffers[buf.Index]
	data := mb.data[:buf.BytesUsed]

	ts := buf.Timestamp.Sec*int64(time.Second) + buf.Timestamp.Usec*int64(time.Microsecond)
	if ts == 0 {
		ts = capturedAt.UnixNano()
	}

	b.mu.Lock()
	cb := b.frameCB
	format := b.format
	b.mu.Unlock()

	zeroCopy := format.PixelFormat == videoformat.YUYV || format.PixelFormat == videoformat.UYVY
	if cb != nil {
		cb(data, ts, format)
	}

	latency := time.Since(capturedAt).Nanoseconds()
	b.recordStats(latency, zeroCopy)
	*lastCaptured++

	if err := ioctl(b.fd, vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
		return err
	}
	return nil
}

func (b *Backend) recordStats(latencyNS int64, zeroCopy bool) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	b.stats.Captured++
	if zeroCopy {
		b.stats.ZeroCopy++
	}
	b.stats.TotalLatencyNS += latencyNS
	if b.stats.MaxLatencyNS == 0 || latencyNS > b.stats.MaxLatencyNS {
		b.stats.MaxLatencyNS = latencyNS
	}
	if b.stats.MinLatencyNS == 0 || latencyNS < b.stats.MinLatencyNS {
		b.stats.MinLatencyNS = latencyNS
	}
}

// applyRealtimeTuning pins the calling (locked) OS thread to pinnedCPU and
// requests SCHED_FIFO at rtFIFOPriority. Both are best-effort: a container
// without CAP_SYS_NICE or a host with fewer CPUs just keeps default
// scheduling, logged once at debug level.
func applyRealtimeTuning() {
	var set unix.CPUSet
	set.Zero()
	set.Set(pinnedCPU)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		log.Debug().Err(err).Int("cpu", pinnedCPU).Msg("v4l2: capture thread CPU pin unavailable")
	}

	param := unix.SchedParam{Priority: rtFIFOPriority}
	if err := unix.SchedSetscheduler(0, unix.SCHED_FIFO, &param); err != nil {
		log.Debug().Err(err).Int("priority", rtFIFOPriority).Msg("v4l2: capture thread RT scheduling unavailable")
	}
}
