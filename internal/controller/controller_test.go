package controller

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zbynekdrlik/ndi-bridge-go/internal/capture"
	"github.com/zbynekdrlik/ndi-bridge-go/internal/device"
)

// fakeBackend is a minimal capture.Backend stand-in for controller tests.
type fakeBackend struct {
	mu sync.Mutex

	startErr  error
	started   int32
	captured  uint64
	capturing bool
	hasErr    bool
	lastErr   string
	stopCalls int32
}

func (f *fakeBackend) EnumerateDevices() ([]device.Descriptor, error) { return nil, nil }

func (f *fakeBackend) StartCapture(string) error {
	atomic.AddInt32(&f.started, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.capturing = true
	return nil
}

func (f *fakeBackend) StopCapture() {
	atomic.AddInt32(&f.stopCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capturing = false
}

func (f *fakeBackend) SetFrameCallback(capture.FrameCallback) {}
func (f *fakeBackend) SetErrorCallback(capture.ErrorCallback)  {}

func (f *fakeBackend) HasError() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasErr
}

func (f *fakeBackend) LastError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *fakeBackend) IsCapturing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capturing
}

func (f *fakeBackend) GetStatistics() capture.Statistics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return capture.Statistics{Captured: f.captured}
}

func TestControllerReachesRunningOnSuccess(t *testing.T) {
	backend := &fakeBackend{}
	c := New(backend, "", Config{RetryDelay: 50 * time.Millisecond, MaxRetries: 3})
	require.NoError(t, c.Start())
	defer c.Stop()

	require.Eventually(t, func() bool {
		return c.State() == StateRunning
	}, time.Second, 5*time.Millisecond)
}

func TestControllerRetryCapSettlesInStopped(t *testing.T) {
	backend := &fakeBackend{startErr: fmt.Errorf("device not found")}
	var errCount int32
	c := New(backend, "", Config{RetryDelay: 10 * time.Millisecond, MaxRetries: 3})
	c.SetErrorCallback(func(string) { atomic.AddInt32(&errCount, 1) })
	require.NoError(t, c.Start())

	require.Eventually(t, func() bool {
		return c.State() == StateStopped
	}, 2*time.Second, 5*time.Millisecond)

	// max_retries=3 means exactly four StartCapture attempts (§8.9).
	require.EqualValues(t, 4, atomic.LoadInt32(&backend.started))
	c.Stop()
}

func TestControllerStopIsIdempotentAndFast(t *testing.T) {
	backend := &fakeBackend{}
	c := New(backend, "", DefaultConfig())
	require.NoError(t, c.Start())

	require.Eventually(t, func() bool { return c.State() == StateRunning }, time.Second, 5*time.Millisecond)

	start := time.Now()
	c.Stop()
	require.Less(t, time.Since(start), 2*time.Second)
	c.Stop() // idempotent
}

func TestRateLimitedErrorCallback(t *testing.T) {
	backend := &fakeBackend{}
	c := New(backend, "", DefaultConfig())

	var calls int32
	c.SetErrorCallback(func(string) { atomic.AddInt32(&calls, 1) })

	for i := 0; i < 10; i++ {
		c.reportError("same message")
		time.Sleep(10 * time.Millisecond)
	}
	require.LessOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestBackoffDelayCapsAtRetryDelay(t *testing.T) {
	c := New(&fakeBackend{}, "", Config{RetryDelay: 5 * time.Second, MaxRetries: -1})
	require.Equal(t, time.Second, c.backoffDelay(0, nil, nil))
	require.Equal(t, 2*time.Second, c.backoffDelay(1, nil, nil))
	require.Equal(t, 5*time.Second, c.backoffDelay(10, nil, nil))
}

func TestAttemptsForUnboundedIsZero(t *testing.T) {
	require.EqualValues(t, 0, attemptsFor(-1))
	require.EqualValues(t, 4, attemptsFor(3))
}
