// Package controller implements the AppController supervisor (spec.md
// §4.6): a single worker goroutine that starts a capture backend, wakes
// every second to check for stalls and backend errors, and restarts the
// pipeline with capped linear backoff. Grounded on the reconciler
// loop shape in ollama_model_controller.go (for-select over a ticker and
// a stop channel, retry.Do around the fallible step, zerolog logging).
package controller

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/zbynekdrlik/ndi-bridge-go/internal/capture"
)

// State is one node of the Idle/Initialising/Running/Restarting/
// Recovering/Stopped state machine.
type State string

const (
	StateIdle         State = "Idle"
	StateInitialising State = "Initialising"
	StateRunning      State = "Running"
	StateRestarting   State = "Restarting"
	StateRecovering   State = "Recovering"
	StateStopped      State = "Stopped"
)

// ErrorCallback reports a user-visible lifecycle failure. Calls for an
// identical message within a 1s window are suppressed (spec.md §4.6).
type ErrorCallback func(message string)

var errStopped = errors.New("controller: stopped")

// Config holds the retry policy. MaxRetries < 0 means unbounded, matching
// spec.md's max_retries = -1. RetryDelay is the backoff cap; delay grows
// 1s per attempt up to this value (default 5s per spec.md).
type Config struct {
	RetryDelay time.Duration
	MaxRetries int
}

// DefaultConfig matches spec.md §4.6's stated defaults.
func DefaultConfig() Config {
	return Config{RetryDelay: 5 * time.Second, MaxRetries: -1}
}

// Controller supervises one capture backend's lifecycle.
type Controller struct {
	backend        capture.Backend
	deviceIDOrName string
	cfg            Config

	mu      sync.Mutex
	state   State
	errCB   ErrorCallback
	stopCh  chan struct{}
	doneCh  chan struct{}

	lastErrMsg string
	lastErrAt  time.Time

	restartRequested atomic.Bool
}

// New creates a controller in state Idle. Call Start to begin supervision.
func New(backend capture.Backend, deviceIDOrName string, cfg Config) *Controller {
	return &Controller{
		backend:        backend,
		deviceIDOrName: deviceIDOrName,
		cfg:            cfg,
		state:          StateIdle,
	}
}

// SetErrorCallback installs the rate-limited error notification sink.
func (c *Controller) SetErrorCallback(cb ErrorCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errCB = cb
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestRestart sets the externally-triggered restart flag, checked on
// the next 1s supervisor tick while Running.
func (c *Controller) RequestRestart() {
	c.restartRequested.Store(true)
}

// Start launches the supervisor goroutine. It returns immediately; use
// State to observe progress toward Running.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("controller: start called from state %s, want %s", c.state, StateIdle)
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	go c.run()
	return nil
}

// Stop signals the worker to shut down and blocks until it exits.
func (c *Controller) Stop() {
	c.mu.Lock()
	stopCh := c.stopCh
	doneCh := c.doneCh
	c.mu.Unlock()
	if stopCh == nil {
		return
	}
	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-doneCh
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	log.Debug().Str("component", "controller").Str("state", string(s)).Msg("state transition")
}

func (c *Controller) stopRequested() bool {
	c.mu.Lock()
	ch := c.stopCh
	c.mu.Unlock()
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (c *Controller) run() {
	defer close(c.doneCh)
	defer c.setState(StateStopped)

	for {
		if c.stopRequested() {
			return
		}

		if !c.initialiseWithBackoff() {
			return
		}

		c.setState(StateRunning)
		restart := c.superviseRunning()
		c.backend.StopCapture()
		if !restart {
			return
		}
		c.setState(StateRestarting)
	}
}

// initialiseWithBackoff retries StartCapture with capped linear backoff
// (see backoffDelay) until it succeeds, the retry budget is exhausted, or stop is
// requested. Returns true once Running should be entered.
func (c *Controller) initialiseWithBackoff() bool {
	reached := false

	err := retry.Do(
		func() error {
			if c.stopRequested() {
				return retry.Unrecoverable(errStopped)
			}
			c.setState(StateInitialising)
			if err := c.backend.StartCapture(c.deviceIDOrName); err != nil {
				return fmt.Errorf("start capture: %w", err)
			}
			reached = true
			return nil
		},
		retry.Attempts(attemptsFor(c.cfg.MaxRetries)),
		retry.DelayType(c.backoffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.setState(StateRecovering)
			c.reportError("initialisation attempt %d failed: %s", n+1, err)
		}),
	)
	if err != nil && !errors.Is(err, errStopped) {
		c.reportError("giving up after retries: %s", err)
	}
	return reached
}

// backoffDelay implements spec.md's "1s -> +1s per retry -> cap at
// RetryDelay" schedule.
func (c *Controller) backoffDelay(n uint, _ error, _ *retry.Config) time.Duration {
	d := time.Duration(n+1) * time.Second
	if d > c.cfg.RetryDelay {
		d = c.cfg.RetryDelay
	}
	return d
}

// attemptsFor converts spec.md's max_retries (-1 = unbounded) into
// retry-go's Attempts count, where 0 means "retry until it succeeds".
func attemptsFor(maxRetries int) uint {
	if maxRetries < 0 {
		return 0
	}
	return uint(maxRetries) + 1
}

// superviseRunning wakes every second to check for a stalled capture
// (captured counter unchanged for capture.StallDeadline while still
// capturing) or a backend-reported error, returning true if either is
// seen (caller should restart) or false if stop was requested.
func (c *Controller) superviseRunning() bool {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastCaptured := uint64(0)
	lastChange := time.Now()
	first := true

	for {
		select {
		case <-c.stopCh:
			return false
		case <-ticker.C:
			if c.restartRequested.Swap(false) {
				c.reportError("restart requested")
				return true
			}

			stats := c.backend.GetStatistics()
			if first || stats.Captured != lastCaptured {
				lastCaptured = stats.Captured
				lastChange = time.Now()
				first = false
			}

			if c.backend.IsCapturing() && time.Since(lastChange) >= capture.StallDeadline {
				c.reportError("capture stalled: no new frames for %s", capture.StallDeadline)
				return true
			}
			if c.backend.HasError() {
				c.reportError("backend error: %s", c.backend.LastError())
				return true
			}
		}
	}
}

// reportError logs unconditionally but forwards to the user callback at
// most once per second per identical message (spec.md §4.6/§7).
func (c *Controller) reportError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	c.mu.Lock()
	now := time.Now()
	suppress := msg == c.lastErrMsg && now.Sub(c.lastErrAt) < time.Second
	if !suppress {
		c.lastErrMsg = msg
		c.lastErrAt = now
	}
	cb := c.errCB
	c.mu.Unlock()

	log.Warn().Str("component", "controller").Msg(msg)
	if suppress || cb == nil {
		return
	}
	cb(msg)
}
