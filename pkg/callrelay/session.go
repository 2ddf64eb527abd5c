package callrelay

import (
	"sync"
	"sync/atomic"
)

// captureController is the slice of the CaptureEngine the state machine
// commands. Both methods are idempotent.
type captureController interface {
	Start() bool
	Stop() bool
}

// CallController is the call state machine. It owns the single CallSession of
// the process: connection status, call-active status and the frames-sent
// counter. Every mutation happens under one mutex, so StartCall, EndCall and
// the disconnect handler never race; disconnect always wins against an
// in-flight start.
type CallController struct {
	mu        sync.Mutex
	connected bool
	active    bool

	// framesSent is atomic, not mutex-guarded: the capture worker bumps it
	// from its sink while EndCall may be holding the mutex waiting for that
	// same worker to join.
	framesSent atomic.Int64

	capture captureController
	logger  *RelayLogger
}

func NewCallController(capture captureController) *CallController {
	return &CallController{
		capture: capture,
		logger:  GetGlobalLogger().WithComponent("CallController"),
	}
}

// StartCall transitions Connected -> Active. Starting an already-active call
// is a no-op success and never spawns a second capture worker. Without an
// attached peer transport the start fails and the call never reaches Active.
func (c *CallController) StartCall() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		err := NewRelayError("cannot start call: no peer transport attached", ErrCodeTransport)
		c.logger.LogRelayError(err)
		return err
	}
	if c.active {
		c.logger.Info("Call already active, start is a no-op")
		return nil
	}

	// Active is set before the worker spawns so the flag and the worker
	// never disagree for more than one operation.
	c.active = true
	c.framesSent.Store(0)
	if !c.capture.Start() {
		// A live worker with active=false should not happen; adopt it as
		// the single producer rather than spawning another.
		c.logger.Warn("Capture worker already running, adopting it")
	}

	c.logger.Info("Call started")
	return nil
}

// EndCall transitions Active -> Connected. Ending an already-ended call is a
// no-op success, not an error.
func (c *CallController) EndCall() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		c.logger.Info("No active call, end is a no-op")
		return nil
	}

	c.active = false
	c.capture.Stop()

	c.logger.WithField("frames_sent", c.framesSent.Load()).Info("Call ended")
	return nil
}

// HandleConnect marks the peer transport attached.
func (c *CallController) HandleConnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	c.logger.Info("Peer transport attached")
}

// HandleDisconnect forces the session to Idle from any state. A dropped
// transport invalidates the call, so capture is stopped and active cleared
// regardless of what else is in flight.
func (c *CallController) HandleDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if c.active {
		c.logger.Info("Auto-stopping capture due to peer disconnect")
		c.active = false
		c.capture.Stop()
	}
}

// HandleCaptureFailure resynchronizes the session after the capture worker
// died on a device error.
func (c *CallController) HandleCaptureFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		c.logger.Error("Capture worker failed, deactivating call")
		c.active = false
	}
}

// NoteFrameSent increments the session frame counter. Must not take the
// session mutex: it runs on the capture worker's delivery path.
func (c *CallController) NoteFrameSent() {
	c.framesSent.Add(1)
}

// Status returns a consistent snapshot of the session.
func (c *CallController) Status() (connected, active bool, framesSent int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected, c.active, c.framesSent.Load()
}

// State maps the session flags to the call lifecycle state.
func (c *CallController) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.connected && c.active:
		return StateActive
	case c.connected:
		return StateConnected
	default:
		return StateIdle
	}
}
