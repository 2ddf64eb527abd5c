package callrelay

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCapture mimics the capture engine's idempotent Start/Stop contract.
type fakeCapture struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
}

func (f *fakeCapture) Start() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return false
	}
	f.running = true
	f.starts++
	return true
}

func (f *fakeCapture) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return false
	}
	f.running = false
	f.stops++
	return true
}

func (f *fakeCapture) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

func TestCallController_StartCall(t *testing.T) {
	tests := map[string]struct {
		connect     bool
		startTwice  bool
		wantErr     bool
		wantActive  bool
		wantStarts  int
		description string
	}{
		"start_without_peer_fails": {
			connect:     false,
			wantErr:     true,
			wantActive:  false,
			wantStarts:  0,
			description: "Without an attached peer the call must never reach active",
		},
		"start_with_peer_succeeds": {
			connect:     true,
			wantActive:  true,
			wantStarts:  1,
			description: "With a peer attached the call activates and capture starts",
		},
		"double_start_is_noop": {
			connect:     true,
			startTwice:  true,
			wantActive:  true,
			wantStarts:  1,
			description: "A second start must not spawn a second capture worker",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			capture := &fakeCapture{}
			ctrl := NewCallController(capture)

			if tt.connect {
				ctrl.HandleConnect()
			}

			err := ctrl.StartCall()
			if tt.startTwice {
				require.NoError(t, err)
				err = ctrl.StartCall()
			}

			if tt.wantErr {
				require.Error(t, err, tt.description)
				assert.True(t, IsErrorCode(err, ErrCodeTransport))
			} else {
				require.NoError(t, err, tt.description)
			}

			_, active, _ := ctrl.Status()
			assert.Equal(t, tt.wantActive, active, tt.description)

			starts, _ := capture.counts()
			assert.Equal(t, tt.wantStarts, starts, tt.description)
		})
	}
}

func TestCallController_EndCall_Idempotent(t *testing.T) {
	capture := &fakeCapture{}
	ctrl := NewCallController(capture)

	// Ending with no call at all is a no-op success.
	require.NoError(t, ctrl.EndCall())

	ctrl.HandleConnect()
	require.NoError(t, ctrl.StartCall())
	require.NoError(t, ctrl.EndCall())
	require.NoError(t, ctrl.EndCall())

	_, stops := capture.counts()
	assert.Equal(t, 1, stops, "Only the first end should stop capture")
	assert.Equal(t, StateConnected, ctrl.State(), "Ending a call keeps the peer connected")
}

func TestCallController_DisconnectForcesIdle(t *testing.T) {
	capture := &fakeCapture{}
	ctrl := NewCallController(capture)

	ctrl.HandleConnect()
	require.NoError(t, ctrl.StartCall())
	require.Equal(t, StateActive, ctrl.State())

	ctrl.HandleDisconnect()

	assert.Equal(t, StateIdle, ctrl.State(), "Disconnect must force the session idle")
	_, stops := capture.counts()
	assert.Equal(t, 1, stops, "Disconnect during an active call auto-stops capture")

	// The next start must fail until a peer reattaches.
	err := ctrl.StartCall()
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodeTransport))
}

func TestCallController_CaptureFailureDeactivates(t *testing.T) {
	capture := &fakeCapture{}
	ctrl := NewCallController(capture)

	ctrl.HandleConnect()
	require.NoError(t, ctrl.StartCall())

	ctrl.HandleCaptureFailure()

	connected, active, _ := ctrl.Status()
	assert.True(t, connected, "A dead capture worker does not drop the peer")
	assert.False(t, active, "A dead capture worker ends the active call")
}

func TestCallController_FrameCounterResetsPerCall(t *testing.T) {
	capture := &fakeCapture{}
	ctrl := NewCallController(capture)
	ctrl.HandleConnect()

	require.NoError(t, ctrl.StartCall())
	ctrl.NoteFrameSent()
	ctrl.NoteFrameSent()

	_, _, frames := ctrl.Status()
	assert.Equal(t, int64(2), frames)

	require.NoError(t, ctrl.EndCall())
	require.NoError(t, ctrl.StartCall())

	_, _, frames = ctrl.Status()
	assert.Equal(t, int64(0), frames, "A new call starts counting from zero")
}

func TestCallController_ConcurrentMutations(t *testing.T) {
	capture := &fakeCapture{}
	ctrl := NewCallController(capture)
	ctrl.HandleConnect()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = ctrl.StartCall()
		}()
		go func() {
			defer wg.Done()
			_ = ctrl.EndCall()
		}()
		go func() {
			defer wg.Done()
			ctrl.NoteFrameSent()
		}()
	}
	wg.Wait()

	ctrl.HandleDisconnect()

	connected, active, _ := ctrl.Status()
	assert.False(t, connected)
	assert.False(t, active, "Disconnect always wins: the session can never stay active without a peer")
}
