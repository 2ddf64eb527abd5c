package callrelay

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// captureJoinTimeout bounds how long Stop waits for the worker to exit.
const captureJoinTimeout = 2 * time.Second

// captureStream is the slice of the portaudio stream API the worker needs.
// Read blocks until the stream's buffer holds one full frame.
type captureStream interface {
	Start() error
	Read() error
	Stop() error
	Close() error
}

// captureOpener opens an input stream that fills buf on every Read. The
// default opener uses PortAudio; tests substitute a synthetic source.
type captureOpener func(cfg *RelayConfig, deviceIndex int, buf []int16) (captureStream, error)

func portaudioCaptureOpener(cfg *RelayConfig, deviceIndex int, buf []int16) (captureStream, error) {
	if deviceIndex < 0 {
		return portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.FrameSize, buf)
	}

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if deviceIndex >= len(infos) {
		return nil, NewRelayError("input device index out of range", ErrCodeDeviceNotFound)
	}

	params := portaudio.LowLatencyParameters(infos[deviceIndex], nil)
	params.Input.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FrameSize
	return portaudio.OpenStream(params, buf)
}

// CaptureEngine owns the single background worker that pulls fixed-size PCM
// frames from the input device and hands each one to the sink. Start and Stop
// are idempotent and safe to call from concurrent request handlers.
type CaptureEngine struct {
	cfg         *RelayConfig
	deviceIndex int
	sink        FrameSink
	opener      captureOpener
	logger      *RelayLogger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	onAbort func()

	framesCaptured atomic.Int64
}

// NewCaptureEngine creates an engine bound to the resolved input device.
// deviceIndex < 0 means the system default.
func NewCaptureEngine(cfg *RelayConfig, deviceIndex int, sink FrameSink) *CaptureEngine {
	return &CaptureEngine{
		cfg:         cfg,
		deviceIndex: deviceIndex,
		sink:        sink,
		opener:      portaudioCaptureOpener,
		logger:      GetGlobalLogger().WithComponent("CaptureEngine"),
	}
}

// SetAbortHandler registers a callback fired when the worker dies on a
// device error (not on a normal Stop). Set it before the first Start.
func (e *CaptureEngine) SetAbortHandler(fn func()) {
	e.mu.Lock()
	e.onAbort = fn
	e.mu.Unlock()
}

// Start spawns the capture worker. Returns false without side effects when a
// worker is already running.
func (e *CaptureEngine) Start() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		e.logger.Warn("Capture already in progress")
		return false
	}

	e.framesCaptured.Store(0)
	e.running = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	go e.worker(e.stopCh, e.doneCh)

	e.logger.WithField("device_index", e.deviceIndex).Info("Capture started")
	return true
}

// Stop signals the worker to exit and waits up to captureJoinTimeout for it.
// Returns false when no worker is running. A join timeout is logged and Stop
// proceeds anyway; the worker will still observe the stop signal.
func (e *CaptureEngine) Stop() bool {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		e.logger.Warn("Not currently capturing")
		return false
	}
	e.running = false
	close(e.stopCh)
	done := e.doneCh
	e.mu.Unlock()

	select {
	case <-done:
	case <-time.After(captureJoinTimeout):
		e.logger.LogRelayError(NewRelayError("capture worker did not stop cleanly", ErrCodeCaptureStuck))
	}

	e.logger.WithField("frames_captured", e.framesCaptured.Load()).Info("Capture stopped")
	return true
}

// Running reports whether a capture worker is live.
func (e *CaptureEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// FramesCaptured returns the number of frames delivered since the last Start.
func (e *CaptureEngine) FramesCaptured() int64 {
	return e.framesCaptured.Load()
}

func (e *CaptureEngine) worker(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	e.logger.Debug("Capture worker started")

	buf := make([]int16, e.cfg.FrameSize*e.cfg.Channels)
	stream, err := e.opener(e.cfg, e.deviceIndex, buf)
	if err != nil {
		e.logger.WithError(err).Error("Failed to open input stream")
		e.abort()
		return
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		e.logger.WithError(err).Error("Failed to start input stream")
		e.abort()
		return
	}
	defer stream.Stop()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			// Device errors end the worker; the caller resynchronizes via
			// the call state machine.
			e.logger.WithError(err).Error("Capture read failed")
			e.abort()
			return
		}

		frame := AudioFrame{
			PCM:        int16ToBytes(buf),
			SampleRate: e.cfg.SampleRate,
			Channels:   e.cfg.Channels,
			BitDepth:   BitDepth,
		}

		// Synchronous on purpose: a slow sink delays capture but frames are
		// never dropped or reordered here.
		e.sink(frame)

		if n := e.framesCaptured.Add(1); n%100 == 0 {
			e.logger.Debugf("Delivered %d frames (%d bytes/frame)", n, len(frame.PCM))
		}
	}
}

// abort marks the engine stopped from inside the worker after a device error
// and notifies the abort handler so the session can resynchronize.
func (e *CaptureEngine) abort() {
	e.mu.Lock()
	e.running = false
	fn := e.onAbort
	e.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// int16ToBytes serializes interleaved samples as little-endian PCM. Each
// frame owns a fresh slice; the read buffer is reused by the stream.
func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// bytesToInt16 is the inverse of int16ToBytes. The caller must have validated
// that len(data) is even.
func bytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
