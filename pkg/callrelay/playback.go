package callrelay

import (
	"fmt"
	"time"

	"github.com/gordonklaus/portaudio"
)

// playbackStream is the slice of the portaudio stream API playback needs.
// Write pushes the current contents of the open buffer to the device.
type playbackStream interface {
	Start() error
	Write() error
	Stop() error
	Close() error
}

// playbackOpener opens an output stream rendering from buf, one []int16 per
// channel of FrameSize samples each. The default opener uses PortAudio.
type playbackOpener func(cfg *RelayConfig, deviceIndex int, buf [][]int16) (playbackStream, error)

func portaudioPlaybackOpener(cfg *RelayConfig, deviceIndex int, buf [][]int16) (playbackStream, error) {
	if deviceIndex < 0 {
		return portaudio.OpenDefaultStream(0, cfg.Channels, float64(cfg.SampleRate), cfg.FrameSize, buf)
	}

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if deviceIndex >= len(infos) {
		return nil, NewRelayError("output device index out of range", ErrCodeDeviceNotFound)
	}

	params := portaudio.LowLatencyParameters(nil, infos[deviceIndex])
	params.Output.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FrameSize
	return portaudio.OpenStream(params, buf)
}

// PlaybackEngine renders a PCM byte buffer to the output device. Play is
// synchronous; callers that must not block run it on its own goroutine.
type PlaybackEngine struct {
	cfg         *RelayConfig
	deviceIndex int
	opener      playbackOpener
	logger      *RelayLogger
}

// NewPlaybackEngine creates an engine bound to the resolved output device.
// deviceIndex < 0 means the system default.
func NewPlaybackEngine(cfg *RelayConfig, deviceIndex int) *PlaybackEngine {
	return &PlaybackEngine{
		cfg:         cfg,
		deviceIndex: deviceIndex,
		opener:      portaudioPlaybackOpener,
		logger:      GetGlobalLogger().WithComponent("PlaybackEngine"),
	}
}

// Play renders interleaved little-endian int16 PCM and blocks until the
// device has consumed it. Malformed buffers (length not a multiple of the
// interleaved frame width) are rejected before any device call.
func (p *PlaybackEngine) Play(data []byte) error {
	if len(data) == 0 || len(data)%p.cfg.BytesPerInterleavedFrame() != 0 {
		err := NewRelayError(
			fmt.Sprintf("playback buffer of %d bytes is not a multiple of %d", len(data), p.cfg.BytesPerInterleavedFrame()),
			ErrCodeMalformedBuffer)
		p.logger.LogRelayError(err)
		return err
	}

	samples := bytesToInt16(data)
	channels := deinterleave(samples, p.cfg.Channels)

	buf := make([][]int16, p.cfg.Channels)
	for ch := range buf {
		buf[ch] = make([]int16, p.cfg.FrameSize)
	}

	stream, err := p.opener(p.cfg, p.deviceIndex, buf)
	if err != nil {
		werr := WrapError(err, "failed to open output stream", ErrCodeDevice)
		p.logger.LogRelayError(werr)
		return werr
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		werr := WrapError(err, "failed to start output stream", ErrCodeDevice)
		p.logger.LogRelayError(werr)
		return werr
	}
	defer stream.Stop()

	total := len(channels[0])
	for offset := 0; offset < total; offset += p.cfg.FrameSize {
		end := offset + p.cfg.FrameSize
		if end > total {
			end = total
		}
		for ch := range buf {
			n := copy(buf[ch], channels[ch][offset:end])
			// Pad the final partial frame with silence.
			for i := n; i < p.cfg.FrameSize; i++ {
				buf[ch][i] = 0
			}
		}
		if err := stream.Write(); err != nil {
			werr := WrapError(err, "playback write failed", ErrCodeDevice)
			p.logger.LogRelayError(werr)
			return werr
		}
	}

	p.logger.Debugf("Playback completed: %d bytes (%.2fs)", len(data), p.duration(len(data)).Seconds())
	return nil
}

func (p *PlaybackEngine) duration(byteLen int) time.Duration {
	samplesPerChannel := byteLen / p.cfg.BytesPerInterleavedFrame()
	return time.Duration(float64(samplesPerChannel) / float64(p.cfg.SampleRate) * float64(time.Second))
}

// deinterleave reshapes interleaved samples into per-channel slices. Mono
// input passes through as a single channel.
func deinterleave(samples []int16, channels int) [][]int16 {
	if channels <= 1 {
		return [][]int16{samples}
	}
	perChannel := len(samples) / channels
	out := make([][]int16, channels)
	for ch := range out {
		out[ch] = make([]int16, perChannel)
		for i := 0; i < perChannel; i++ {
			out[ch][i] = samples[i*channels+ch]
		}
	}
	return out
}
