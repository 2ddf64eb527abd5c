// Package callrelay implements a real-time duplex audio relay for voice
// calls: it captures microphone audio, streams it to a websocket peer in
// fixed-size PCM frames, and plays synthesized replies back out of the
// speaker.
//
// # Overview
//
// The relay is built from five cooperating parts:
//   - DeviceRegistry: startup snapshot of the host's audio devices with
//     substring-based device resolution
//   - CaptureEngine: single background worker pulling fixed-size frames
//     from the input device
//   - PlaybackEngine: synchronous PCM rendering to the output device
//   - Relay: single-peer websocket transport speaking tagged event
//     envelopes (start_recording, audio_stream, audio_input, ...)
//   - CallController: the call state machine tying it all together
//
// Inbound audio runs through a TurnPipeline (transcribe -> chat ->
// synthesize) backed by HTTP clients for the chat and speech backends.
//
// # Quick Start
//
//	cfg := callrelay.NewRelayConfig()
//	svc, err := callrelay.NewService(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer svc.Shutdown(context.Background())
//
//	if err := svc.Run(); err != nil {
//		log.Fatal(err)
//	}
//
// The service exposes GET /devices, POST /api/call_started, POST
// /api/call_ended, GET /api/call_status and the /ws websocket endpoint.
//
// # Audio Format
//
// All audio is interleaved signed 16-bit little-endian PCM. Sample rate,
// channel count and frame size are fixed for the process lifetime and
// configured through RelayConfig (defaults: 48 kHz stereo, 1024 samples
// per channel per frame).
//
// # Dependencies
//
// The package depends on:
//   - github.com/gordonklaus/portaudio: Audio I/O
//   - github.com/gorilla/websocket: WebSocket transport
//   - github.com/rs/zerolog: Structured logging
//   - github.com/spf13/cobra: CLI framework
//   - github.com/golang-jwt/jwt/v4: Relay token handling
//   - github.com/joho/godotenv: Environment variables
package callrelay
