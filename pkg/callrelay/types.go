package callrelay

import "encoding/json"

// CallState enum
type CallState string

const (
	StateIdle      CallState = "idle"
	StateConnected CallState = "connected"
	StateActive    CallState = "active"
)

// Wire event names. These are the tags of the duplex relay protocol and must
// stay stable across peers.
const (
	EventStartRecording   = "start_recording"
	EventStopRecording    = "stop_recording"
	EventAudioStream      = "audio_stream"
	EventAudioInput       = "audio_input"
	EventRecordingStarted = "recording_started"
	EventRecordingStopped = "recording_stopped"
	EventConnected        = "connected"
	EventError            = "error"
)

// Envelope is the tagged wire message carried over the relay websocket.
// Data is decoded per event by the receive loop.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AudioPayload is the data body of audio_stream and audio_input events.
type AudioPayload struct {
	Audio string `json:"audio"` // base64-encoded interleaved int16 PCM
}

// StatusPayload is the data body of status envelopes (recording_started,
// recording_stopped, connected, error).
type StatusPayload struct {
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// AudioFrame is one fixed-size chunk of raw PCM captured from the input
// device. Frames are immutable once produced; ownership moves from the
// capture worker to the transport.
type AudioFrame struct {
	PCM        []byte
	SampleRate int
	Channels   int
	BitDepth   int
}

// TurnDisposition is the terminal outcome of one inbound-frame turn.
type TurnDisposition string

const (
	TurnDelivered        TurnDisposition = "delivered"
	TurnSkippedEmpty     TurnDisposition = "skipped_empty"
	TurnBadPayload       TurnDisposition = "bad_payload"
	TurnFailedTranscribe TurnDisposition = "failed_transcribe"
	TurnFailedChat       TurnDisposition = "failed_chat"
	TurnFailedSynthesize TurnDisposition = "failed_synthesize"
)

// FrameSink consumes captured frames in capture order.
type FrameSink func(frame AudioFrame)

// DisconnectHandler fires when the relay peer drops.
type DisconnectHandler func()

// ErrorHandler receives relay errors that were absorbed rather than returned.
type ErrorHandler func(err *RelayError)
