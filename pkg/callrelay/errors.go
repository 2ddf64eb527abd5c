package callrelay

import (
	"fmt"
	"time"
)

// Error codes as constants
const (
	ErrCodeDevice          = "DEVICE_ERROR"
	ErrCodeDeviceNotFound  = "DEVICE_NOT_FOUND"
	ErrCodeTransport       = "TRANSPORT_ERROR"
	ErrCodePeerBusy        = "PEER_BUSY"
	ErrCodeProtocol        = "PROTOCOL_ERROR"
	ErrCodePipeline        = "PIPELINE_ERROR"
	ErrCodeTranscribe      = "TRANSCRIBE_FAILED"
	ErrCodeChat            = "CHAT_FAILED"
	ErrCodeSynthesize      = "SYNTHESIZE_FAILED"
	ErrCodeEmptyAudio      = "EMPTY_AUDIO"
	ErrCodeEmptyText       = "EMPTY_TEXT"
	ErrCodeBackendDown     = "BACKEND_UNREACHABLE"
	ErrCodeTimeout         = "TIMEOUT_ERROR"
	ErrCodeConfigInvalid   = "CONFIG_INVALID"
	ErrCodeTokenInvalid    = "TOKEN_INVALID"
	ErrCodeCaptureStuck    = "CAPTURE_JOIN_TIMEOUT"
	ErrCodeMalformedBuffer = "MALFORMED_BUFFER"
)

// RelayError carries the code taxonomy of the relay: device, transport,
// pipeline and protocol failures are distinguished by Code so callers can
// decide what escalates and what is absorbed.
type RelayError struct {
	Message   string
	Code      string
	Timestamp time.Time
	Details   map[string]interface{}
	err       error
}

func (e *RelayError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Message, e.Code, e.err)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (e *RelayError) Unwrap() error {
	return e.err
}

func NewRelayError(message, code string) *RelayError {
	return &RelayError{
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// WrapError attaches a relay code to an underlying error.
func WrapError(err error, message, code string) *RelayError {
	if err == nil {
		return nil
	}
	re := NewRelayError(message, code)
	re.err = err
	return re
}

func (e *RelayError) AddDetail(key string, value interface{}) *RelayError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsErrorCode reports whether err is a RelayError with the given code.
func IsErrorCode(err error, code string) bool {
	re, ok := err.(*RelayError)
	if !ok {
		return false
	}
	return re.Code == code
}

// Specific error creators with common codes
func NewDeviceError(message string) *RelayError {
	return NewRelayError(message, ErrCodeDevice)
}

func NewTransportError(message string) *RelayError {
	return NewRelayError(message, ErrCodeTransport)
}

func NewProtocolError(message string) *RelayError {
	return NewRelayError(message, ErrCodeProtocol)
}

func NewPipelineError(message string) *RelayError {
	return NewRelayError(message, ErrCodePipeline)
}
