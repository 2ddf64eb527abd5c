package callrelay

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// maxMessageSize bounds inbound envelopes; large synthesized utterances still
// fit well below this.
const maxMessageSize = 10_000_000

// RelayHandlers are the callbacks the relay dispatches wire events to.
type RelayHandlers struct {
	// StartRecording and StopRecording serve the peer's recording commands;
	// a returned error is reported back as an error envelope.
	StartRecording func() error
	StopRecording  func() error
	// AudioInput receives the base64 payload of each inbound audio frame.
	AudioInput func(b64 string)
	// Playback renders reply audio; invoked on a dedicated goroutine per
	// injection so slow device writes never stall the receive loop.
	Playback func(data []byte)
	// Connect and Disconnect track peer attachment.
	Connect    func()
	Disconnect DisconnectHandler
}

// Relay is the duplex frame transport: one websocket counterparty at a time,
// named events in a tagged envelope, dispatched through a single receive
// loop. Outbound frames are at-most-once; a failed send drops the frame.
type Relay struct {
	cfg      *RelayConfig
	handlers RelayHandlers
	logger   *RelayLogger
	upgrader websocket.Upgrader

	mu      sync.Mutex // guards conn
	conn    *websocket.Conn
	writeMu sync.Mutex // serializes writes to conn
}

func NewRelay(cfg *RelayConfig, handlers RelayHandlers) *Relay {
	return &Relay{
		cfg:      cfg,
		handlers: handlers,
		logger:   GetGlobalLogger().WithComponent("Relay"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The relay fronts a trusted local UI; origin policy is the
			// caller's concern.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// HandleWS upgrades an HTTP request into the relay's peer connection. A
// second upgrade while a peer is attached is refused. When a relay secret is
// configured the request must carry a valid token.
func (r *Relay) HandleWS(w http.ResponseWriter, req *http.Request) {
	if r.cfg.WsSecret != "" {
		if err := VerifyRelayToken(r.cfg.WsSecret, bearerToken(req)); err != nil {
			r.logger.WithError(err).Warn("Rejected websocket upgrade: bad token")
			http.Error(w, "invalid relay token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.WithError(err).Error("Websocket upgrade failed")
		return
	}

	if err := r.attach(conn); err != nil {
		r.logger.LogRelayError(err.(*RelayError))
		r.writeTo(conn, EventError, StatusPayload{Message: "relay already has a peer"})
		conn.Close()
		return
	}

	r.logger.WithField("remote", conn.RemoteAddr().String()).Info("Peer connected")
	r.sendStatus(EventConnected, StatusPayload{Status: "Connected to audio relay"})

	if r.handlers.Connect != nil {
		r.handlers.Connect()
	}

	go r.readLoop(conn)
}

func (r *Relay) attach(conn *websocket.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return NewRelayError("a peer is already attached", ErrCodePeerBusy)
	}
	conn.SetReadLimit(maxMessageSize)
	r.conn = conn
	return nil
}

// readLoop is the single dispatch point for inbound events. It exits on the
// first read error, which covers both peer close and transport failure.
func (r *Relay) readLoop(conn *websocket.Conn) {
	defer func() {
		r.detach(conn)
		r.logger.Info("Peer disconnected")
		if r.handlers.Disconnect != nil {
			r.handlers.Disconnect()
		}
	}()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.WithError(err).Warn("Websocket read error")
			}
			return
		}
		r.dispatch(env)
	}
}

func (r *Relay) dispatch(env Envelope) {
	switch env.Event {
	case EventStartRecording:
		if err := r.handlers.StartRecording(); err != nil {
			r.sendStatus(EventError, StatusPayload{Message: "Failed to start recording: " + err.Error()})
			return
		}
		r.sendStatus(EventRecordingStarted, StatusPayload{Status: EventRecordingStarted})

	case EventStopRecording:
		if err := r.handlers.StopRecording(); err != nil {
			r.sendStatus(EventError, StatusPayload{Message: "Failed to stop recording: " + err.Error()})
			return
		}
		r.sendStatus(EventRecordingStopped, StatusPayload{Status: EventRecordingStopped})

	case EventAudioInput:
		var payload AudioPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload.Audio == "" {
			r.logger.LogRelayError(NewRelayError("audio_input without audio payload", ErrCodeProtocol))
			r.sendStatus(EventError, StatusPayload{Message: "No audio data received"})
			return
		}
		r.handlers.AudioInput(payload.Audio)

	default:
		r.logger.Debugf("Ignoring event %q", env.Event)
	}
}

func (r *Relay) detach(conn *websocket.Conn) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
	conn.Close()
}

// Connected reports whether a peer is attached.
func (r *Relay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// Close drops the current peer, if any. The read loop's exit path runs the
// disconnect handler.
func (r *Relay) Close() {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// SendFrame emits one captured frame to the peer as an audio_stream event.
// Frames are a lossy real-time stream: without a peer, or on a send failure,
// the frame is dropped and never retried.
func (r *Relay) SendFrame(frame AudioFrame) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()

	if conn == nil {
		return NewRelayError("no peer attached, frame dropped", ErrCodeTransport)
	}

	payload := AudioPayload{Audio: base64.StdEncoding.EncodeToString(frame.PCM)}
	if err := r.writeTo(conn, EventAudioStream, payload); err != nil {
		r.logger.WithError(err).Warn("Frame send failed, dropping")
		return WrapError(err, "frame send failed", ErrCodeTransport)
	}
	return nil
}

// InjectPlayback routes synthesized reply audio to the playback engine. If
// the peer has disconnected since the triggering frame arrived, the reply is
// dropped and logged rather than played into a dead call.
func (r *Relay) InjectPlayback(data []byte) error {
	if !r.Connected() {
		err := NewRelayError("peer gone, dropping synthesized reply", ErrCodeTransport)
		r.logger.LogRelayError(err)
		return err
	}

	go r.handlers.Playback(data)
	return nil
}

func (r *Relay) sendStatus(event string, payload StatusPayload) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return
	}
	if err := r.writeTo(conn, event, payload); err != nil {
		r.logger.WithError(err).Warnf("Failed to send %s", event)
	}
}

func (r *Relay) writeTo(conn *websocket.Conn, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return conn.WriteJSON(Envelope{Event: event, Data: data})
}

// bearerToken pulls the relay token from the Authorization header or, for
// browser peers that cannot set headers on websocket dials, the token query
// parameter.
func bearerToken(req *http.Request) string {
	if auth := req.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return req.URL.Query().Get("token")
}
