package callrelay

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relayFixture struct {
	relay  *Relay
	server *httptest.Server

	connected    chan struct{}
	disconnected chan struct{}
	audioIn      chan string
	playback     chan []byte

	startErr error
	stopErr  error
}

func newRelayFixture(t *testing.T, cfg *RelayConfig) *relayFixture {
	t.Helper()

	f := &relayFixture{
		connected:    make(chan struct{}, 1),
		disconnected: make(chan struct{}, 1),
		audioIn:      make(chan string, 8),
		playback:     make(chan []byte, 8),
	}

	f.relay = NewRelay(cfg, RelayHandlers{
		StartRecording: func() error { return f.startErr },
		StopRecording:  func() error { return f.stopErr },
		AudioInput:     func(b64 string) { f.audioIn <- b64 },
		Playback:       func(data []byte) { f.playback <- data },
		Connect:        func() { f.connected <- struct{}{} },
		Disconnect:     func() { f.disconnected <- struct{}{} },
	})

	f.server = httptest.NewServer(http.HandlerFunc(f.relay.HandleWS))
	t.Cleanup(f.server.Close)
	return f
}

func (f *relayFixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
}

func (f *relayFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	t.Helper()
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		data = raw
	}
	require.NoError(t, conn.WriteJSON(Envelope{Event: event, Data: data}))
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestRelay_AttachSendsGreeting(t *testing.T) {
	f := newRelayFixture(t, testAudioConfig())

	conn := f.dial(t)
	waitSignal(t, f.connected, "connect handler")

	env := readEnvelope(t, conn)
	assert.Equal(t, EventConnected, env.Event)
	assert.True(t, f.relay.Connected())
}

func TestRelay_RecordingCommands(t *testing.T) {
	tests := map[string]struct {
		event       string
		handlerErr  error
		wantReply   string
		description string
	}{
		"start_recording_ok": {
			event:       EventStartRecording,
			wantReply:   EventRecordingStarted,
			description: "A successful start is acknowledged with recording_started",
		},
		"start_recording_fails": {
			event:       EventStartRecording,
			handlerErr:  NewTransportError("no peer"),
			wantReply:   EventError,
			description: "A failed start is reported as an error envelope",
		},
		"stop_recording_ok": {
			event:       EventStopRecording,
			wantReply:   EventRecordingStopped,
			description: "A stop is acknowledged with recording_stopped",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newRelayFixture(t, testAudioConfig())
			f.startErr = tt.handlerErr
			f.stopErr = tt.handlerErr

			conn := f.dial(t)
			require.Equal(t, EventConnected, readEnvelope(t, conn).Event)

			sendEvent(t, conn, tt.event, nil)
			assert.Equal(t, tt.wantReply, readEnvelope(t, conn).Event, tt.description)
		})
	}
}

func TestRelay_AudioInputDispatch(t *testing.T) {
	f := newRelayFixture(t, testAudioConfig())

	conn := f.dial(t)
	require.Equal(t, EventConnected, readEnvelope(t, conn).Event)

	payload := base64.StdEncoding.EncodeToString([]byte("pcm"))
	sendEvent(t, conn, EventAudioInput, AudioPayload{Audio: payload})

	select {
	case got := <-f.audioIn:
		assert.Equal(t, payload, got)
	case <-time.After(2 * time.Second):
		t.Fatal("audio input handler never fired")
	}
}

func TestRelay_AudioInputWithoutPayload(t *testing.T) {
	f := newRelayFixture(t, testAudioConfig())

	conn := f.dial(t)
	require.Equal(t, EventConnected, readEnvelope(t, conn).Event)

	sendEvent(t, conn, EventAudioInput, AudioPayload{})

	env := readEnvelope(t, conn)
	assert.Equal(t, EventError, env.Event)
	assert.Empty(t, f.audioIn, "A payloadless frame must not reach the pipeline")
}

func TestRelay_UnknownEventIgnored(t *testing.T) {
	f := newRelayFixture(t, testAudioConfig())

	conn := f.dial(t)
	require.Equal(t, EventConnected, readEnvelope(t, conn).Event)

	sendEvent(t, conn, "telemetry_ping", nil)
	// The connection must survive an unknown event.
	sendEvent(t, conn, EventStartRecording, nil)
	assert.Equal(t, EventRecordingStarted, readEnvelope(t, conn).Event)
}

func TestRelay_SendFrame(t *testing.T) {
	f := newRelayFixture(t, testAudioConfig())
	frame := AudioFrame{PCM: []byte{1, 2, 3, 4}, SampleRate: 48000, Channels: 2, BitDepth: 16}

	err := f.relay.SendFrame(frame)
	require.Error(t, err, "Sending without a peer must drop the frame")
	assert.True(t, IsErrorCode(err, ErrCodeTransport))

	conn := f.dial(t)
	require.Equal(t, EventConnected, readEnvelope(t, conn).Event)

	require.NoError(t, f.relay.SendFrame(frame))

	env := readEnvelope(t, conn)
	require.Equal(t, EventAudioStream, env.Event)

	var payload AudioPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	decoded, err := base64.StdEncoding.DecodeString(payload.Audio)
	require.NoError(t, err)
	assert.Equal(t, frame.PCM, decoded)
}

func TestRelay_SecondPeerRefused(t *testing.T) {
	f := newRelayFixture(t, testAudioConfig())

	first := f.dial(t)
	require.Equal(t, EventConnected, readEnvelope(t, first).Event)

	second := f.dial(t)
	env := readEnvelope(t, second)
	assert.Equal(t, EventError, env.Event, "The second peer must be turned away")

	// The first peer keeps working.
	sendEvent(t, first, EventStartRecording, nil)
	assert.Equal(t, EventRecordingStarted, readEnvelope(t, first).Event)
}

func TestRelay_DisconnectDetaches(t *testing.T) {
	f := newRelayFixture(t, testAudioConfig())

	conn := f.dial(t)
	require.Equal(t, EventConnected, readEnvelope(t, conn).Event)
	waitSignal(t, f.connected, "connect handler")

	conn.Close()
	waitSignal(t, f.disconnected, "disconnect handler")
	assert.False(t, f.relay.Connected())

	// A new peer can attach after the old one dropped.
	replacement := f.dial(t)
	assert.Equal(t, EventConnected, readEnvelope(t, replacement).Event)
}

func TestRelay_InjectPlayback(t *testing.T) {
	f := newRelayFixture(t, testAudioConfig())

	err := f.relay.InjectPlayback([]byte("pcm"))
	require.Error(t, err, "Replies for a gone peer are dropped")

	conn := f.dial(t)
	require.Equal(t, EventConnected, readEnvelope(t, conn).Event)

	require.NoError(t, f.relay.InjectPlayback([]byte("pcm")))
	select {
	case got := <-f.playback:
		assert.Equal(t, []byte("pcm"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("playback handler never fired")
	}
}

func TestRelay_TokenGate(t *testing.T) {
	cfg := testAudioConfig()
	cfg.WsSecret = "test-relay-secret"
	f := newRelayFixture(t, cfg)

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(), nil)
	require.Error(t, err, "An upgrade without a token must be rejected")
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := MintRelayToken(cfg.WsSecret, "test-peer")
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL()+"?token="+token.Token, nil)
	require.NoError(t, err, "A minted token must pass the gate")
	defer conn.Close()
	assert.Equal(t, EventConnected, readEnvelope(t, conn).Event)
}
