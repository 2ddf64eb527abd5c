package callrelay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// Service wires the relay together: device registry, capture and playback
// engines, the websocket relay, the call state machine and the turn
// pipeline, exposed behind one HTTP listener.
type Service struct {
	cfg      *RelayConfig
	registry *DeviceRegistry

	capture    *CaptureEngine
	playback   *PlaybackEngine
	relay      *Relay
	controller *CallController
	pipeline   *TurnPipeline

	inputFallback  bool
	outputFallback bool

	httpServer *http.Server
	logger     *RelayLogger
}

// NewService builds a fully wired relay service. It initializes the audio
// subsystem; callers must Close the service to release it.
func NewService(cfg *RelayConfig) (*Service, error) {
	if issues := cfg.Validate(); len(issues) > 0 {
		return nil, NewRelayError(
			"invalid configuration: "+strings.Join(issues, "; "),
			ErrCodeConfigInvalid)
	}

	registry, err := NewDeviceRegistry()
	if err != nil {
		return nil, err
	}

	return newService(cfg, registry), nil
}

// newService finishes the wiring on an existing registry. Tests enter here
// with a synthetic registry; production goes through NewService.
func newService(cfg *RelayConfig, registry *DeviceRegistry) *Service {
	s := &Service{
		cfg:      cfg,
		registry: registry,
		logger:   GetGlobalLogger().WithComponent("Service"),
	}

	inputIndex, inFallback := registry.FindInput(cfg.InputDeviceName)
	outputIndex, outFallback := registry.FindOutput(cfg.OutputDeviceName)
	s.inputFallback = inFallback
	s.outputFallback = outFallback

	s.playback = NewPlaybackEngine(cfg, outputIndex)
	s.capture = NewCaptureEngine(cfg, inputIndex, s.sendFrame)
	s.controller = NewCallController(s.capture)
	s.capture.SetAbortHandler(s.controller.HandleCaptureFailure)

	s.relay = NewRelay(cfg, RelayHandlers{
		StartRecording: s.controller.StartCall,
		StopRecording:  s.controller.EndCall,
		AudioInput:     s.handleAudioInput,
		Playback:       s.playReply,
		Connect:        s.controller.HandleConnect,
		Disconnect:     s.controller.HandleDisconnect,
	})

	speech := NewSpeechClient(cfg)
	s.pipeline = NewTurnPipeline(cfg, speech, NewChatClient(cfg), speech,
		s.relay.InjectPlayback,
		func() bool {
			_, active, _ := s.controller.Status()
			return active
		})

	return s
}

// sendFrame is the capture sink: each frame goes to the peer at most once,
// and only successful sends count toward the session total.
func (s *Service) sendFrame(frame AudioFrame) {
	if err := s.relay.SendFrame(frame); err == nil {
		s.controller.NoteFrameSent()
	}
}

// handleAudioInput spawns one pipeline turn per inbound frame so a slow
// backend never blocks the relay's receive loop.
func (s *Service) handleAudioInput(b64 string) {
	go s.pipeline.ProcessTurn(context.Background(), b64)
}

func (s *Service) playReply(data []byte) {
	// Play logs its own failures; a broken output device must not take the
	// relay down.
	_ = s.playback.Play(data)
}

// Handler returns the service's HTTP surface.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /devices", s.handleDevices)
	mux.HandleFunc("POST /api/call_started", s.handleCallStarted)
	mux.HandleFunc("POST /api/call_ended", s.handleCallEnded)
	mux.HandleFunc("GET /api/call_status", s.handleCallStatus)
	mux.HandleFunc("/ws", s.relay.HandleWS)
	return mux
}

func (s *Service) handleDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": s.registry.Devices(),
	})
}

// handleCallStarted is the out-of-band start trigger, equivalent to the
// peer's start_recording event. Without an attached peer the start fails
// and the gateway gets a 502.
func (s *Service) handleCallStarted(w http.ResponseWriter, _ *http.Request) {
	if err := s.controller.StartCall(); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	_, active, _ := s.controller.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "call_started",
		"call_active": active,
	})
}

func (s *Service) handleCallEnded(w http.ResponseWriter, _ *http.Request) {
	if err := s.controller.EndCall(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}
	_, active, _ := s.controller.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "call_ended",
		"call_active": active,
	})
}

func (s *Service) handleCallStatus(w http.ResponseWriter, _ *http.Request) {
	connected, active, framesSent := s.controller.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connected_to_service": connected,
		"call_active":          active,
		"frames_sent":          framesSent,
	})
}

// Run binds the listener and serves until Shutdown or a listen error.
func (s *Service) Run() error {
	s.logger.Infof("Audio devices available:")
	s.registry.LogInventory()
	if s.inputFallback {
		s.logger.Warnf("Input device %q not found, capturing from system default", s.cfg.InputDeviceName)
	}
	if s.outputFallback {
		s.logger.Warnf("Output device %q not found, playing to system default", s.cfg.OutputDeviceName)
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.ListenAddr(),
		Handler: s.Handler(),
	}

	s.logger.WithFields(map[string]interface{}{
		"addr":        s.cfg.ListenAddr(),
		"sample_rate": s.cfg.SampleRate,
		"channels":    s.cfg.Channels,
		"frame_size":  s.cfg.FrameSize,
	}).Info("Call relay listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return WrapError(err, "relay listener failed", ErrCodeTransport)
	}
	return nil
}

// Shutdown stops the listener, ends any active call, drops the peer and
// releases the audio subsystem.
func (s *Service) Shutdown(ctx context.Context) error {
	var httpErr error
	if s.httpServer != nil {
		httpErr = s.httpServer.Shutdown(ctx)
	}

	s.controller.EndCall()
	s.relay.Close()
	s.registry.Close()

	s.logger.Info("Call relay stopped")
	return httpErr
}

// Controller exposes the call state machine for out-of-band integrations.
func (s *Service) Controller() *CallController {
	return s.controller
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
