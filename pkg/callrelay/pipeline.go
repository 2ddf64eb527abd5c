package callrelay

import (
	"context"
	"encoding/base64"
	"strings"
	"time"
)

// Transcriber turns raw audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

// Chatter produces a reply for a transcript.
type Chatter interface {
	Complete(ctx context.Context, prompt string, metadata map[string]interface{}) (string, error)
}

// Synthesizer renders reply text to audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, string, error)
}

// TurnPipeline runs one inbound frame through transcribe -> chat ->
// synthesize and hands the result to deliver. Each turn is independent; a
// failed turn is absorbed and logged, never escalated to the call session.
type TurnPipeline struct {
	cfg         *RelayConfig
	transcriber Transcriber
	chatter     Chatter
	synthesizer Synthesizer

	// deliver pushes synthesized audio toward playback. At-most-once: a
	// delivery error drops the reply.
	deliver func(data []byte) error

	// callActive samples the session for turn metadata.
	callActive func() bool

	logger *RelayLogger
}

func NewTurnPipeline(cfg *RelayConfig, t Transcriber, ch Chatter, s Synthesizer, deliver func([]byte) error, callActive func() bool) *TurnPipeline {
	return &TurnPipeline{
		cfg:         cfg,
		transcriber: t,
		chatter:     ch,
		synthesizer: s,
		deliver:     deliver,
		callActive:  callActive,
		logger:      GetGlobalLogger().WithComponent("TurnPipeline"),
	}
}

// ProcessTurn handles one base64 audio payload end to end and returns the
// turn's terminal disposition. A chat failure does not kill the turn: the
// configured fallback utterance is synthesized instead, so the caller always
// hears something.
func (p *TurnPipeline) ProcessTurn(ctx context.Context, b64 string) TurnDisposition {
	started := time.Now()

	audio, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		p.logger.LogRelayError(WrapError(err, "dropping turn with undecodable audio payload", ErrCodeProtocol))
		return TurnBadPayload
	}
	if len(audio) == 0 {
		p.logger.LogRelayError(NewRelayError("dropping turn with empty audio payload", ErrCodeEmptyAudio))
		return TurnBadPayload
	}

	transcript, err := p.transcriber.Transcribe(ctx, audio, p.cfg.Language)
	if err != nil {
		p.logger.WithError(err).Error("Transcription failed, dropping turn")
		return TurnFailedTranscribe
	}

	// Silence and filler produce empty transcripts; those turns end here
	// without ever reaching the chat backend.
	if strings.TrimSpace(transcript) == "" {
		p.logger.Debug("Empty transcript, skipping turn")
		return TurnSkippedEmpty
	}

	disposition := TurnDelivered
	reply, err := p.chatter.Complete(ctx, transcript, p.turnMetadata(len(audio)))
	if err != nil {
		p.logger.WithError(err).Error("Chat failed, using fallback utterance")
		reply = p.cfg.FallbackUtterance
		disposition = TurnFailedChat
	}

	synthesized, _, err := p.synthesizer.Synthesize(ctx, reply)
	if err != nil {
		p.logger.WithError(err).Error("Synthesis failed, dropping turn")
		return TurnFailedSynthesize
	}

	if err := p.deliver(synthesized); err != nil {
		p.logger.WithError(err).Warn("Reply delivery failed, audio dropped")
	}

	p.logger.WithFields(map[string]interface{}{
		"disposition": string(disposition),
		"duration_ms": time.Since(started).Milliseconds(),
	}).Debugf("Turn finished: %q -> %d bytes", transcript, len(synthesized))
	return disposition
}

func (p *TurnPipeline) turnMetadata(audioBytes int) map[string]interface{} {
	return map[string]interface{}{
		"source":      "call",
		"call_active": p.callActive(),
		"audio_bytes": audioBytes,
	}
}
