package callrelay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// TranscribeResponse is the reply body of POST /api/audio/transcribe.
type TranscribeResponse struct {
	Text string `json:"text"`
}

// SynthesizeRequest is the body of POST /api/audio/synthesize.
type SynthesizeRequest struct {
	Text        string `json:"text"`
	Voice       string `json:"voice,omitempty"`
	AudioFormat string `json:"audio_format,omitempty"`
}

// SpeechClient calls the speech backend for transcription and synthesis.
// Like the chat client it uses one bounded timeout and no retries.
type SpeechClient struct {
	baseURL string
	voice   string
	http    *http.Client
	logger  *RelayLogger
}

func NewSpeechClient(cfg *RelayConfig) *SpeechClient {
	return &SpeechClient{
		baseURL: cfg.SpeechBaseURL,
		voice:   cfg.Voice,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		logger:  GetGlobalLogger().WithComponent("SpeechClient"),
	}
}

// Transcribe posts raw audio bytes and returns the recognized text. Empty
// audio is rejected locally; the backend never sees a zero-byte body.
func (c *SpeechClient) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	if len(audio) == 0 {
		return "", NewRelayError("no audio to transcribe", ErrCodeEmptyAudio)
	}

	endpoint := c.baseURL + "/api/audio/transcribe"
	if language != "" {
		endpoint += "?language=" + url.QueryEscape(language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
	if err != nil {
		return "", WrapError(err, "failed to build transcribe request", ErrCodeTranscribe)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", WrapError(err, "speech backend unreachable", ErrCodeBackendDown)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", NewRelayError(
			fmt.Sprintf("transcribe returned %d", resp.StatusCode),
			ErrCodeTranscribe).AddDetail("status_code", resp.StatusCode)
	}

	var out TranscribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", WrapError(err, "failed to decode transcribe response", ErrCodeTranscribe)
	}

	c.logger.Debugf("Transcribed %d bytes: %q", len(audio), out.Text)
	return out.Text, nil
}

// Synthesize renders text to audio bytes and reports the content type the
// backend chose. Empty text is rejected locally.
func (c *SpeechClient) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	if text == "" {
		return nil, "", NewRelayError("no text to synthesize", ErrCodeEmptyText)
	}

	body, err := json.Marshal(SynthesizeRequest{Text: text, Voice: c.voice, AudioFormat: "pcm"})
	if err != nil {
		return nil, "", WrapError(err, "failed to encode synthesize request", ErrCodeSynthesize)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/audio/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, "", WrapError(err, "failed to build synthesize request", ErrCodeSynthesize)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", WrapError(err, "speech backend unreachable", ErrCodeBackendDown)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", NewRelayError(
			fmt.Sprintf("synthesize returned %d", resp.StatusCode),
			ErrCodeSynthesize).AddDetail("status_code", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", WrapError(err, "failed to read synthesized audio", ErrCodeSynthesize)
	}

	c.logger.Debugf("Synthesized %d chars into %d bytes", len(text), len(audio))
	return audio, resp.Header.Get("Content-Type"), nil
}
