package callrelay

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Audio format is fixed for the process lifetime: interleaved signed 16-bit
// PCM at the configured rate and channel count.
const (
	DefaultSampleRate = 48000
	DefaultChannels   = 2
	DefaultFrameSize  = 1024 // samples per channel per frame
	BitDepth          = 16
	BytesPerSample    = BitDepth / 8
)

const DefaultFallbackUtterance = "Sorry, I am having trouble reaching my brain right now. Could you say that again in a moment?"

type RelayConfig struct {
	SampleRate int
	Channels   int
	FrameSize  int

	// Optional device name hints, matched by case-insensitive substring.
	// Empty means system default.
	InputDeviceName  string
	OutputDeviceName string

	Host string
	Port int

	ChatBaseURL   string
	SpeechBaseURL string
	HTTPTimeout   time.Duration

	FallbackUtterance string
	Language          string
	Voice             string

	// WsSecret, when set, requires a signed relay token on websocket upgrade.
	WsSecret string

	PrettyLogs bool
}

func NewRelayConfig() *RelayConfig {
	c := &RelayConfig{
		SampleRate:        DefaultSampleRate,
		Channels:          DefaultChannels,
		FrameSize:         DefaultFrameSize,
		Host:              "0.0.0.0",
		Port:              5002,
		ChatBaseURL:       "http://127.0.0.1:5000",
		SpeechBaseURL:     "http://127.0.0.1:5000",
		HTTPTimeout:       10 * time.Second,
		FallbackUtterance: DefaultFallbackUtterance,
		PrettyLogs:        true,
	}

	c.loadFromEnv()

	return c
}

func (c *RelayConfig) loadFromEnv() {
	// Load .env if exists
	_ = godotenv.Load()

	if v := os.Getenv("RELAY_SAMPLE_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SampleRate = n
		}
	}
	if v := os.Getenv("RELAY_CHANNELS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Channels = n
		}
	}
	if v := os.Getenv("RELAY_FRAME_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.FrameSize = n
		}
	}

	c.InputDeviceName = os.Getenv("AUDIO_INPUT_DEVICE")
	c.OutputDeviceName = os.Getenv("AUDIO_OUTPUT_DEVICE")

	if v := os.Getenv("CALL_SERVICE_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("CALL_SERVICE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}

	if v := os.Getenv("CHAT_BASE_URL"); v != "" {
		c.ChatBaseURL = v
	}
	if v := os.Getenv("SPEECH_BASE_URL"); v != "" {
		c.SpeechBaseURL = v
	}
	if v := os.Getenv("RELAY_HTTP_TIMEOUT"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			c.HTTPTimeout = time.Duration(secs * float64(time.Second))
		}
	}

	if v := os.Getenv("RELAY_FALLBACK_UTTERANCE"); v != "" {
		c.FallbackUtterance = v
	}
	c.Language = os.Getenv("RELAY_LANGUAGE")
	c.Voice = os.Getenv("RELAY_VOICE")

	c.WsSecret = os.Getenv("RELAY_WS_SECRET")

	if v := os.Getenv("RELAY_PRETTY_LOGS"); v != "" {
		c.PrettyLogs = v != "false" && v != "0"
	}
}

// Validate returns list of issues
func (c *RelayConfig) Validate() []string {
	issues := []string{}

	if c.SampleRate <= 0 {
		issues = append(issues, fmt.Sprintf("invalid sample rate: %d", c.SampleRate))
	}
	if c.Channels != 1 && c.Channels != 2 {
		issues = append(issues, fmt.Sprintf("unsupported channel count: %d (must be 1 or 2)", c.Channels))
	}
	if c.FrameSize <= 0 {
		issues = append(issues, fmt.Sprintf("invalid frame size: %d", c.FrameSize))
	}
	if c.Port <= 0 || c.Port > 65535 {
		issues = append(issues, fmt.Sprintf("invalid port: %d", c.Port))
	}
	for _, base := range []string{c.ChatBaseURL, c.SpeechBaseURL} {
		if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
			issues = append(issues, fmt.Sprintf("base URL must include http:// or https:// scheme: %s", base))
		}
	}
	if c.HTTPTimeout <= 0 {
		issues = append(issues, "HTTP timeout must be positive")
	}
	if strings.TrimSpace(c.FallbackUtterance) == "" {
		issues = append(issues, "fallback utterance must not be empty")
	}

	return issues
}

// FrameBytes returns the size in bytes of one captured frame.
func (c *RelayConfig) FrameBytes() int {
	return c.FrameSize * c.Channels * BytesPerSample
}

// BytesPerInterleavedFrame returns the byte width of one interleaved sample
// group (one sample per channel); playback buffers must be a multiple of it.
func (c *RelayConfig) BytesPerInterleavedFrame() int {
	return c.Channels * BytesPerSample
}

// ListenAddr returns the host:port the relay service binds to.
func (c *RelayConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
