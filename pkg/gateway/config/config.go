// Package config loads the gateway's runtime configuration from the
// environment. Every knob has a default suitable for local development
// except the speech service and generator credentials, which are required.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dialhaus/switchboard/pkg/core/convo"
)

type Config struct {
	Addr string

	// PublicStreamURL is the externally reachable websocket URL handed to
	// the telephony provider in TwiML (wss://host/stream). Empty derives
	// it from the answer webhook's Host header.
	PublicStreamURL string

	// Telephony REST credentials. Optional: inbound-only deployments can
	// run without them, but outbound dialing requires all three.
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Speech service websocket endpoint (recognition and synthesis).
	SpeechServiceURL string
	SpeechAPIKey     string
	SpeechVoice      string

	// Generator.
	OpenAIKey   string
	OpenAIModel string

	// Spoken text overrides; empty selects the built-in lines.
	Greeting string
	Apology  string

	// Media pipeline tuning.
	EnergyThreshold  float64
	RecognitionBatch time.Duration
	FrameSize        int
	MailboxSize      int
	OutboundQueue    int
	HistoryTurns     int
	TurnTimeout      time.Duration

	// Transport websocket behavior.
	WSWriteTimeout time.Duration
	WSPingInterval time.Duration
	WSReadLimit    int64

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration

	// CallLogPath enables the SQLite call log when non-empty.
	CallLogPath string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("SWB_ADDR", ":8080"),
		PublicStreamURL:     envOr("SWB_PUBLIC_STREAM_URL", ""),
		TwilioAccountSID:    envOr("SWB_TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     envOr("SWB_TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:    envOr("SWB_TWILIO_FROM_NUMBER", ""),
		SpeechServiceURL:    envOr("SWB_SPEECH_URL", ""),
		SpeechAPIKey:        envOr("SWB_SPEECH_API_KEY", ""),
		SpeechVoice:         envOr("SWB_SPEECH_VOICE", ""),
		OpenAIKey:           envOr("SWB_OPENAI_API_KEY", ""),
		OpenAIModel:         envOr("SWB_OPENAI_MODEL", ""),
		Greeting:            envOr("SWB_GREETING", ""),
		Apology:             envOr("SWB_APOLOGY", ""),
		EnergyThreshold:     envFloat64Or("SWB_ENERGY_THRESHOLD", 500),
		RecognitionBatch:    envDurationOr("SWB_RECOGNITION_BATCH", time.Second),
		FrameSize:           envIntOr("SWB_FRAME_SIZE", 160),
		MailboxSize:         envIntOr("SWB_MAILBOX_SIZE", 256),
		OutboundQueue:       envIntOr("SWB_OUTBOUND_QUEUE", 128),
		HistoryTurns:        envIntOr("SWB_HISTORY_TURNS", convo.DefaultMaxTurns),
		TurnTimeout:         envDurationOr("SWB_TURN_TIMEOUT", 45*time.Second),
		WSWriteTimeout:      envDurationOr("SWB_WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:      envDurationOr("SWB_WS_PING_INTERVAL", 20*time.Second),
		WSReadLimit:         envInt64Or("SWB_WS_READ_LIMIT", 1<<20), // 1 MiB
		ReadHeaderTimeout:   envDurationOr("SWB_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("SWB_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		CallLogPath:         envOr("SWB_CALL_LOG_PATH", ""),
	}

	if cfg.SpeechServiceURL == "" {
		return Config{}, fmt.Errorf("SWB_SPEECH_URL must be set")
	}
	if !strings.HasPrefix(cfg.SpeechServiceURL, "ws://") && !strings.HasPrefix(cfg.SpeechServiceURL, "wss://") {
		return Config{}, fmt.Errorf("SWB_SPEECH_URL must be a ws:// or wss:// URL")
	}
	if cfg.OpenAIKey == "" {
		return Config{}, fmt.Errorf("SWB_OPENAI_API_KEY must be set")
	}
	if cfg.PublicStreamURL != "" &&
		!strings.HasPrefix(cfg.PublicStreamURL, "ws://") && !strings.HasPrefix(cfg.PublicStreamURL, "wss://") {
		return Config{}, fmt.Errorf("SWB_PUBLIC_STREAM_URL must be a ws:// or wss:// URL")
	}
	if (cfg.TwilioAccountSID == "") != (cfg.TwilioAuthToken == "") {
		return Config{}, fmt.Errorf("SWB_TWILIO_ACCOUNT_SID and SWB_TWILIO_AUTH_TOKEN must be set together")
	}
	if cfg.TwilioFromNumber != "" && cfg.TwilioAccountSID == "" {
		return Config{}, fmt.Errorf("SWB_TWILIO_FROM_NUMBER requires SWB_TWILIO_ACCOUNT_SID and SWB_TWILIO_AUTH_TOKEN")
	}
	if cfg.EnergyThreshold < 0 {
		return Config{}, fmt.Errorf("SWB_ENERGY_THRESHOLD must be >= 0")
	}
	if cfg.RecognitionBatch <= 0 {
		return Config{}, fmt.Errorf("SWB_RECOGNITION_BATCH must be > 0")
	}
	if cfg.FrameSize <= 0 {
		return Config{}, fmt.Errorf("SWB_FRAME_SIZE must be > 0")
	}
	if cfg.MailboxSize <= 0 {
		return Config{}, fmt.Errorf("SWB_MAILBOX_SIZE must be > 0")
	}
	if cfg.OutboundQueue <= 0 {
		return Config{}, fmt.Errorf("SWB_OUTBOUND_QUEUE must be > 0")
	}
	if cfg.HistoryTurns <= 0 {
		return Config{}, fmt.Errorf("SWB_HISTORY_TURNS must be > 0")
	}
	if cfg.TurnTimeout < 0 {
		return Config{}, fmt.Errorf("SWB_TURN_TIMEOUT must be >= 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("SWB_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("SWB_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSReadLimit <= 0 {
		return Config{}, fmt.Errorf("SWB_WS_READ_LIMIT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("SWB_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("SWB_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// OutboundEnabled reports whether the REST credentials for placing calls
// are configured.
func (c Config) OutboundEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
