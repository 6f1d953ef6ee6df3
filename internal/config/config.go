package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Dialogue    DialogueConfig  `yaml:"dialogue"`
	Telephony   TelephonyConfig `yaml:"telephony"`
	Gather      GatherConfig    `yaml:"gather"`
	Audio       AudioConfig     `yaml:"audio"`
	Sessions    SessionsConfig  `yaml:"sessions"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	StoreDir       string   `yaml:"store_dir"`
}

// DialogueConfig points at the remote conversation engine.
type DialogueConfig struct {
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"`
	TranscriptURL string `yaml:"transcript_url"`
	VersionID     string `yaml:"version_id"`
	ProjectID     string `yaml:"project_id"`
	ResetOnEnd    bool   `yaml:"reset_on_end"`
}

// TelephonyConfig holds call-control provider credentials, used for
// outbound SMS.
type TelephonyConfig struct {
	AccountSID   string `yaml:"account_sid"`
	AuthToken    string `yaml:"auth_token"`
	SenderNumber string `yaml:"sender_number"`
	APIBaseURL   string `yaml:"api_base_url"`
}

// GatherConfig is the input-gathering directive attached to non-terminal
// turns. Speech model options mirror what the provider recognizes.
type GatherConfig struct {
	NumDigits     int    `yaml:"num_digits"`
	FinishOnKey   string `yaml:"finish_on_key"`
	SpeechModel   string `yaml:"speech_model"`
	SpeechTimeout string `yaml:"speech_timeout"`
	Language      string `yaml:"language"`
	Hints         string `yaml:"hints"`
	Action        string `yaml:"action"`
	Method        string `yaml:"method"`
}

type AudioConfig struct {
	TempDir        string `yaml:"temp_dir"`
	PublicBaseURL  string `yaml:"public_base_url"`
	FFmpegCommand  string `yaml:"ffmpeg_command"`
	SampleRate     int    `yaml:"sample_rate"`
	Channels       int    `yaml:"channels"`
	Bitrate        string `yaml:"bitrate"`
	CleanupGraceMS int    `yaml:"cleanup_grace_ms"`
}

type SessionsConfig struct {
	Path       string `yaml:"path"`
	MaxCallers int    `yaml:"max_callers"`
}

func Default() Config {
	return Config{
		ServiceName: "parley-bridge",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			StoreDir:       "./data/nats",
		},
		Dialogue: DialogueConfig{
			BaseURL:       "https://general-runtime.voiceflow.com",
			TranscriptURL: "https://api.voiceflow.com/v2/transcripts",
			VersionID:     "development",
		},
		Telephony: TelephonyConfig{
			APIBaseURL: "https://api.twilio.com/2010-04-01",
		},
		Gather: GatherConfig{
			NumDigits:     4,
			FinishOnKey:   "#",
			SpeechModel:   "experimental_utterances",
			SpeechTimeout: "auto",
			Language:      "en-US",
			Action:        "/ivr/interaction",
			Method:        "POST",
		},
		Audio: AudioConfig{
			TempDir:        "./tmp",
			FFmpegCommand:  "ffmpeg",
			SampleRate:     16000,
			Channels:       1,
			Bitrate:        "64k",
			CleanupGraceMS: 30000,
		},
		Sessions: SessionsConfig{
			Path:       "./data/sessions.db",
			MaxCallers: 10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "PARLEY_SERVICE_NAME")
	overrideString(&cfg.Environment, "PARLEY_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PARLEY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PARLEY_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "PARLEY_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PARLEY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PARLEY_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "PARLEY_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "PARLEY_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PARLEY_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "PARLEY_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PARLEY_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PARLEY_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PARLEY_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PARLEY_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PARLEY_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.StoreDir, "PARLEY_BUS_STORE_DIR")
	overrideString(&cfg.Dialogue.APIKey, "PARLEY_DIALOGUE_API_KEY")
	overrideString(&cfg.Dialogue.BaseURL, "PARLEY_DIALOGUE_BASE_URL")
	overrideString(&cfg.Dialogue.TranscriptURL, "PARLEY_DIALOGUE_TRANSCRIPT_URL")
	overrideString(&cfg.Dialogue.VersionID, "PARLEY_DIALOGUE_VERSION_ID")
	overrideString(&cfg.Dialogue.ProjectID, "PARLEY_DIALOGUE_PROJECT_ID")
	overrideBool(&cfg.Dialogue.ResetOnEnd, "PARLEY_DIALOGUE_RESET_ON_END")
	overrideString(&cfg.Telephony.AccountSID, "PARLEY_TELEPHONY_ACCOUNT_SID")
	overrideString(&cfg.Telephony.AuthToken, "PARLEY_TELEPHONY_AUTH_TOKEN")
	overrideString(&cfg.Telephony.SenderNumber, "PARLEY_TELEPHONY_SENDER_NUMBER")
	overrideString(&cfg.Telephony.APIBaseURL, "PARLEY_TELEPHONY_API_BASE_URL")
	overrideInt(&cfg.Gather.NumDigits, "PARLEY_GATHER_NUM_DIGITS")
	overrideString(&cfg.Gather.FinishOnKey, "PARLEY_GATHER_FINISH_ON_KEY")
	overrideString(&cfg.Gather.SpeechModel, "PARLEY_GATHER_SPEECH_MODEL")
	overrideString(&cfg.Gather.SpeechTimeout, "PARLEY_GATHER_SPEECH_TIMEOUT")
	overrideString(&cfg.Gather.Language, "PARLEY_GATHER_LANGUAGE")
	overrideString(&cfg.Gather.Hints, "PARLEY_GATHER_HINTS")
	overrideString(&cfg.Gather.Action, "PARLEY_GATHER_ACTION")
	overrideString(&cfg.Gather.Method, "PARLEY_GATHER_METHOD")
	overrideString(&cfg.Audio.TempDir, "PARLEY_AUDIO_TEMP_DIR")
	overrideString(&cfg.Audio.PublicBaseURL, "PARLEY_AUDIO_PUBLIC_BASE_URL")
	overrideString(&cfg.Audio.FFmpegCommand, "PARLEY_AUDIO_FFMPEG_COMMAND")
	overrideInt(&cfg.Audio.SampleRate, "PARLEY_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "PARLEY_AUDIO_CHANNELS")
	overrideString(&cfg.Audio.Bitrate, "PARLEY_AUDIO_BITRATE")
	overrideInt(&cfg.Audio.CleanupGraceMS, "PARLEY_AUDIO_CLEANUP_GRACE_MS")
	overrideString(&cfg.Sessions.Path, "PARLEY_SESSIONS_PATH")
	overrideInt(&cfg.Sessions.MaxCallers, "PARLEY_SESSIONS_MAX_CALLERS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Dialogue.BaseURL == "" {
		return errors.New("dialogue.base_url must not be empty")
	}
	if cfg.Dialogue.VersionID == "" {
		return errors.New("dialogue.version_id must not be empty")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Gather.SpeechModel {
	case "default", "numbers_and_commands", "phone_call", "experimental_utterances", "experimental_conversations":
		// ok
	default:
		return errors.New("gather.speech_model must be one of default|numbers_and_commands|phone_call|experimental_utterances|experimental_conversations")
	}
	if cfg.Gather.NumDigits < 0 {
		return errors.New("gather.num_digits must be >= 0")
	}
	switch cfg.Gather.Method {
	case "GET", "POST":
		// ok
	default:
		return errors.New("gather.method must be GET or POST")
	}
	if cfg.Audio.TempDir == "" {
		return errors.New("audio.temp_dir must not be empty")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Audio.CleanupGraceMS < 0 {
		return errors.New("audio.cleanup_grace_ms must be >= 0")
	}
	if cfg.Sessions.Path == "" {
		return errors.New("sessions.path must not be empty")
	}
	if cfg.Sessions.MaxCallers < 0 {
		return errors.New("sessions.max_callers must be >= 0")
	}
	return nil
}
