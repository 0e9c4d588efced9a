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
	DaemonName    string              `yaml:"daemon_name"`
	Environment   string              `yaml:"environment"`
	HTTP          HTTPConfig          `yaml:"http"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Bus           BusConfig           `yaml:"bus"`
	Hotkey        HotkeyConfig        `yaml:"hotkey"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Cleaning      CleaningConfig      `yaml:"cleaning"`
	Output        OutputConfig        `yaml:"output"`
	History       HistoryConfig       `yaml:"history"`
	IPC           IPCConfig           `yaml:"ipc"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type HotkeyConfig struct {
	Binding string `yaml:"binding"`
}

type AudioConfig struct {
	SampleRate          int `yaml:"sample_rate"`
	Channels            int `yaml:"channels"`
	FrameSize           int `yaml:"frame_size"`
	MaxRecordingSeconds int `yaml:"max_recording_seconds"`
	MaxMemoryMB         int `yaml:"max_memory_mb"`
	DeviceCheckMS       int `yaml:"device_check_interval_ms"`
	InitAttempts        int `yaml:"init_attempts"`
	InitBackoffMS       int `yaml:"init_backoff_ms"`
}

type TranscriptionConfig struct {
	Mode             string `yaml:"mode"` // http, openai, exec, mock
	Endpoint         string `yaml:"endpoint"`
	APIKey           string `yaml:"api_key"`
	Model            string `yaml:"model"`
	Language         string `yaml:"language"`
	Command          string `yaml:"command"`
	TimeoutMS        int    `yaml:"timeout_ms"`
	MaxAttempts      int    `yaml:"max_attempts"`
	InitialBackoffMS int    `yaml:"initial_backoff_ms"`
	EnableHTTP2      bool   `yaml:"enable_http2"`
}

type CleaningConfig struct {
	RemoveFillers bool   `yaml:"remove_fillers"`
	CustomPhrases string `yaml:"custom_phrases"`
}

type OutputConfig struct {
	Mode           string `yaml:"mode"` // type or paste
	CharIntervalMS int    `yaml:"char_interval_ms"`
	Notifications  bool   `yaml:"notifications"`
}

type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type IPCConfig struct {
	Enabled bool `yaml:"enabled"`
}

func Default() Config {
	return Config{
		DaemonName:  "quill-daemon",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Hotkey: HotkeyConfig{
			Binding: "ctrl+shift+space",
		},
		Audio: AudioConfig{
			SampleRate:          16000,
			Channels:            1,
			FrameSize:           2048,
			MaxRecordingSeconds: 30,
			MaxMemoryMB:         100,
			DeviceCheckMS:       2000,
			InitAttempts:        3,
			InitBackoffMS:       2000,
		},
		Transcription: TranscriptionConfig{
			Mode:             "mock",
			Model:            "whisper-1",
			Language:         "en",
			TimeoutMS:        30000,
			MaxAttempts:      3,
			InitialBackoffMS: 1000,
		},
		Cleaning: CleaningConfig{
			RemoveFillers: true,
		},
		Output: OutputConfig{
			Mode:           "type",
			CharIntervalMS: 10,
			Notifications:  true,
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          "./data/quill-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		IPC: IPCConfig{
			Enabled: true,
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
	overrideString(&cfg.DaemonName, "QUILL_DAEMON_NAME")
	overrideString(&cfg.Environment, "QUILL_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "QUILL_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "QUILL_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "QUILL_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "QUILL_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "QUILL_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "QUILL_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "QUILL_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "QUILL_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "QUILL_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "QUILL_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "QUILL_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "QUILL_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "QUILL_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "QUILL_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "QUILL_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Hotkey.Binding, "QUILL_HOTKEY_BINDING")
	overrideInt(&cfg.Audio.SampleRate, "QUILL_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "QUILL_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.FrameSize, "QUILL_AUDIO_FRAME_SIZE")
	overrideInt(&cfg.Audio.MaxRecordingSeconds, "QUILL_AUDIO_MAX_RECORDING_SECONDS")
	overrideInt(&cfg.Audio.MaxMemoryMB, "QUILL_AUDIO_MAX_MEMORY_MB")
	overrideInt(&cfg.Audio.DeviceCheckMS, "QUILL_AUDIO_DEVICE_CHECK_INTERVAL_MS")
	overrideInt(&cfg.Audio.InitAttempts, "QUILL_AUDIO_INIT_ATTEMPTS")
	overrideInt(&cfg.Audio.InitBackoffMS, "QUILL_AUDIO_INIT_BACKOFF_MS")
	overrideString(&cfg.Transcription.Mode, "QUILL_TRANSCRIPTION_MODE")
	overrideString(&cfg.Transcription.Endpoint, "QUILL_TRANSCRIPTION_ENDPOINT")
	overrideString(&cfg.Transcription.APIKey, "QUILL_TRANSCRIPTION_API_KEY")
	overrideString(&cfg.Transcription.Model, "QUILL_TRANSCRIPTION_MODEL")
	overrideString(&cfg.Transcription.Language, "QUILL_TRANSCRIPTION_LANGUAGE")
	overrideString(&cfg.Transcription.Command, "QUILL_TRANSCRIPTION_COMMAND")
	overrideInt(&cfg.Transcription.TimeoutMS, "QUILL_TRANSCRIPTION_TIMEOUT_MS")
	overrideInt(&cfg.Transcription.MaxAttempts, "QUILL_TRANSCRIPTION_MAX_ATTEMPTS")
	overrideInt(&cfg.Transcription.InitialBackoffMS, "QUILL_TRANSCRIPTION_INITIAL_BACKOFF_MS")
	overrideBool(&cfg.Transcription.EnableHTTP2, "QUILL_TRANSCRIPTION_ENABLE_HTTP2")
	overrideBool(&cfg.Cleaning.RemoveFillers, "QUILL_CLEANING_REMOVE_FILLERS")
	overrideString(&cfg.Cleaning.CustomPhrases, "QUILL_CLEANING_CUSTOM_PHRASES")
	overrideString(&cfg.Output.Mode, "QUILL_OUTPUT_MODE")
	overrideInt(&cfg.Output.CharIntervalMS, "QUILL_OUTPUT_CHAR_INTERVAL_MS")
	overrideBool(&cfg.Output.Notifications, "QUILL_OUTPUT_NOTIFICATIONS")
	overrideBool(&cfg.History.Enabled, "QUILL_HISTORY_ENABLED")
	overrideString(&cfg.History.Path, "QUILL_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "QUILL_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "QUILL_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxSessions, "QUILL_HISTORY_MAX_SESSIONS")
	overrideBool(&cfg.History.VacuumOnStart, "QUILL_HISTORY_VACUUM_ON_START")
	overrideBool(&cfg.IPC.Enabled, "QUILL_IPC_ENABLED")
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
	if cfg.DaemonName == "" {
		return errors.New("daemon_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Hotkey.Binding == "" {
		return errors.New("hotkey.binding must not be empty")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Audio.FrameSize <= 0 {
		return errors.New("audio.frame_size must be positive")
	}
	if cfg.Audio.MaxRecordingSeconds <= 0 {
		return errors.New("audio.max_recording_seconds must be positive")
	}
	if cfg.Audio.MaxMemoryMB <= 0 {
		return errors.New("audio.max_memory_mb must be positive")
	}
	switch cfg.Transcription.Mode {
	case "http", "openai", "exec", "mock":
		// ok
	default:
		return errors.New("transcription.mode must be one of http|openai|exec|mock")
	}
	if cfg.Transcription.Mode == "http" && cfg.Transcription.Endpoint == "" {
		return errors.New("transcription.endpoint must be set when mode=http")
	}
	if cfg.Transcription.Mode == "exec" && cfg.Transcription.Command == "" {
		return errors.New("transcription.command must be set when mode=exec")
	}
	if cfg.Transcription.MaxAttempts <= 0 {
		return errors.New("transcription.max_attempts must be >= 1")
	}
	switch cfg.Output.Mode {
	case "type", "paste":
		// ok
	default:
		return errors.New("output.mode must be one of type|paste")
	}
	if cfg.Output.CharIntervalMS < 0 {
		return errors.New("output.char_interval_ms must be >= 0")
	}
	if cfg.History.Enabled {
		if cfg.History.Path == "" {
			return errors.New("history.path must not be empty")
		}
		switch cfg.History.RetentionMode {
		case "ephemeral", "session", "persistent":
			// ok
		default:
			return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
		}
		if cfg.History.RetentionDays < 0 {
			return errors.New("history.retention_days must be >= 0")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}
