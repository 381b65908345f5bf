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
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	StdoutTraces bool   `yaml:"stdout_traces"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Node        NodeConfig      `yaml:"node"`
	History     HistoryConfig   `yaml:"history"`
	Cache       CacheConfig     `yaml:"cache"`
	TTS         TTSConfig       `yaml:"tts"`
	Voices      []VoiceConfig   `yaml:"voices"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	Announce          bool   `yaml:"announce"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEntries    int    `yaml:"max_entries"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// CacheConfig controls the sentence cache. An empty Dir disables caching.
type CacheConfig struct {
	Dir           string `yaml:"dir"`
	MemoryEntries int    `yaml:"memory_entries"`
}

type TTSConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Mode            string   `yaml:"mode"` // mock, exec
	Command         string   `yaml:"command"`
	DefaultVoice    string   `yaml:"default_voice"`
	PlayCommand     string   `yaml:"play_command"`
	Volume          *float64 `yaml:"volume"`
	FinishedSlackMS int      `yaml:"finished_slack_ms"`
	SynthTimeoutMS  int      `yaml:"synth_timeout_ms"`
	SampleRate      int      `yaml:"sample_rate"`
	Channels        int      `yaml:"channels"`
	SiteIDs         []string `yaml:"site_ids"`
}

type VoiceConfig struct {
	Name        string `yaml:"name"`
	Language    string `yaml:"language"`
	ModelType   string `yaml:"model_type"`
	ModelPath   string `yaml:"model_path"`
	VocoderType string `yaml:"vocoder_type"`
	VocoderPath string `yaml:"vocoder_path"`
	SampleRate  int    `yaml:"sample_rate"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-tts",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "loqa-tts-1",
			Role:              "tts",
			Announce:          true,
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		History: HistoryConfig{
			Path:          "./data/loqa-tts-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxEntries:    10000,
		},
		Cache: CacheConfig{
			Dir:           "",
			MemoryEntries: 64,
		},
		TTS: TTSConfig{
			Enabled:         true,
			Mode:            "mock",
			DefaultVoice:    "default",
			FinishedSlackMS: 250,
			SynthTimeoutMS:  45000,
			SampleRate:      22050,
			Channels:        1,
		},
		Voices: []VoiceConfig{
			{Name: "default", SampleRate: 22050},
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
	overrideString(&cfg.RuntimeName, "LOQA_TTS_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_TTS_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_TTS_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_TTS_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TTS_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TTS_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TTS_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "LOQA_TTS_TELEMETRY_STDOUT_TRACES")
	overrideBool(&cfg.Bus.Embedded, "LOQA_TTS_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_TTS_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_TTS_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_TTS_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_TTS_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_TTS_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_TTS_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_TTS_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_TTS_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "LOQA_TTS_NODE_ID")
	overrideBool(&cfg.Node.Announce, "LOQA_TTS_NODE_ANNOUNCE")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_TTS_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "LOQA_TTS_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.History.Path, "LOQA_TTS_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "LOQA_TTS_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "LOQA_TTS_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxEntries, "LOQA_TTS_HISTORY_MAX_ENTRIES")
	overrideBool(&cfg.History.VacuumOnStart, "LOQA_TTS_HISTORY_VACUUM_ON_START")
	overrideString(&cfg.Cache.Dir, "LOQA_TTS_CACHE_DIR")
	overrideInt(&cfg.Cache.MemoryEntries, "LOQA_TTS_CACHE_MEMORY_ENTRIES")
	overrideBool(&cfg.TTS.Enabled, "LOQA_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_TTS_COMMAND")
	overrideString(&cfg.TTS.DefaultVoice, "LOQA_TTS_DEFAULT_VOICE")
	overrideString(&cfg.TTS.PlayCommand, "LOQA_TTS_PLAY_COMMAND")
	overrideFloatPtr(&cfg.TTS.Volume, "LOQA_TTS_VOLUME")
	overrideInt(&cfg.TTS.FinishedSlackMS, "LOQA_TTS_FINISHED_SLACK_MS")
	overrideInt(&cfg.TTS.SynthTimeoutMS, "LOQA_TTS_SYNTH_TIMEOUT_MS")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "LOQA_TTS_CHANNELS")
	overrideStringSlice(&cfg.TTS.SiteIDs, "LOQA_TTS_SITE_IDS")
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

func overrideFloatPtr(target **float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = &parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
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
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.Announce {
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
		}
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionMode != "ephemeral" && cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	if cfg.Cache.MemoryEntries < 0 {
		return errors.New("cache.memory_entries must be >= 0")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "exec":
		default:
			return errors.New("tts.mode must be one of mock|exec")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
		if cfg.TTS.Channels <= 0 {
			return errors.New("tts.channels must be positive")
		}
		if cfg.TTS.FinishedSlackMS < 0 {
			return errors.New("tts.finished_slack_ms must be >= 0")
		}
		if cfg.TTS.DefaultVoice == "" {
			return errors.New("tts.default_voice must not be empty")
		}
		if len(cfg.Voices) == 0 {
			return errors.New("voices must not be empty when tts is enabled")
		}
	}
	seen := make(map[string]struct{}, len(cfg.Voices))
	for _, v := range cfg.Voices {
		if v.Name == "" {
			return errors.New("voices[].name must not be empty")
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("voice %q declared more than once", v.Name)
		}
		seen[v.Name] = struct{}{}
	}
	if cfg.TTS.Enabled {
		if _, ok := seen[cfg.TTS.DefaultVoice]; !ok {
			return fmt.Errorf("tts.default_voice %q is not a configured voice", cfg.TTS.DefaultVoice)
		}
	}
	return nil
}
