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
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Node        NodeConfig      `yaml:"node"`
	Cache       CacheConfig     `yaml:"cache"`
	Synth       SynthConfig     `yaml:"synth"`
	Playback    PlaybackConfig  `yaml:"playback"`
	Speech      SpeechConfig    `yaml:"speech"`
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
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type CacheConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	Directory     string `yaml:"directory"`
	MaxBytes      int64  `yaml:"max_bytes"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SynthConfig struct {
	Engine       string `yaml:"engine"` // mock, exec, polly
	Command      string `yaml:"command"`
	Region       string `yaml:"region"`
	DefaultVoice string `yaml:"default_voice"`
	OutputFormat string `yaml:"output_format"`
	TextType     string `yaml:"text_type"`
	SampleRate   int    `yaml:"sample_rate"`
	Channels     int    `yaml:"channels"`
	TimeoutMS    int    `yaml:"timeout_ms"`
}

type PlaybackConfig struct {
	Mode       string `yaml:"mode"` // mock, oto
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type SpeechConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Policy   string `yaml:"policy"` // queue, preempt
	MaxQueue int    `yaml:"max_queue"`
}

func Default() Config {
	return Config{
		RuntimeName: "voxd",
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
		},
		Node: NodeConfig{
			ID:                "voxd-node-1",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Path:      "./data/voxd-cache.db",
			Directory: "./data/voices",
			MaxBytes:  100_000_000,
		},
		Synth: SynthConfig{
			Engine:       "mock",
			DefaultVoice: "Joanna",
			OutputFormat: "ogg_vorbis",
			TextType:     "text",
			SampleRate:   22050,
			Channels:     1,
			TimeoutMS:    45000,
		},
		Playback: PlaybackConfig{
			Mode:       "mock",
			SampleRate: 22050,
			Channels:   1,
		},
		Speech: SpeechConfig{
			Enabled:  true,
			Policy:   "queue",
			MaxQueue: 16,
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
	overrideString(&cfg.RuntimeName, "VOXD_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOXD_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOXD_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXD_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOXD_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXD_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXD_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOXD_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOXD_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOXD_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOXD_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOXD_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOXD_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOXD_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOXD_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOXD_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "VOXD_NODE_ID")
	overrideInt(&cfg.Node.HeartbeatInterval, "VOXD_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "VOXD_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideBool(&cfg.Cache.Enabled, "VOXD_CACHE_ENABLED")
	overrideString(&cfg.Cache.Path, "VOXD_CACHE_PATH")
	overrideString(&cfg.Cache.Directory, "VOXD_CACHE_DIRECTORY")
	overrideInt64(&cfg.Cache.MaxBytes, "VOXD_CACHE_MAX_BYTES")
	overrideBool(&cfg.Cache.VacuumOnStart, "VOXD_CACHE_VACUUM_ON_START")
	overrideString(&cfg.Synth.Engine, "VOXD_SYNTH_ENGINE")
	overrideString(&cfg.Synth.Command, "VOXD_SYNTH_COMMAND")
	overrideString(&cfg.Synth.Region, "VOXD_SYNTH_REGION")
	overrideString(&cfg.Synth.DefaultVoice, "VOXD_SYNTH_DEFAULT_VOICE")
	overrideString(&cfg.Synth.OutputFormat, "VOXD_SYNTH_OUTPUT_FORMAT")
	overrideString(&cfg.Synth.TextType, "VOXD_SYNTH_TEXT_TYPE")
	overrideInt(&cfg.Synth.SampleRate, "VOXD_SYNTH_SAMPLE_RATE")
	overrideInt(&cfg.Synth.Channels, "VOXD_SYNTH_CHANNELS")
	overrideInt(&cfg.Synth.TimeoutMS, "VOXD_SYNTH_TIMEOUT_MS")
	overrideString(&cfg.Playback.Mode, "VOXD_PLAYBACK_MODE")
	overrideInt(&cfg.Playback.SampleRate, "VOXD_PLAYBACK_SAMPLE_RATE")
	overrideInt(&cfg.Playback.Channels, "VOXD_PLAYBACK_CHANNELS")
	overrideBool(&cfg.Speech.Enabled, "VOXD_SPEECH_ENABLED")
	overrideString(&cfg.Speech.Policy, "VOXD_SPEECH_POLICY")
	overrideInt(&cfg.Speech.MaxQueue, "VOXD_SPEECH_MAX_QUEUE")
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

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
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
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if cfg.Cache.Enabled {
		if cfg.Cache.Path == "" {
			return errors.New("cache.path must not be empty when cache is enabled")
		}
		if cfg.Cache.Directory == "" {
			return errors.New("cache.directory must not be empty when cache is enabled")
		}
		if cfg.Cache.MaxBytes <= 0 {
			return errors.New("cache.max_bytes must be positive")
		}
	}
	switch cfg.Synth.Engine {
	case "mock", "exec", "polly":
	default:
		return errors.New("synth.engine must be one of mock|exec|polly")
	}
	if cfg.Synth.Engine == "exec" && cfg.Synth.Command == "" {
		return errors.New("synth.command must be set when engine=exec")
	}
	if cfg.Synth.SampleRate <= 0 {
		return errors.New("synth.sample_rate must be positive")
	}
	if cfg.Synth.Channels <= 0 {
		return errors.New("synth.channels must be positive")
	}
	switch cfg.Playback.Mode {
	case "mock", "oto":
	default:
		return errors.New("playback.mode must be one of mock|oto")
	}
	if cfg.Playback.SampleRate <= 0 {
		return errors.New("playback.sample_rate must be positive")
	}
	if cfg.Playback.Channels <= 0 {
		return errors.New("playback.channels must be positive")
	}
	if cfg.Speech.Enabled {
		switch cfg.Speech.Policy {
		case "queue", "preempt":
		default:
			return errors.New("speech.policy must be one of queue|preempt")
		}
		if cfg.Speech.Policy == "queue" && cfg.Speech.MaxQueue <= 0 {
			return errors.New("speech.max_queue must be >= 1 when policy=queue")
		}
	}
	return nil
}
