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
	Analytics   AnalyticsConfig `yaml:"analytics"`
	History     HistoryConfig   `yaml:"history"`
	Devices     DevicesConfig   `yaml:"devices"`
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

// AnalyticsConfig controls the transcript analytics service.
//
// SourceMode selects the capture collaborator: "bus" drives remote capture
// devices over NATS, "mock" is an in-process stub, and "none" declares that
// no capture capability exists on this deployment (the service then runs
// permanently disabled).
type AnalyticsConfig struct {
	Enabled            bool   `yaml:"enabled"`
	SessionID          string `yaml:"session_id"`
	Language           string `yaml:"language"`
	SnapshotIntervalMS int    `yaml:"snapshot_interval_ms"`
	SourceMode         string `yaml:"source_mode"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type DevicesConfig struct {
	Enabled            bool `yaml:"enabled"`
	HeartbeatTimeoutMS int  `yaml:"heartbeat_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "speechlens-runtime",
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
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Analytics: AnalyticsConfig{
			Enabled:            true,
			SessionID:          "default",
			Language:           "en-US",
			SnapshotIntervalMS: 2000,
			SourceMode:         "bus",
		},
		History: HistoryConfig{
			Path:          "./data/speechlens-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Devices: DevicesConfig{
			Enabled:            true,
			HeartbeatTimeoutMS: 6000,
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
	overrideString(&cfg.RuntimeName, "SPEECHLENS_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SPEECHLENS_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SPEECHLENS_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SPEECHLENS_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SPEECHLENS_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SPEECHLENS_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SPEECHLENS_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SPEECHLENS_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "SPEECHLENS_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SPEECHLENS_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SPEECHLENS_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SPEECHLENS_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SPEECHLENS_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SPEECHLENS_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SPEECHLENS_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SPEECHLENS_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SPEECHLENS_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.Analytics.Enabled, "SPEECHLENS_ANALYTICS_ENABLED")
	overrideString(&cfg.Analytics.SessionID, "SPEECHLENS_ANALYTICS_SESSION_ID")
	overrideString(&cfg.Analytics.Language, "SPEECHLENS_ANALYTICS_LANGUAGE")
	overrideInt(&cfg.Analytics.SnapshotIntervalMS, "SPEECHLENS_ANALYTICS_SNAPSHOT_INTERVAL_MS")
	overrideString(&cfg.Analytics.SourceMode, "SPEECHLENS_ANALYTICS_SOURCE_MODE")
	overrideString(&cfg.History.Path, "SPEECHLENS_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "SPEECHLENS_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "SPEECHLENS_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxSessions, "SPEECHLENS_HISTORY_MAX_SESSIONS")
	overrideBool(&cfg.History.VacuumOnStart, "SPEECHLENS_HISTORY_VACUUM_ON_START")
	overrideBool(&cfg.Devices.Enabled, "SPEECHLENS_DEVICES_ENABLED")
	overrideInt(&cfg.Devices.HeartbeatTimeoutMS, "SPEECHLENS_DEVICES_HEARTBEAT_TIMEOUT_MS")
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
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Analytics.Enabled {
		if cfg.Analytics.SessionID == "" {
			return errors.New("analytics.session_id must not be empty")
		}
		if cfg.Analytics.Language == "" {
			return errors.New("analytics.language must not be empty")
		}
		if cfg.Analytics.SnapshotIntervalMS <= 0 {
			return errors.New("analytics.snapshot_interval_ms must be positive")
		}
		switch cfg.Analytics.SourceMode {
		case "bus", "mock", "none":
			// ok
		default:
			return errors.New("analytics.source_mode must be one of bus|mock|none")
		}
	}
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
	if cfg.Devices.Enabled && cfg.Devices.HeartbeatTimeoutMS <= 0 {
		return errors.New("devices.heartbeat_timeout_ms must be positive when devices are enabled")
	}
	return nil
}
