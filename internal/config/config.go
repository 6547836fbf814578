package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the typed view over configs/config.yml and HEIZBOX_* env overrides.
type Config struct {
	Port      string
	Log       LogConfig
	DBPath    string
	StatePath string
	HTTP      HTTPConfig
	Device    DeviceConfig
	Session   SessionConfig
	MQTT      MQTTConfig
	Simulator SimulatorConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type HTTPConfig struct {
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// DeviceConfig tunes the per-device coordinator.
type DeviceConfig struct {
	OfflineThreshold     time.Duration
	RecentCycleCacheSize int
	SessionCacheTTL      time.Duration
	DuplicateWindow      time.Duration
	// IdleRetireAfter stops coordinators unused for this long; 0 keeps them.
	IdleRetireAfter      time.Duration
}

// SessionConfig tunes the session aggregation queries.
type SessionConfig struct {
	Lookback            time.Duration
	GroupInterval       time.Duration
	ConsumptionPerCycle float64
	Timezone            string
	DayStartHour        int
}

type MQTTConfig struct {
	Enabled     bool
	Broker      string
	ClientID    string
	TopicPrefix string
}

type SimulatorConfig struct {
	Enabled    bool
	DeviceID   string
	URL        string
	Tick       time.Duration
	CycleEvery int
}

const envPrefix = "HEIZBOX"

// SetDefaults registers a default for every key so a missing config file still yields a usable Config.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("db.path", "app.db")
	v.SetDefault("state.path", "")

	v.SetDefault("http.read_header_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)

	v.SetDefault("device.offline_threshold", 90*time.Second)
	v.SetDefault("device.recent_cycle_cache_size", 10)
	v.SetDefault("device.session_cache_ttl", 5*time.Second)
	v.SetDefault("device.duplicate_window", 30*time.Second)
	v.SetDefault("device.idle_retire_after", 10*time.Minute)

	v.SetDefault("session.lookback", 2*time.Hour)
	v.SetDefault("session.group_interval", 60*time.Minute)
	v.SetDefault("session.consumption_per_cycle", 0.05)
	v.SetDefault("session.timezone", "Europe/Berlin")
	v.SetDefault("session.day_start_hour", 9)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "heizbox-backend")
	v.SetDefault("mqtt.topic_prefix", "heizbox")

	v.SetDefault("simulator.enabled", false)
	v.SetDefault("simulator.device_id", "esp32-dev")
	v.SetDefault("simulator.url", "ws://localhost:8080/ws")
	v.SetDefault("simulator.tick", 30*time.Second)
	v.SetDefault("simulator.cycle_every", 4)
}

// Load reads the config file (configs/config.yml unless path is set) into v.
// A missing file is not an error; defaults and env still apply.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("configs")
		v.SetConfigName("config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := FromViper(v)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromViper maps viper keys onto Config.
func FromViper(v *viper.Viper) Config {
	return Config{
		Port:      v.GetString("port"),
		Log:       LogConfig{Level: v.GetString("log.level"), Format: v.GetString("log.format")},
		DBPath:    v.GetString("db.path"),
		StatePath: v.GetString("state.path"),
		HTTP: HTTPConfig{
			ReadHeaderTimeout: v.GetDuration("http.read_header_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
		},
		Device: DeviceConfig{
			OfflineThreshold:     v.GetDuration("device.offline_threshold"),
			RecentCycleCacheSize: v.GetInt("device.recent_cycle_cache_size"),
			SessionCacheTTL:      v.GetDuration("device.session_cache_ttl"),
			DuplicateWindow:      v.GetDuration("device.duplicate_window"),
			IdleRetireAfter:      v.GetDuration("device.idle_retire_after"),
		},
		Session: SessionConfig{
			Lookback:            v.GetDuration("session.lookback"),
			GroupInterval:       v.GetDuration("session.group_interval"),
			ConsumptionPerCycle: v.GetFloat64("session.consumption_per_cycle"),
			Timezone:            v.GetString("session.timezone"),
			DayStartHour:        v.GetInt("session.day_start_hour"),
		},
		MQTT: MQTTConfig{
			Enabled:     v.GetBool("mqtt.enabled"),
			Broker:      v.GetString("mqtt.broker"),
			ClientID:    v.GetString("mqtt.client_id"),
			TopicPrefix: v.GetString("mqtt.topic_prefix"),
		},
		Simulator: SimulatorConfig{
			Enabled:    v.GetBool("simulator.enabled"),
			DeviceID:   v.GetString("simulator.device_id"),
			URL:        v.GetString("simulator.url"),
			Tick:       v.GetDuration("simulator.tick"),
			CycleEvery: v.GetInt("simulator.cycle_every"),
		},
	}
}

// Validate rejects values the coordinator cannot run with.
func (c Config) Validate() error {
	if c.Device.OfflineThreshold <= 0 {
		return fmt.Errorf("device.offline_threshold must be positive, got %s", c.Device.OfflineThreshold)
	}
	if c.Device.RecentCycleCacheSize <= 0 {
		return fmt.Errorf("device.recent_cycle_cache_size must be positive, got %d", c.Device.RecentCycleCacheSize)
	}
	if c.Device.DuplicateWindow <= 0 {
		return fmt.Errorf("device.duplicate_window must be positive, got %s", c.Device.DuplicateWindow)
	}
	if c.Device.IdleRetireAfter < 0 {
		return fmt.Errorf("device.idle_retire_after must not be negative, got %s", c.Device.IdleRetireAfter)
	}
	if c.Session.DayStartHour < 0 || c.Session.DayStartHour > 23 {
		return fmt.Errorf("session.day_start_hour out of range: %d", c.Session.DayStartHour)
	}
	if c.Session.Lookback <= 0 {
		return fmt.Errorf("session.lookback must be positive, got %s", c.Session.Lookback)
	}
	if c.Session.GroupInterval <= 0 {
		return fmt.Errorf("session.group_interval must be positive, got %s", c.Session.GroupInterval)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when mqtt.enabled is true")
	}
	return nil
}
