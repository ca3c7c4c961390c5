package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config is the relay server configuration.
type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	// SendBuffer is the outbound frame queue per connection.
	SendBuffer int `mapstructure:"send_buffer"`
	// Policy is applied to a connection whose queue is full: "kick" or "drop".
	Policy       string        `mapstructure:"policy"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

func env() string {
	if e := os.Getenv("CONFIG_ENV"); e != "" {
		return e
	}
	return "dev"
}

func newViper(fileName string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	return v
}

func serverDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("log_level", "info")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("policy", "kick")
	v.SetDefault("rate_limit", 20)
	v.SetDefault("rate_interval", "10s")
}

// read loads the file if present. A missing file is not an error.
func read(v *viper.Viper, fileName string) bool {
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
		return false
	}
	log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	return true
}

func Load() (*Config, error) {
	cfg, _, _, err := load()
	return cfg, err
}

func load() (*Config, *viper.Viper, bool, error) {
	fileName := fmt.Sprintf("config/config.%s.yaml", env())
	v := newViper(fileName)
	serverDefaults(v)
	found := read(v, fileName)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, false, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config")
	return &cfg, v, found, nil
}

// LoadAndWatch loads the server config and calls onChange with the reparsed
// config every time the file changes on disk. Nothing is watched when the
// file does not exist.
func LoadAndWatch(onChange func(*Config)) (*Config, error) {
	cfg, v, found, err := load()
	if err != nil {
		return nil, err
	}
	if !found || onChange == nil {
		return cfg, nil
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var next Config
		if err := v.Unmarshal(&next); err != nil {
			log.Error().Err(err).Str("module", "config").Msg("reload")
			return
		}
		log.Info().Str("module", "config").Str("file", e.Name).Msg("config reloaded")
		onChange(&next)
	})
	v.WatchConfig()
	return cfg, nil
}
