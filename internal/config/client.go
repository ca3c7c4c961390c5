package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// ClientConfig configures the headless participant.
type ClientConfig struct {
	Server   string `mapstructure:"server"`
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`

	ICEServers []string `mapstructure:"ice_servers"`

	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectBase     time.Duration `mapstructure:"reconnect_base"`
	PingPeriod        time.Duration `mapstructure:"ping_period"`

	// ToneHz is the pitch of the synthetic microphone.
	ToneHz float64 `mapstructure:"tone_hz"`
	// ScreenFile is an IVF (VP8) file played as the shared screen.
	ScreenFile string `mapstructure:"screen_file"`
}

// AddClientFlags registers the flags LoadClient understands. Flag names
// match the config keys.
func AddClientFlags(fs *pflag.FlagSet) {
	fs.StringP("server", "s", "ws://localhost:8080/api/ws/signal", "relay signaling URL")
	fs.StringP("name", "n", "", "display name in the room")
	fs.String("log_level", "warn", "log level (debug, info, warn, error)")
	fs.StringSlice("ice_servers", []string{"stun:stun.l.google.com:19302"}, "STUN/TURN urls")
	fs.Int("reconnect_attempts", 5, "relay reconnect attempts before giving up")
	fs.Duration("reconnect_base", time.Second, "reconnect delay, multiplied by the attempt number")
	fs.Float64("tone_hz", 440, "microphone test tone pitch")
	fs.String("screen_file", "", "IVF file to share as the screen")
}

// LoadClient reads config/client.<env>.yaml. Flags set on the command line
// override the file.
func LoadClient(fs *pflag.FlagSet) (*ClientConfig, error) {
	fileName := fmt.Sprintf("config/client.%s.yaml", env())
	v := newViper(fileName)
	v.SetDefault("server", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("log_level", "warn")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("reconnect_attempts", 5)
	v.SetDefault("reconnect_base", "1s")
	v.SetDefault("ping_period", "30s")
	v.SetDefault("tone_hz", 440)
	read(v, fileName)

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	return &cfg, nil
}
