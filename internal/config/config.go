package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"

	"github.com/wandao/meeting-signal/internal/core"
)

// ICEServer is one configured STUN or TURN entry.
type ICEServer struct {
	Enabled    bool   `mapstructure:"enabled"`
	Type       string `mapstructure:"type"`
	URL        string `mapstructure:"url"`
	Username   string `mapstructure:"username"`
	Credential string `mapstructure:"credential"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	// UserAuth requires a valid join token whose identity matches a
	// configured user. HostProtected is reported to clients in serverInfo
	// so they can show the login screen before joining.
	UserAuth      bool              `mapstructure:"user_auth"`
	HostProtected bool              `mapstructure:"host_protected"`
	Users         []core.Credential `mapstructure:"users"`

	// Presenters is the static allow-list of display names that always
	// get moderator rights.
	Presenters []string `mapstructure:"room_presenters"`

	JWTKey string        `mapstructure:"jwt_key"`
	JWTExp time.Duration `mapstructure:"jwt_exp"`

	ICEServers []ICEServer `mapstructure:"ice_servers"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8686)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("user_auth", false)
	v.SetDefault("host_protected", false)
	v.SetDefault("jwt_key", "meeting_jwt_secret")
	v.SetDefault("jwt_exp", "1h")
	v.SetDefault("ice_servers", []map[string]any{
		{"enabled": true, "type": "stun", "url": "stun:stun.l.google.com:19302"},
	})

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// WebRTCICEServers maps the enabled entries onto the wire type handed to
// peers in addPeer. STUN entries carry no credentials.
func (c *Config) WebRTCICEServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		if !s.Enabled {
			continue
		}
		server := webrtc.ICEServer{URLs: []string{s.URL}}
		if s.Type != "stun" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		out = append(out, server)
	}
	return out
}
