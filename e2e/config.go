package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_SERVER_ADDR and E2E_PEER_ADDR point at two instances sharing one bus.
	// PeerAddr may equal ServerAddr when a single instance runs.
	ServerAddr string `envconfig:"E2E_SERVER_ADDR"`
	PeerAddr   string `envconfig:"E2E_PEER_ADDR"`
	// E2E_DEBUG_JSON dumps every received frame
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err == nil && cfg.PeerAddr == "" {
		cfg.PeerAddr = cfg.ServerAddr
	}
	return cfg, err
}
