package nodeconfig

import (
	"os"
	"strconv"
	"strings"
	"time"

	"umbra-chat/go-backend/internal/onion"

	"gopkg.in/yaml.v3"
)

type DaemonConfig struct {
	Network DaemonNetworkConfig `yaml:"network"`
}

type DaemonNetworkConfig struct {
	Transport             string        `yaml:"transport"`
	DataDir               string        `yaml:"dataDir"`
	IntroPort             int           `yaml:"introPort"`
	MsgPort               int           `yaml:"msgPort"`
	BootstrapTimeout      time.Duration `yaml:"bootstrapTimeout"`
	DialTimeout           time.Duration `yaml:"dialTimeout"`
	FrameReadTimeout      time.Duration `yaml:"frameReadTimeout"`
	MaxFrameBytes         int           `yaml:"maxFrameBytes"`
	ReconnectInterval     time.Duration `yaml:"reconnectInterval"`
	ReconnectBackoffMax   time.Duration `yaml:"reconnectBackoffMax"`
	CircuitRotateInterval time.Duration `yaml:"circuitRotateInterval"`
	TorDebug              *bool         `yaml:"torDebug"`
}

func LoadFromPath(configPath string) onion.Config {
	cfg := onion.DefaultConfig()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"go-backend/configs/config.yaml",
			"configs/config.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var parsed DaemonConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}

		merged := cfg
		Merge(&merged, parsed.Network)
		ApplyEnvOverrides(&merged)
		return merged
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *onion.Config, src DaemonNetworkConfig) {
	if src.Transport != "" {
		dst.Transport = src.Transport
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.IntroPort != 0 {
		dst.IntroPort = src.IntroPort
	}
	if src.MsgPort != 0 {
		dst.MsgPort = src.MsgPort
	}
	if src.BootstrapTimeout != 0 {
		dst.BootstrapTimeout = src.BootstrapTimeout
	}
	if src.DialTimeout != 0 {
		dst.DialTimeout = src.DialTimeout
	}
	if src.FrameReadTimeout != 0 {
		dst.FrameReadTimeout = src.FrameReadTimeout
	}
	if src.MaxFrameBytes != 0 {
		dst.MaxFrameBytes = src.MaxFrameBytes
	}
	if src.ReconnectInterval != 0 {
		dst.ReconnectInterval = src.ReconnectInterval
	}
	if src.ReconnectBackoffMax != 0 {
		dst.ReconnectBackoffMax = src.ReconnectBackoffMax
	}
	if src.CircuitRotateInterval != 0 {
		dst.CircuitRotateInterval = src.CircuitRotateInterval
	}
	if src.TorDebug != nil {
		dst.TorDebug = *src.TorDebug
	}
}

func ApplyEnvOverrides(cfg *onion.Config) {
	if transport := strings.TrimSpace(os.Getenv("UMBRA_NETWORK_TRANSPORT")); transport != "" {
		cfg.Transport = transport
	}
	if dataDir := strings.TrimSpace(os.Getenv("UMBRA_NETWORK_DATA_DIR")); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if raw := strings.TrimSpace(os.Getenv("UMBRA_CIRCUIT_ROTATE_INTERVAL")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			cfg.CircuitRotateInterval = d
		}
	}
	if raw := strings.TrimSpace(os.Getenv("UMBRA_TOR_DEBUG")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.TorDebug = v
		}
	}
}
