package agent

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// ConfigPath is where the agent expects to find its JSON configuration file.
const ConfigPath = "/etc/warden/agent.conf"

const defaultStateDir = "/var/lib/warden"

// Config represents the agent configuration stored on disk. VerifyKey is the
// base64 Ed25519 public key of the control plane; descriptors failing that
// check are refused no matter what token they carry.
type Config struct {
	API       string `json:"api"`
	Listen    string `json:"listen"`
	VerifyKey string `json:"verify_key"`
	ChatID    string `json:"chat_id"`
	StateDir  string `json:"state_dir"`
}

func loadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if strings.TrimSpace(cfg.API) == "" {
		return Config{}, fmt.Errorf("config missing api field")
	}
	if err := ensureHTTPS(cfg.API, allowInsecureHTTP()); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.VerifyKey) == "" {
		return Config{}, fmt.Errorf("config missing verify_key field")
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = ":8090"
	}
	if strings.TrimSpace(cfg.StateDir) == "" {
		cfg.StateDir = defaultStateDir
	}

	return cfg, nil
}

func allowInsecureHTTP() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv("WARDEN_ALLOW_INSECURE_HTTP")))
	switch value {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func ensureHTTPS(raw string, allowInsecure bool) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse api url: %w", err)
	}

	switch parsed.Scheme {
	case "https":
		return nil
	case "http", "":
		if allowInsecure {
			return nil
		}
		if parsed.Scheme == "" {
			return fmt.Errorf("api url must include https scheme")
		}
		return fmt.Errorf("api url must use https: %s", raw)
	default:
		if allowInsecure {
			return nil
		}
		return fmt.Errorf("api url must use https: %s", raw)
	}
}
