// Package config resolves server configuration from the environment, with
// an optional YAML deploy profile for region/cadence overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Config is the resolved server configuration.
type Config struct {
	Port      string
	ServiceID string

	// APIURL is the matchmaking API base; JWKSURL defaults to its
	// .well-known path when unset.
	APIURL  string
	JWKSURL string

	TokenIssuer string

	SigningKeyID  string
	SigningSecret string

	SimTickHz         int
	NetworkHz         int
	FullSnapshotEvery int // in network ticks

	DeployRegion   string
	RedisAddr      string
	AllowedOrigins []string
}

// DeployProfile is the optional YAML override file, one per region.
type DeployProfile struct {
	Region            string `yaml:"region"`
	SimTickHz         int    `yaml:"sim_tick_hz"`
	NetworkHz         int    `yaml:"network_hz"`
	FullSnapshotEvery int    `yaml:"full_snapshot_every"`
}

// Load resolves configuration from the environment. SERVICE_ID, API_URL,
// SIGNING_KEY_ID and SIGNING_SECRET are required.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          envOr("PORT", "3000"),
		ServiceID:     os.Getenv("SERVICE_ID"),
		APIURL:        strings.TrimRight(os.Getenv("API_URL"), "/"),
		JWKSURL:       os.Getenv("JWKS_URL"),
		TokenIssuer:   os.Getenv("TOKEN_ISSUER"),
		SigningKeyID:  os.Getenv("SIGNING_KEY_ID"),
		SigningSecret: os.Getenv("SIGNING_SECRET"),
		DeployRegion:  envOr("DEPLOY_REGION", "local"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
	}

	var missing []string
	for _, v := range []struct{ name, val string }{
		{"SERVICE_ID", cfg.ServiceID},
		{"API_URL", cfg.APIURL},
		{"SIGNING_KEY_ID", cfg.SigningKeyID},
		{"SIGNING_SECRET", cfg.SigningSecret},
	} {
		if v.val == "" {
			missing = append(missing, v.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment: %s", strings.Join(missing, ", "))
	}

	if cfg.JWKSURL == "" {
		cfg.JWKSURL = cfg.APIURL + "/.well-known/jwks.json"
	}

	var err error
	if cfg.SimTickHz, err = envInt("SIM_TICK_HZ", 60); err != nil {
		return nil, err
	}
	if cfg.NetworkHz, err = envInt("NETWORK_HZ", cfg.SimTickHz); err != nil {
		return nil, err
	}
	if cfg.FullSnapshotEvery, err = envInt("FULL_SNAPSHOT_INTERVAL_NET_TICKS", cfg.NetworkHz); err != nil {
		return nil, err
	}
	if cfg.SimTickHz <= 0 || cfg.NetworkHz <= 0 || cfg.NetworkHz > cfg.SimTickHz {
		return nil, fmt.Errorf("invalid cadence: sim %d Hz, net %d Hz", cfg.SimTickHz, cfg.NetworkHz)
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	if path := os.Getenv("DEPLOY_PROFILE"); path != "" {
		profile, err := LoadDeployProfile(path)
		if err != nil {
			return nil, err
		}
		cfg.applyProfile(profile)
	}

	return cfg, nil
}

// LoadDeployProfile reads a YAML deploy profile.
func LoadDeployProfile(path string) (*DeployProfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open deploy profile: %w", err)
	}
	defer f.Close()

	var p DeployProfile
	if err := yaml.NewDecoder(f).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode deploy profile: %w", err)
	}
	return &p, nil
}

func (c *Config) applyProfile(p *DeployProfile) {
	if p.Region != "" {
		c.DeployRegion = p.Region
	}
	if p.SimTickHz > 0 {
		c.SimTickHz = p.SimTickHz
	}
	if p.NetworkHz > 0 {
		c.NetworkHz = p.NetworkHz
	}
	if p.FullSnapshotEvery > 0 {
		c.FullSnapshotEvery = p.FullSnapshotEvery
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
