// Package config loads the Mindney CLI profile: the embedded defaults,
// config.yaml, a .env file and MINDNEY_* environment variables, in that
// order of increasing precedence. Secrets missing from all of them are
// looked up in the platform secret store.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	defaults "github.com/mindney/mindney-go/config"
	"github.com/mindney/mindney-go/internal/secrets"
	"github.com/mindney/mindney-go/pkg/client"
)

// Environment variables that override the profile.
const (
	EnvEndpoint    = "MINDNEY_ENDPOINT"
	EnvClientID    = "MINDNEY_CLIENT_ID"
	EnvAPIKey      = "MINDNEY_API_KEY"
	EnvSecretToken = "MINDNEY_SECRET_TOKEN"
	EnvDebug       = "MINDNEY_DEBUG"
	EnvLogLevel    = "MINDNEY_LOG_LEVEL"
)

// RateLimit paces outbound requests. PerSecond <= 0 disables it.
type RateLimit struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// Log configures internal/logging.
type Log struct {
	Level      string   `yaml:"level"`
	File       string   `yaml:"file"`
	JSON       bool     `yaml:"json"`
	Components []string `yaml:"components"`
}

// Profile is the CLI configuration.
type Profile struct {
	Endpoint    string    `yaml:"endpoint"`
	ClientID    string    `yaml:"client_id"`
	APIKey      string    `yaml:"api_key"`
	SecretToken string    `yaml:"secret_token"`
	Debug       bool      `yaml:"debug"`
	Reconnect   bool      `yaml:"reconnect"`
	RateLimit   RateLimit `yaml:"rate_limit"`
	Log         Log       `yaml:"log"`
}

// Default returns the embedded default profile.
func Default() (*Profile, error) {
	p := &Profile{}
	if err := decode(defaults.DefaultConfigYAML, p); err != nil {
		return nil, fmt.Errorf("embedded default config: %w", err)
	}
	return p, nil
}

// Parse decodes YAML data over the embedded defaults. Unknown keys are an error.
func Parse(data []byte) (*Profile, error) {
	p, err := Default()
	if err != nil {
		return nil, err
	}
	if err := decode(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return p, nil
}

func decode(data []byte, p *Profile) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Load reads the profile at path. A missing file yields the defaults.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// LoadDotEnv loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides profile fields from MINDNEY_* variables found by lookup.
// Pass os.LookupEnv in production.
func (p *Profile) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		EnvEndpoint:    &p.Endpoint,
		EnvClientID:    &p.ClientID,
		EnvAPIKey:      &p.APIKey,
		EnvSecretToken: &p.SecretToken,
		EnvLogLevel:    &p.Log.Level,
	}
	for name, field := range str {
		if v, ok := lookup(name); ok && v != "" {
			*field = v
		}
	}
	if v, ok := lookup(EnvDebug); ok && v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDebug, err)
		}
		p.Debug = debug
	}
	return nil
}

// ResolveSecrets fills an empty api key or secret token from store, keyed by
// the profile's client id. An unsupported or empty store is not an error;
// client.New reports whatever is still missing.
func (p *Profile) ResolveSecrets(store secrets.SecretStore) error {
	if p.ClientID == "" || (p.APIKey != "" && p.SecretToken != "") {
		return nil
	}
	pair, err := secrets.Load(store, p.ClientID)
	if errors.Is(err, secrets.ErrNotFound) || errors.Is(err, secrets.ErrNotSupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read credentials for %s: %w", p.ClientID, err)
	}
	if p.APIKey == "" {
		p.APIKey = pair.APIKey
	}
	if p.SecretToken == "" {
		p.SecretToken = pair.SecretToken
	}
	return nil
}

// ClientConfig converts the profile to a client.Config.
func (p *Profile) ClientConfig() client.Config {
	return client.Config{
		Credentials: client.Credentials{
			ClientID:    strings.TrimSpace(p.ClientID),
			APIKey:      p.APIKey,
			SecretToken: p.SecretToken,
		},
		Endpoint: p.Endpoint,
		Debug:    p.Debug,
	}
}

// ClientOptions returns the client options the profile implies.
func (p *Profile) ClientOptions() []client.Option {
	opts := []client.Option{client.WithReconnect(p.Reconnect)}
	if p.RateLimit.PerSecond > 0 {
		burst := p.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		opts = append(opts, client.WithRateLimit(rate.Limit(p.RateLimit.PerSecond), burst))
	}
	return opts
}
