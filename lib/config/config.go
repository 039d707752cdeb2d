// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/waasabi/waasabi-matrix/lib/secret"
)

// Environment variables consulted by Load and the secret overrides.
const (
	EnvConfig          = "WAASABI_CONFIG"
	EnvMatrixPassword  = "WAASABI_MATRIX_PASSWORD"
	EnvBackendPassword = "WAASABI_BACKEND_PASSWORD"
	EnvAPISecret       = "WAASABI_API_SECRET"
)

// Config is the complete bot configuration.
type Config struct {
	Matrix     MatrixConfig     `yaml:"matrix"`
	API        APIConfig        `yaml:"api"`
	Backend    BackendConfig    `yaml:"backend"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Sync       SyncConfig       `yaml:"sync"`
}

// MatrixConfig configures the bot's homeserver account.
type MatrixConfig struct {
	// Homeserver is the client-server API base URL.
	Homeserver string `yaml:"homeserver"`

	// User is the bot's localpart or full user ID.
	User string `yaml:"user"`

	// Password, or PasswordFile naming a file holding it. When neither
	// is set the binary prompts on a terminal.
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"`

	// Admins are the user IDs allowed to run commands.
	Admins []string `yaml:"admins"`

	// DeviceID and DeviceName identify the bot's login.
	// Default: TBANTADCIL, waasabi-matrix
	DeviceID   string `yaml:"device_id"`
	DeviceName string `yaml:"device_name"`
}

// APIConfig configures the control-plane HTTP API.
type APIConfig struct {
	// Listen is the host:port to bind.
	Listen string `yaml:"listen"`

	// Secret is the shared api_key, or SecretFile naming a file holding it.
	Secret     string `yaml:"secret"`
	SecretFile string `yaml:"secret_file"`
}

// BackendConfig configures the event backend.
type BackendConfig struct {
	// Host is the backend base URL.
	Host string `yaml:"host"`

	// User and Password (or PasswordFile) are the backend login.
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"`

	// IntegrationsEndpoint is the event kind used to publish the room list.
	// Default: event-manager/integrations
	IntegrationsEndpoint string `yaml:"integrations_endpoint"`

	// ReceivedBy tags every payload with the bot's identity.
	// Default: ferris-bot
	ReceivedBy string `yaml:"received_by"`

	// MQTT optionally mirrors every backend event to a broker.
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig configures the optional MQTT mirror. An empty Broker
// disables it.
type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	TopicPrefix  string `yaml:"topic_prefix"`
	ClientID     string `yaml:"client_id"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"`
}

// Enabled reports whether an MQTT broker is configured.
func (c MQTTConfig) Enabled() bool { return c.Broker != "" }

// DispatcherConfig configures the rate-limited side-effect worker.
type DispatcherConfig struct {
	// RatePerMinute is the sustained task rate. Default: 60
	RatePerMinute int `yaml:"rate_per_minute"`

	// Burst is the token bucket size. Default: RatePerMinute
	Burst int `yaml:"burst"`
}

// SyncConfig configures the /sync loop.
type SyncConfig struct {
	// PollTimeout bounds each long-poll. Default: 30s
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// InviteAttempts is the retry budget for failed joins. Default: 3
	InviteAttempts int `yaml:"invite_attempts"`
}

// Default returns a Config with every optional field at its default.
func Default() *Config {
	return &Config{
		Matrix: MatrixConfig{
			DeviceID:   "TBANTADCIL",
			DeviceName: "waasabi-matrix",
		},
		Backend: BackendConfig{
			IntegrationsEndpoint: "event-manager/integrations",
			ReceivedBy:           "ferris-bot",
			MQTT: MQTTConfig{
				TopicPrefix: "waasabi",
				ClientID:    "waasabi-matrix",
			},
		},
		Dispatcher: DispatcherConfig{
			RatePerMinute: 60,
		},
		Sync: SyncConfig{
			PollTimeout:    30 * time.Second,
			InviteAttempts: 3,
		},
	}
}

// Load loads the file named by WAASABI_CONFIG. envFile is passed to
// LoadFile.
func Load(envFile string) (*Config, error) {
	configPath := os.Getenv(EnvConfig)
	if configPath == "" {
		return nil, fmt.Errorf("config: %s environment variable not set; "+
			"set it to the path of your config file, or use --config", EnvConfig)
	}
	return LoadFile(configPath, envFile)
}

// LoadFile loads configuration from path, then applies secret
// overrides from the environment and from envFile. An empty envFile
// means ".env" in the config file's directory, skipped if absent.
func LoadFile(path, envFile string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	dotenv, err := readEnvFile(path, envFile)
	if err != nil {
		return nil, err
	}
	cfg.applySecretOverrides(func(name string) string {
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return dotenv[name]
	})
	cfg.applyDerivedDefaults()
	return cfg, nil
}

// loadFile decodes path into c. Unknown keys are errors.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// YAML is a superset of JSON, so JSONC reduces to the YAML decoder.
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func readEnvFile(configPath, envFile string) (map[string]string, error) {
	if envFile == "" {
		envFile = filepath.Join(filepath.Dir(configPath), ".env")
		if _, err := os.Stat(envFile); errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
	}
	values, err := godotenv.Read(envFile)
	if err != nil {
		return nil, fmt.Errorf("config: reading env file %s: %w", envFile, err)
	}
	return values, nil
}

// applySecretOverrides replaces secrets with non-empty values from
// lookup. An override clears the matching *_file field.
func (c *Config) applySecretOverrides(lookup func(string) string) {
	if value := lookup(EnvMatrixPassword); value != "" {
		c.Matrix.Password, c.Matrix.PasswordFile = value, ""
	}
	if value := lookup(EnvBackendPassword); value != "" {
		c.Backend.Password, c.Backend.PasswordFile = value, ""
	}
	if value := lookup(EnvAPISecret); value != "" {
		c.API.Secret, c.API.SecretFile = value, ""
	}
}

func (c *Config) applyDerivedDefaults() {
	if c.Dispatcher.Burst == 0 {
		c.Dispatcher.Burst = c.Dispatcher.RatePerMinute
	}
}

// Validate checks the configuration and reports every problem found.
// A missing Matrix password is not an error; the caller may prompt.
func (c *Config) Validate() error {
	var errs []error

	if c.Matrix.Homeserver == "" {
		errs = append(errs, errors.New("matrix.homeserver is required"))
	} else if err := validateHTTPURL(c.Matrix.Homeserver); err != nil {
		errs = append(errs, fmt.Errorf("matrix.homeserver: %w", err))
	}
	if c.Matrix.User == "" {
		errs = append(errs, errors.New("matrix.user is required"))
	}
	if c.Matrix.Password != "" && c.Matrix.PasswordFile != "" {
		errs = append(errs, errors.New("matrix.password and matrix.password_file are mutually exclusive"))
	}
	if c.Matrix.DeviceID == "" {
		errs = append(errs, errors.New("matrix.device_id must not be empty"))
	}

	if c.API.Listen == "" {
		errs = append(errs, errors.New("api.listen is required"))
	} else if _, _, err := net.SplitHostPort(c.API.Listen); err != nil {
		errs = append(errs, fmt.Errorf("api.listen: %w", err))
	}
	errs = appendSecretErrors(errs, "api.secret", "api.secret_file", c.API.Secret, c.API.SecretFile, EnvAPISecret)

	if c.Backend.Host == "" {
		errs = append(errs, errors.New("backend.host is required"))
	} else if err := validateHTTPURL(c.Backend.Host); err != nil {
		errs = append(errs, fmt.Errorf("backend.host: %w", err))
	}
	if c.Backend.User == "" {
		errs = append(errs, errors.New("backend.user is required"))
	}
	errs = appendSecretErrors(errs, "backend.password", "backend.password_file", c.Backend.Password, c.Backend.PasswordFile, EnvBackendPassword)
	if c.Backend.IntegrationsEndpoint == "" {
		errs = append(errs, errors.New("backend.integrations_endpoint must not be empty"))
	}
	if c.Backend.MQTT.Password != "" && c.Backend.MQTT.PasswordFile != "" {
		errs = append(errs, errors.New("backend.mqtt.password and backend.mqtt.password_file are mutually exclusive"))
	}

	if c.Dispatcher.RatePerMinute <= 0 {
		errs = append(errs, fmt.Errorf("dispatcher.rate_per_minute must be positive, got %d", c.Dispatcher.RatePerMinute))
	}
	if c.Dispatcher.Burst < 0 {
		errs = append(errs, fmt.Errorf("dispatcher.burst must not be negative, got %d", c.Dispatcher.Burst))
	}

	if c.Sync.PollTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sync.poll_timeout must be positive, got %s", c.Sync.PollTimeout))
	}
	if c.Sync.InviteAttempts <= 0 {
		errs = append(errs, fmt.Errorf("sync.invite_attempts must be positive, got %d", c.Sync.InviteAttempts))
	}

	return errors.Join(errs...)
}

func appendSecretErrors(errs []error, valueKey, fileKey, value, file, envName string) []error {
	switch {
	case value != "" && file != "":
		return append(errs, fmt.Errorf("%s and %s are mutually exclusive", valueKey, fileKey))
	case value == "" && file == "":
		return append(errs, fmt.Errorf("%s is required (or %s, or %s)", valueKey, fileKey, envName))
	}
	return errs
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// OpenSecret moves an inline secret or the contents of file into a
// secret.Buffer. Returns nil, nil when both are empty. The caller owns
// the buffer and must Close it.
func OpenSecret(value, file string) (*secret.Buffer, error) {
	switch {
	case value != "" && file != "":
		return nil, errors.New("config: secret given both inline and as a file")
	case value != "":
		return secret.NewFromString(value)
	case file != "":
		buffer, err := secret.ReadFromPath(file)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		return buffer, nil
	}
	return nil, nil
}
