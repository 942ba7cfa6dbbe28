// Package config reads service settings from the environment and an optional YAML file.
// Environment variables win over file values.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileEnv names the environment variable holding the optional config file path.
const FileEnv = "CONFIG_FILE"

type Config struct {
	v *viper.Viper
}

// Load builds a Config over the process environment. When file is non-empty it is read as
// YAML; a missing or malformed file is an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}
	return &Config{v: v}, nil
}

// FromEnv loads the file named by CONFIG_FILE, if any.
func FromEnv() (*Config, error) {
	env, _ := Load("")
	return Load(env.String(FileEnv, ""))
}

func (c *Config) String(key, fallback string) string {
	v := strings.TrimSpace(c.v.GetString(key))
	if v == "" {
		return fallback
	}
	return v
}

func (c *Config) RequiredString(key string) (string, error) {
	v := c.String(key, "")
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func (c *Config) Int(key string, fallback int) (int, error) {
	raw := c.String(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got %q)", key, raw)
	}
	return n, nil
}

// PositiveInt is Int that also rejects values below 1.
func (c *Config) PositiveInt(key string, fallback int) (int, error) {
	n, err := c.Int(key, fallback)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("%s must be positive (got %d)", key, n)
	}
	return n, nil
}

func (c *Config) Bool(key string, fallback bool) bool {
	raw := c.String(key, "")
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}

func (c *Config) Float(key string, fallback float64) float64 {
	raw := c.String(key, "")
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return f
}

// Seconds reads an integer number of seconds.
func (c *Config) Seconds(key string, fallback time.Duration) (time.Duration, error) {
	n, err := c.Int(key, int(fallback/time.Second))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func (c *Config) Port(key, fallback string) (string, error) {
	v := c.String(key, fallback)
	p, err := strconv.Atoi(v)
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("%s must be a valid TCP port (got %q)", key, v)
	}
	return v, nil
}

// List splits a comma-separated value, dropping blanks.
func (c *Config) List(key string) []string {
	var out []string
	for _, part := range strings.Split(c.String(key, ""), ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// UnmarshalKey decodes a nested section of the config file into out using mapstructure tags.
func (c *Config) UnmarshalKey(key string, out any) error {
	if !c.v.IsSet(key) {
		return nil
	}
	if err := c.v.UnmarshalKey(key, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
