// Package config handles input from etc/*.toml files
package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/BurntSushi/toml"
)

// ReadConfig from config file.
func ReadConfig(path string) (Config, error) {
	var (
		c             Config
		JSONConfigEnv string
		err           error
	)

	// Read main configuration
	if path == "" {
		path = "./etc/"
	}

	if _, err = toml.DecodeFile(path+"main.toml", &c); err != nil {
		return Config{}, errors.Wrap(err, "failed to read main config file")
	}

	// override it from env
	JSONConfigEnv = os.Getenv("BK_USER_SYNC_CONFIG_JSON")

	if JSONConfigEnv != "" {
		c, err = decodeAndMergeConfig(c, JSONConfigEnv)
		if err != nil {
			return c, err
		}
	}

	return c, validate(&c)
}

func decodeAndMergeConfig(c Config, configAsJSON string) (Config, error) {
	err := json.Unmarshal([]byte(configAsJSON), &c)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to read main config file")
	}

	return c, nil
}

// DumpConfig config as TOML String.
func DumpConfig(c *Config) (string, error) {
	var buffer bytes.Buffer
	t := toml.NewEncoder(&buffer)

	if err := t.Encode(c); err != nil {
		return "", err //nolint: wrapcheck
	}

	return buffer.String(), nil
}

// DumpConfigJSON config as JSON String.
func DumpConfigJSON(c *Config) (string, error) {
	var buffer bytes.Buffer
	j := json.NewEncoder(&buffer)
	j.SetIndent("", "  ")

	if err := j.Encode(c); err != nil {
		return "", err //nolint: wrapcheck
	}

	return buffer.String(), nil
}

// validate minimal config settings for the sync engine and fill in defaults
// for the optional knobs.
func validate(c *Config) error {
	invalidErrMessage := "invalid config"

	switch c.Lock.Backend {
	case "", "memory":
		c.Lock.Backend = "memory"
	case "redis":
		if c.Lock.RedisAddr == "" {
			return errors.Wrap(ErrEmptyRedisAddr, invalidErrMessage)
		}
	default:
		return errors.Wrap(ErrUnknownLockBackend, invalidErrMessage)
	}

	if c.Sync.SchedulerIntervalSeconds == 0 {
		c.Sync.SchedulerIntervalSeconds = 60
	}

	if c.Sync.ReapIntervalSeconds == 0 {
		c.Sync.ReapIntervalSeconds = 3600
	}

	if c.Sync.TaskCeilingHours == 0 {
		c.Sync.TaskCeilingHours = 24
	}

	if c.Sync.LockTTLMinutes == 0 {
		c.Sync.LockTTLMinutes = 120
	}

	return nil
}
