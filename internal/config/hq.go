package config

import (
	"fmt"

	"go.uber.org/zap"
)

type HQConfig struct {
	LogLevel  string
	LogFormat string
	KeyPath   string
	Remote    RemoteConfig
}

func LoadHQConfig(path string, logger *zap.Logger) (*HQConfig, error) {
	d := map[string]any{
		"log_level":  "info",
		"log_format": "console",
		"key_path":   "secret.key",
	}
	remoteDefaults(d)
	v, err := newViper(path, d)
	if err != nil {
		return nil, err
	}
	var errs errList

	cfg := &HQConfig{
		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
		KeyPath:   getRequired(v, "key_path", &errs),
		Remote:    loadRemote(v, &errs),
	}

	if errs.has() {
		for _, e := range errs {
			logger.Error("[config] " + e)
		}
		return nil, joinErrs(errs)
	}
	return cfg, nil
}

func (c *HQConfig) String() string {
	return fmt.Sprintf("\nHQ:\n  KeyPath:           %s\n%s", c.KeyPath, c.Remote.String())
}
