package config

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

type SurvivorConfig struct {
	LogLevel  string
	LogFormat string

	KeyPath     string
	PendingPath string

	DiscoveryPort int
	ScanTimeout   time.Duration

	Attempts       int
	Backoff        time.Duration
	AttemptTimeout time.Duration
}

func survivorDefaults() map[string]any {
	return map[string]any{
		"log_level":       "info",
		"log_format":      "console",
		"key_path":        "secret.key",
		"pending_path":    "my_sos_queue.jsonl",
		"discovery_port":  5005,
		"scan_timeout":    "3s",
		"attempts":        3,
		"backoff":         "2s",
		"attempt_timeout": "15s",
	}
}

func LoadSurvivorConfig(path string, logger *zap.Logger) (*SurvivorConfig, error) {
	v, err := newViper(path, survivorDefaults())
	if err != nil {
		return nil, err
	}
	var errs errList

	cfg := &SurvivorConfig{
		LogLevel:       v.GetString("log_level"),
		LogFormat:      v.GetString("log_format"),
		KeyPath:        getRequired(v, "key_path", &errs),
		PendingPath:    getRequired(v, "pending_path", &errs),
		DiscoveryPort:  v.GetInt("discovery_port"),
		ScanTimeout:    v.GetDuration("scan_timeout"),
		Attempts:       v.GetInt("attempts"),
		Backoff:        v.GetDuration("backoff"),
		AttemptTimeout: v.GetDuration("attempt_timeout"),
	}

	ensurePort("discovery_port", cfg.DiscoveryPort, &errs)
	ensurePositive("scan_timeout", int64(cfg.ScanTimeout), &errs)
	ensurePositive("attempts", int64(cfg.Attempts), &errs)
	ensurePositive("attempt_timeout", int64(cfg.AttemptTimeout), &errs)
	if cfg.Backoff < 0 {
		errs.add("BACKOFF deve ser >= 0")
	}

	if errs.has() {
		for _, e := range errs {
			logger.Error("[config] " + e)
		}
		return nil, joinErrs(errs)
	}
	return cfg, nil
}

func (c *SurvivorConfig) String() string {
	return fmt.Sprintf(`
Survivor:
  KeyPath:         %s
  PendingPath:     %s
  DiscoveryPort:   %d
  ScanTimeout:     %s
  Attempts:        %d
  Backoff:         %s
  AttemptTimeout:  %s
`, c.KeyPath, c.PendingPath, c.DiscoveryPort, c.ScanTimeout, c.Attempts, c.Backoff, c.AttemptTimeout)
}
