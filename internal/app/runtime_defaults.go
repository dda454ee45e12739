package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

const defaultSQLitePath = "./data/matchdispatch.sqlite"

// ApplyRuntimeDefaults fills values that cannot be expressed as static defaults.
// It returns a map describing which keys were generated so callers can log the event.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Server.InstanceID) == "" {
		cfg.Server.InstanceID = instanceID()
		generated["server.instance_id"] = true
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if (driver == "" || driver == "sqlite") && strings.TrimSpace(cfg.Database.Path) == "" && strings.TrimSpace(cfg.Database.DSN) == "" {
		cfg.Database.Path = defaultSQLitePath
		generated["database.path"] = true
	}

	if cfg.Jobs.AuditRetention.Days <= 0 {
		cfg.Jobs.AuditRetention.Enabled = false
	}

	return generated, nil
}

// instanceID identifies this process as a job lock owner.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return uuid.NewString()
	}
	return host + "-" + uuid.NewString()[:8]
}
