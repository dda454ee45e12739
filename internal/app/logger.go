package app

import (
	"go.uber.org/zap"

	"github.com/charlesng35/matchdispatch/pkg/logger"
)

// ConfigureLogging builds the global logger from the server settings. Every
// entry carries the worker's instance ID so lock ownership in the logs can be
// matched to a process.
func ConfigureLogging(server ServerConfig) error {
	var fields []zap.Field
	if server.InstanceID != "" {
		fields = append(fields, zap.String("instance", server.InstanceID))
	}
	return logger.Init(logger.Options{
		Level:    server.LogLevel,
		Encoding: server.LogFormat,
		Fields:   fields,
	})
}
