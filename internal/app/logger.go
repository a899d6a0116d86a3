package app

import (
	"strings"

	"github.com/skyquote/skyquote/pkg/logger"
)

// ConfigureLogging initialises the global logger with the provided level and
// format, defaulting to info-level JSON output.
func ConfigureLogging(level, format string) error {
	level = strings.TrimSpace(level)
	if level == "" {
		level = "info"
	}
	return logger.Init(level, format)
}
