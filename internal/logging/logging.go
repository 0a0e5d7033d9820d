// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-deliveries/internal/config"
)

// Setup applies the level and format to the standard logger. Unknown
// levels fall back to info.
func Setup(cfg config.LoggingConfig, out io.Writer) {
	if out != nil {
		log.SetOutput(out)
	}
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
