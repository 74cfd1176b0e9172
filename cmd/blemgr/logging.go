package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blemgr/pkg/config"
	"golang.org/x/term"
)

// loadConfig reads --config and applies --log-level on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logLevelStr, _ := cmd.Flags().GetString("log-level")
	switch logLevelStr {
	case "":
	case "debug", "info", "warn", "error":
		cfg.LogLevel = logLevelStr
	default:
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
	}
	return cfg, nil
}

// configureLogger builds the logger for cfg. Logs go to stderr so that
// command output on stdout stays machine readable.
func configureLogger(cfg *config.Config) *logrus.Logger {
	logger := cfg.NewLogger()
	logger.SetOutput(os.Stderr)
	if tf, ok := logger.Formatter.(*logrus.TextFormatter); ok {
		tf.DisableColors = !term.IsTerminal(int(os.Stderr.Fd()))
	}
	return logger
}
