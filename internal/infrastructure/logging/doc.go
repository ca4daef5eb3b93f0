// Package logging provides structured logging for the cockpit bridge.
//
// It wraps log/slog with JSON or text output, level filtering and the
// default fields service=cockpit-bridge and version.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	client.SetLogger(logger.Component("fgfs"))
//	logger.Error("failed to open keypad", "error", err)
package logging
