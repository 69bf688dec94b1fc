// Package logging provides structured logging for the Gray Logic node.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same shape.
//
// # Features
//
//   - JSON output for production (shipped off-device by the log collector)
//   - Text output for bench work on a serial console
//   - Default fields (service, version) on all log entries
//   - Per-component child loggers via Component
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("session").Info("connected", "session_id", id)
//
// Never log WiFi passphrases, broker passwords or portal tokens.
package logging
