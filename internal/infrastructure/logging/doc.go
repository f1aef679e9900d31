// Package logging provides structured logging for the Gray Logic Tuya bridge.
//
// It wraps log/slog. Bridge packages take the small tuya.Logger interface,
// which *Logger satisfies.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "devices", 4)
//	logger.Error("failed to connect", "error", err)
//
// # Redaction
//
// Attributes keyed password, token or secret (any case) are replaced with
// "[REDACTED]". Other sensitive values must not be logged at all; log their
// presence instead:
//
//	logger.Info("broker auth", "username", user, "password_set", pass != "")
//
// Byte slices are written as hex strings, so frames read the same in JSON
// and text output.
package logging
