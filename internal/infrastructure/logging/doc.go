// Package logging provides structured logging for Gray ORM.
//
// It wraps log/slog with JSON output for production, text output for
// development, and default service and version attributes on every record.
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
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("session opened", "unit", "staff")
//	logger.Error("flush failed", "error", err)
//
// Statement values bound to SQL parameters are logged only when a unit sets
// show_sql, since they may contain personal data.
package logging
