// Package log provides structured protocol logging for GridPulse.
//
// Protocol events (frames, commands and responses, state changes, key
// rotations, data-channel lifecycle, errors) are captured through the
// Logger interface. This is separate from operational logging (slog):
// protocol capture is a machine-readable trace for debugging subscriber
// sessions after the fact.
//
// # Basic Usage
//
//	// Console during development
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary capture file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/gridpulse/publisher.gplog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(console, file)
//
// Log files are a stream of CBOR-encoded events read back with Reader and
// the gridpulse-log tool.
//
// # Rate-limited publishing
//
// RateLimitedPublisher wraps an slog.Logger for messages that can arrive in
// bursts (per-connection status and exception messages). Messages over the
// configured rate are counted and summarized in a periodic suppression
// notice instead of being written.
package log
