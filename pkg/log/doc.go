// Package log provides protocol capture for the Security Manager.
//
// It is separate from operational logging (slog): capture produces a
// machine-readable trace of every PDU, state transition, key movement and
// failure of each pairing attempt, keyed by attempt ID.
//
// # Basic Usage
//
//	// Development: print events through slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Field captures: append to a CBOR file
//	fl, _ := log.NewFileLogger("/var/lib/bt/pairing.smplog")
//	cfg.ProtocolLogger = fl
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// Key material never enters an event: PDUs that carry keys are logged with
// their opcode and size only.
//
// # File Format
//
// A capture is a stream of CBOR-encoded Event values with integer map keys.
// Reader replays a capture, optionally through a Filter.
package log
