// Package logx configures pulsemon's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Live level/sink reconfiguration via Service.Apply
package logx
