// Package logx configures sleepd's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured, optionally rate limited below warn level
//   - Loggers derived with With() live across Service.Apply() calls
package logx
