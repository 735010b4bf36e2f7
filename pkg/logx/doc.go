// Package logx configures chorebot's structured logging.
//
// It is a small wrapper (logx.Logger) over zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional chat sink (min-level + rate limiting)
package logx
