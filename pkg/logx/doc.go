// Package logx configures livewatch's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional admin-channel sink (min-level + rate limiting) that mirrors
//     operational reports into the deployment's administrative chat
package logx
