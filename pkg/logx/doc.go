// Package logx configures noticebot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - console output readable (short timestamp + short caller)
//   - file output JSON-structured
//   - level and sinks swappable at runtime on config reload
package logx
