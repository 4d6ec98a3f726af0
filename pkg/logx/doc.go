// Package logx is tibiabot's structured logging on top of zerolog.
//
// Console output is human readable with a short caller, the optional file sink
// writes JSON lines, and warnings or worse can be mirrored to a Telegram log
// chat as compact HTML alerts.
package logx
