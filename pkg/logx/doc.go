// Package logx wraps zerolog behind a small structured-logging API.
//
// Components receive a logx.Logger value and never touch zerolog directly,
// so sinks and levels can be swapped at runtime through Service.Apply.
package logx
