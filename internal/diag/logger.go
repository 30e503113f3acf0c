// Package diag holds the module's diagnostic logging hook. Protocol
// mismatches and poll failures are reported here with the raw response text
// so firmware issues can be diagnosed after the fact.
package diag

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests typically call Mute.
var Logf func(format string, v ...any) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}

// Mute silences the package logger and returns a function that restores the
// previous one.
func Mute() func() {
	prev := Logf
	Logf = func(string, ...any) {}
	return func() { Logf = prev }
}
