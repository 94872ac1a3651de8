package kfmt

import (
	"io"
	"strings"
)

// Level ranks console messages by verbosity. Messages whose level is above
// the active level are dropped.
type Level uint8

// The supported levels, from quietest to most verbose.
const (
	LevelOff Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

// DefaultLevel is active until SetLevel is called.
const DefaultLevel = LevelInfo

var (
	// activeLevel is initialized so that it lands in the data section and
	// keeps its value across the bss clear.
	activeLevel = DefaultLevel

	levelNames = [...]string{"off", "error", "warn", "info", "debug", "trace"}
)

// String returns the lower-case name of l.
func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

// ParseLevel returns the level whose name matches name, ignoring case. It
// reports false if no level matches.
func ParseLevel(name string) (Level, bool) {
	for i, levelName := range levelNames {
		if strings.EqualFold(levelName, name) {
			return Level(i), true
		}
	}
	return LevelOff, false
}

// SetLevel changes the active level.
func SetLevel(l Level) {
	activeLevel = l
}

// ActiveLevel returns the level set by SetLevel.
func ActiveLevel() Level {
	return activeLevel
}

// Enabled reports whether messages at level l are currently printed.
func Enabled(l Level) bool {
	return l != LevelOff && l <= activeLevel
}

// Logf behaves like Printf when l is enabled and does nothing otherwise.
func Logf(l Level, format string, args ...interface{}) {
	if !Enabled(l) {
		return
	}
	Fprintf(outputSink, format, args...)
}

// levelSink forwards writes to the active sink while its level is enabled.
type levelSink Level

func (s levelSink) Write(p []byte) (int, error) {
	if Enabled(Level(s)) {
		doWrite(outputSink, p)
	}
	return len(p), nil
}

// LevelSink returns an io.Writer that targets the same sink as Printf but
// discards everything while l is not enabled. The level is checked on every
// write, so the writer follows later calls to SetLevel.
func LevelSink(l Level) io.Writer {
	return levelSink(l)
}
