package util

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Logger writes leveled lines to the pterm default logger, each tagged with
// the component that produced it. The zero value is untagged.
type Logger struct {
	prefix string
}

// Component returns a logger tagging lines with "[name]".
func Component(name string) Logger {
	return Logger{prefix: "[" + name + "] "}
}

func (l Logger) Debug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(l.prefix + fmt.Sprintf(format, args...))
}

func (l Logger) Info(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(l.prefix + fmt.Sprintf(format, args...))
}

// Success is logged at info level; pterm's logger has no success level.
func (l Logger) Success(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(l.prefix + fmt.Sprintf(format, args...))
}

func (l Logger) Warning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(l.prefix + fmt.Sprintf(format, args...))
}

func (l Logger) Error(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(l.prefix + fmt.Sprintf(format, args...))
}

var root Logger

// Untagged helpers for code that is not part of a component.

func LogDebug(format string, args ...interface{})   { root.Debug(format, args...) }
func LogInfo(format string, args ...interface{})    { root.Info(format, args...) }
func LogSuccess(format string, args ...interface{}) { root.Success(format, args...) }
func LogWarning(format string, args ...interface{}) { root.Warning(format, args...) }
func LogError(format string, args ...interface{})   { root.Error(format, args...) }

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// SetLogOutput redirects the logger, e.g. to io.Discard in tests.
func SetLogOutput(w io.Writer) {
	pterm.DefaultLogger.Writer = w
}
