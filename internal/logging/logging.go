// Package logging is ringwal's ambient logging wrapper: a small set of
// leveled helpers over the standard library's log package, in the shape
// KevoDB's pkg/common/log is used from pkg/wal (log.Warn(fmt, args...) call
// sites over a plain *log.Logger, no structured logging dependency).
package logging

import (
	"log"
	"os"
)

// DisableLogs suppresses all output; tests that exercise recovery or
// fallback paths set this to keep output clean, mirroring KevoDB's
// DisableRecoveryLogs.
var DisableLogs = false

var std = log.New(os.Stderr, "ringwal: ", log.LstdFlags)

// Infof logs an informational message.
func Infof(format string, args ...any) {
	if DisableLogs {
		return
	}
	std.Printf("INFO "+format, args...)
}

// Warnf logs a warning.
func Warnf(format string, args ...any) {
	if DisableLogs {
		return
	}
	std.Printf("WARN "+format, args...)
}

// Errorf logs an error.
func Errorf(format string, args ...any) {
	if DisableLogs {
		return
	}
	std.Printf("ERROR "+format, args...)
}
