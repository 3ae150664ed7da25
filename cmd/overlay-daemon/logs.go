package main

import (
	"io"
	"log"
	"os"
	"runtime/debug"

	"github.com/b/webapp-overlay/pkg/paths"
)

// Crash reports and the event trail sit next to the session's socket so they
// survive a daemon restart.
var (
	crashLog = log.New(os.Stderr, "[crash] ", log.LstdFlags)
	eventLog = log.New(io.Discard, "", 0)
	debugLog = log.New(io.Discard, "", 0)
)

func openLogs(sessionID string, debugMode bool) {
	if l := openLogFile(sessionID, "daemon-crash.log", ""); l != nil {
		crashLog = l
	}
	if l := openLogFile(sessionID, "daemon-events.log", "[event] "); l != nil {
		eventLog = l
	}
	if debugMode {
		debugLog = log.New(os.Stderr, "[daemon] ", log.LstdFlags|log.Lmicroseconds)
		SetCoordinatorDebugLog(debugLog)
	}
}

func openLogFile(sessionID, name, prefix string) *log.Logger {
	f, err := os.OpenFile(paths.RuntimePath(sessionID, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil
	}
	return log.New(f, prefix, log.LstdFlags|log.Lmicroseconds)
}

// logEvent appends one KEY k=v line to the event trail.
func logEvent(format string, args ...any) {
	eventLog.Printf(format, args...)
}

func reportPanic(where string, r any) {
	crashLog.Printf("panic in %s: %v\n%s", where, r, debug.Stack())
}

// recoverPanic is deferred at the top of every daemon goroutine.
func recoverPanic(where string) {
	if r := recover(); r != nil {
		reportPanic(where, r)
	}
}
