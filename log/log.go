package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const logFlags = log.Ldate | log.Ltime | log.Lshortfile

// The loggers default to stderr so packages can log before Initialize runs (tests, early CLI errors).
var (
	WarningLog = log.New(os.Stderr, "WARNING:", logFlags)
	InfoLog    = log.New(os.Stderr, "INFO:", logFlags)
	ErrorLog   = log.New(os.Stderr, "ERROR:", logFlags)
	DebugLog   = log.New(io.Discard, "", 0)
)

var debugEnabled = os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1"

var logFileName = filepath.Join(os.TempDir(), "convoy.log")

var globalLogFile *os.File

// Initialize should be called once at the beginning of the program to set up logging.
// defer Close() after calling this function. An empty path logs to convoy.log in the
// os temp directory.
func Initialize(path string) {
	if path != "" {
		logFileName = path
	}

	f, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		setOutput(os.Stderr)
		fmt.Fprintf(os.Stderr, "Warning: using stderr for logging: %v\n", err)
		return
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	setOutput(f)
	globalLogFile = f
}

func setOutput(w io.Writer) {
	InfoLog = log.New(w, "INFO:", logFlags)
	WarningLog = log.New(w, "WARNING:", logFlags)
	ErrorLog = log.New(w, "ERROR:", logFlags)
	if debugEnabled {
		DebugLog = log.New(w, "DEBUG:", logFlags)
	} else {
		DebugLog = log.New(io.Discard, "", 0)
	}
}

func Close() {
	if globalLogFile == nil {
		return
	}
	_ = globalLogFile.Close()
	globalLogFile = nil
	fmt.Fprintln(os.Stderr, "wrote logs to "+logFileName)
}

// FileName returns the path the loggers write to.
func FileName() string {
	return logFileName
}

// Every is used to log at most once every timeout duration.
type Every struct {
	timeout time.Duration
	timer   *time.Timer
}

func NewEvery(timeout time.Duration) *Every {
	return &Every{timeout: timeout}
}

// ShouldLog returns true if the timeout has passed since the last log.
func (e *Every) ShouldLog() bool {
	if e.timer == nil {
		e.timer = time.NewTimer(e.timeout)
		return true
	}

	select {
	case <-e.timer.C:
		e.timer.Reset(e.timeout)
		return true
	default:
		return false
	}
}

// IsDebugEnabled returns true if debug logging is enabled.
func IsDebugEnabled() bool {
	return debugEnabled
}

// FormatCommand renders an argv for log output, quoting arguments that contain spaces.
func FormatCommand(name string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	for _, part := range append([]string{name}, args...) {
		if strings.ContainsAny(part, " \t") {
			part = fmt.Sprintf("%q", part)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, " ")
}
