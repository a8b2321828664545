package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process-wide logger used by the engine and the speculative core.
var Log *Logger

var (
	mu     sync.Mutex
	output io.Writer = os.Stderr
	format           = "console"
)

type Logger struct {
	z zerolog.Logger
}

func init() {
	Log = &Logger{z: build(output, format)}
}

func build(w io.Writer, f string) zerolog.Logger {
	if strings.ToLower(f) == "json" {
		return zerolog.New(w).With().Timestamp().Logger()
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(cw).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level. Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Setup configures the global logger level and output format ("json" or "console").
func Setup(level string, f string) {
	mu.Lock()
	defer mu.Unlock()

	zerolog.SetGlobalLevel(ParseLevel(level))
	format = f
	Log = &Logger{z: build(output, format)}
}

// SetOutput redirects the global logger, keeping the configured format.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	output = w
	Log = &Logger{z: build(output, format)}
}

// With returns a child logger that stamps every event with key=value.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{z: l.z.With().Interface(key, value).Logger()}
}

func (l *Logger) Info(msg string, args ...interface{}) {
	e := l.z.Info()
	addFields(e, args...)
	e.Msg(msg)
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	e := l.z.Debug()
	addFields(e, args...)
	e.Msg(msg)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	e := l.z.Warn()
	addFields(e, args...)
	e.Msg(msg)
}

func (l *Logger) Error(msg string, args ...interface{}) {
	e := l.z.Error()
	addFields(e, args...)
	e.Msg(msg)
}

// addFields attaches key/value pairs; a trailing key without a value is dropped.
func addFields(e *zerolog.Event, args ...interface{}) {
	if e == nil {
		return
	}
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		if err, isErr := args[i+1].(error); isErr {
			e.AnErr(key, err)
			continue
		}
		e.Interface(key, args[i+1])
	}
}
