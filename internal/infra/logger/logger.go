package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// Level represents log level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// Logger implements waLog.Logger with colored, module-scoped output.
// Sub-loggers share the parent's writer and lock.
type Logger struct {
	module string
	level  Level
	color  bool
	out    *sink
}

type sink struct {
	mu sync.Mutex
	w  io.Writer
}

// New creates a Logger writing to stderr.
func New(module string, level string) *Logger {
	return NewWithWriter(module, level, os.Stderr, true)
}

// NewWithWriter creates a Logger writing to w. Colors are only emitted when color is set.
func NewWithWriter(module, level string, w io.Writer, color bool) *Logger {
	return &Logger{
		module: module,
		level:  ParseLevel(level),
		color:  color,
		out:    &sink{w: w},
	}
}

// ParseLevel converts a level name to a Level, defaulting to info.
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG", "TRACE":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Sub creates a sub-logger scoped under the current module.
func (l *Logger) Sub(module string) waLog.Logger {
	name := module
	if l.module != "" {
		name = l.module + "/" + module
	}
	return &Logger{module: name, level: l.level, color: l.color, out: l.out}
}

// Module returns the full module path of this logger.
func (l *Logger) Module() string {
	return l.module
}

func (l *Logger) Debugf(msg string, args ...interface{}) { l.log(LevelDebug, msg, args...) }
func (l *Logger) Infof(msg string, args ...interface{})  { l.log(LevelInfo, msg, args...) }
func (l *Logger) Warnf(msg string, args ...interface{})  { l.log(LevelWarn, msg, args...) }
func (l *Logger) Errorf(msg string, args ...interface{}) { l.log(LevelError, msg, args...) }

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	if level < l.level {
		return
	}

	name, levelColor := level.tag()
	line := fmt.Sprintf(msg, args...)
	ts := time.Now().Format("15:04:05.000")

	var b strings.Builder
	b.WriteString(l.paint(colorGray, ts))
	b.WriteByte(' ')
	b.WriteString(l.paint(levelColor, name))
	b.WriteByte(' ')
	if l.module != "" {
		b.WriteString(l.paint(colorCyan, "["+l.module+"]"))
		b.WriteByte(' ')
	}
	b.WriteString(line)
	b.WriteByte('\n')

	l.out.mu.Lock()
	io.WriteString(l.out.w, b.String())
	l.out.mu.Unlock()
}

func (l *Logger) paint(color, s string) string {
	if !l.color {
		return s
	}
	return color + s + colorReset
}

func (lv Level) tag() (string, string) {
	switch lv {
	case LevelDebug:
		return "DBG", colorBlue
	case LevelInfo:
		return "INF", colorGreen
	case LevelWarn:
		return "WRN", colorYellow
	case LevelError:
		return "ERR", colorRed
	default:
		return "???", colorReset
	}
}

var _ waLog.Logger = (*Logger)(nil)
