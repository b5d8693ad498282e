package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logger handed to components.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
}

type entry struct {
	*logrus.Entry
}

func (e entry) WithField(key string, value interface{}) Logger {
	return entry{e.Entry.WithField(key, value)}
}

func (e entry) WithFields(fields map[string]interface{}) Logger {
	return entry{e.Entry.WithFields(logrus.Fields(fields))}
}

func (e entry) WithError(err error) Logger {
	return entry{e.Entry.WithError(err)}
}

var (
	mu   sync.RWMutex
	base = newBase(os.Stderr)
)

func newBase(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.WarnLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return l
}

func root() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Configure applies the CLI verbosity flags: verbose shows everything, debug
// shows info and above, the default is warnings and errors only.
func Configure(debug, verbose bool) {
	switch {
	case verbose:
		SetLevel("debug")
	case debug:
		SetLevel("info")
	}
}

// SetLevel parses a logrus level name. Unknown names leave the level as is.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	root().SetLevel(lvl)
	return nil
}

// SetFormat switches between "text" and "json" output.
func SetFormat(format string) error {
	switch format {
	case "", "text":
		root().SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	case "json":
		root().SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

func SetOutput(w io.Writer) {
	root().SetOutput(w)
}

// Reset restores a fresh logger writing to out.
func Reset(out io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base = newBase(out)
}

func Debug(args ...interface{}) { root().Debug(args...) }
func Info(args ...interface{})  { root().Info(args...) }
func Warn(args ...interface{})  { root().Warn(args...) }
func Error(args ...interface{}) { root().Error(args...) }

func WithField(key string, value interface{}) Logger {
	return entry{root().WithField(key, value)}
}

func WithFields(fields map[string]interface{}) Logger {
	return entry{root().WithFields(logrus.Fields(fields))}
}
