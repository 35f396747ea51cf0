package logging

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	base     *logrus.Logger
	baseOnce sync.Once

	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex
)

func root() *logrus.Logger {
	baseOnce.Do(func() {
		base = logrus.New()
		base.SetOutput(os.Stderr)
		apply(base, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	})
	return base
}

// Configure sets level and format for every component logger.
// Unknown levels fall back to info; format is "json" or "text".
func Configure(level, format string) {
	apply(root(), level, format)
}

func apply(l *logrus.Logger, level, format string) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// New returns the logger for a component. Entries are cached per component.
func New(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if e, ok := loggers[component]; ok {
		return e
	}
	e := root().WithField("component", component)
	loggers[component] = e
	return e
}
