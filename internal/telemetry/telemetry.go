// Package telemetry wires the process-wide structured logger used by
// both the client session loop and the broker task store. It is built
// on github.com/joeycumines/logiface (a generic logging facade) with
// github.com/joeycumines/ilogrus as the concrete backend, writing
// through github.com/sirupsen/logrus.
package telemetry

import (
	"os"

	"github.com/joeycumines/ilogrus"
	"github.com/joeycumines/logiface"
	"github.com/sirupsen/logrus"
)

// Logger is the concrete logger type used throughout this repository.
type Logger = logiface.Logger[*ilogrus.Event]

// New builds a Logger writing JSON-formatted entries to w (os.Stderr if
// nil) via logrus, at the given minimum level.
func New(w *os.File, level logiface.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}

	base := logrus.New()
	base.SetOutput(w)
	base.SetFormatter(&logrus.JSONFormatter{})
	base.SetLevel(logrus.TraceLevel)

	return ilogrus.L.New(
		ilogrus.L.WithLogrus(base),
		ilogrus.L.WithLevel(level),
	)
}

// Discard returns a Logger that drops every event; used as the default
// in tests and anywhere a caller does not supply one.
func Discard() *Logger {
	base := logrus.New()
	base.SetOutput(os.NewFile(0, os.DevNull))
	base.Out = nullWriter{}
	return ilogrus.L.New(ilogrus.L.WithLogrus(base))
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }
