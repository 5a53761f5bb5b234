// Package log provides loggers for the graph runtime.
package log

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

var debug bool

// Logger is a global interface for graph loggers.
type Logger interface {
	Debug(...interface{})
	Info(...interface{})
}

func init() {
	var err error
	debug, err = strconv.ParseBool(os.Getenv("GRAPH_DEBUG"))
	if err != nil {
		debug = false
	}
}

// GetLogger returns a new logger tagged with the subsystem name. Debug
// level is enabled when the GRAPH_DEBUG environment variable is truthy.
func GetLogger(subsystem string) *logrus.Entry {
	l := logrus.New()
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return l.WithField("subsystem", subsystem)
}
