// Package bridgelog sets up structured logging for the bridge, adapted
// from jacobsa/fuse's connection.go split between a low-volume "error"
// logger and a high-volume "debug" logger: here both are the same
// logrus.Logger at different levels, so a single log stream can be
// filtered by level instead of routed to two destinations.
package bridgelog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logger writing to path (created if missing and appended
// to, so earlier runs' output is kept) in addition to stderr, at the
// given level. An empty path logs to stderr only.
func New(path string, level logrus.Level) (*logrus.Logger, func() error, error) {
	log := logrus.New()
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	closeFn := func() error { return nil }

	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		log.SetOutput(io.MultiWriter(os.Stderr, f))
		closeFn = f.Close
	}

	return log, closeFn, nil
}

// ParseLevel resolves a --log-level flag value, defaulting to Info on an
// unrecognized string rather than failing startup over a typo'd flag.
func ParseLevel(s string) logrus.Level {
	lvl, err := logrus.ParseLevel(s)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
