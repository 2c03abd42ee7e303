// Package log reproduces the teacher's subject-first logging convention
// (fs.Infof(who, format, args...)) on top of logrus instead of a bespoke
// logger, since logrus is a direct teacher dependency.
package log

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

var base = logrus.StandardLogger()

func init() {
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetLevel adjusts verbosity; accepted values mirror logrus level names.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	base.SetLevel(lvl)
	return nil
}

func subject(who any) string {
	if who == nil {
		return "-"
	}
	if s, ok := who.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", who)
}

// Debugf logs at debug level with who as the subject (nil allowed).
func Debugf(who any, format string, args ...any) {
	base.WithField("unit", subject(who)).Debugf(format, args...)
}

// Infof logs at info level with who as the subject (nil allowed).
func Infof(who any, format string, args ...any) {
	base.WithField("unit", subject(who)).Infof(format, args...)
}

// Errorf logs at error level with who as the subject (nil allowed).
func Errorf(who any, format string, args ...any) {
	base.WithField("unit", subject(who)).Errorf(format, args...)
}
