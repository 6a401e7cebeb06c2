package log

import "github.com/sirupsen/logrus"

// entry implements Logger on top of a logrus entry; every With* call
// returns a new entry sharing the same logger.
type entry struct {
	e *logrus.Entry
}

func (l entry) Debug(args ...interface{})                 { l.e.Debug(args...) }
func (l entry) Debugf(format string, args ...interface{}) { l.e.Debugf(format, args...) }
func (l entry) Info(args ...interface{})                  { l.e.Info(args...) }
func (l entry) Infof(format string, args ...interface{})  { l.e.Infof(format, args...) }
func (l entry) Warn(args ...interface{})                  { l.e.Warn(args...) }
func (l entry) Warnf(format string, args ...interface{})  { l.e.Warnf(format, args...) }
func (l entry) Error(args ...interface{})                 { l.e.Error(args...) }
func (l entry) Errorf(format string, args ...interface{}) { l.e.Errorf(format, args...) }

func (l entry) WithField(key string, value interface{}) Logger {
	return entry{l.e.WithField(key, value)}
}

func (l entry) WithFields(fields map[string]interface{}) Logger {
	return entry{l.e.WithFields(fields)}
}

func (l entry) WithError(err error) Logger { return entry{l.e.WithError(err)} }

func (l entry) IsDebugEnabled() bool { return l.e.Logger.IsLevelEnabled(logrus.DebugLevel) }
func (l entry) IsInfoEnabled() bool  { return l.e.Logger.IsLevelEnabled(logrus.InfoLevel) }
