// Copyright 2016 Ericsson AB All Rights Reserved.

/*
Package log wraps github.com/sirupsen/logrus for repman. Every message
carries the function that emitted it (abbreviated at the default
verbosity, with file and line at verbosity 2), and entries can be
tagged with the replicate they concern so that interleaved output from
several managers sharing a results directory stays attributable.
*/
package log

import (
	"errors"
	"io"
	stdlib "log"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	callerFunc = "Func"
	callerFile = "File"
	callerLine = "Line"

	fieldExperiment = "exp"
	fieldReplicate  = "rep"
)

var verbosity = 1
var log *logrus.Logger

func init() {
	log = logrus.New()
	log.Formatter = &logrus.TextFormatter{FullTimestamp: true}

	// Route anything written through the standard logger to logrus.
	stdlib.SetFlags(0)
	stdlib.SetOutput(stdlibWriter{log})
}

// Entry is a logrus.Entry whose events get caller fields attached
// when they are finally emitted.
type Entry struct {
	*logrus.Entry
}

// SetVerbosity selects how much caller information is attached:
// 0 none, 1 an abbreviated function name, 2 the full function name
// plus file and line.
func SetVerbosity(v int) error {
	if v < 0 || v > 2 {
		return errors.New("invalid verbosity value (allowed range: 0-2)")
	}
	verbosity = v
	return nil
}

// SetOutput sets where log messages are written.
func SetOutput(out io.Writer) {
	log.Out = out
}

// SetLevel sets the minimum level that is logged.
func SetLevel(level logrus.Level) {
	log.Level = level
}

// SetFormatter replaces the formatter used for every message.
func SetFormatter(formatter logrus.Formatter) {
	log.Formatter = formatter
}

// WithField returns an Entry holding key=value and the caller fields.
func WithField(key string, value interface{}) *Entry {
	return &Entry{log.WithFields(callerFields(2)).WithField(key, value)}
}

// WithFields returns an Entry holding fields and the caller fields.
func WithFields(fields logrus.Fields) *Entry {
	f := callerFields(2)
	for k, v := range fields {
		f[k] = v
	}
	return &Entry{log.WithFields(f)}
}

// WithError returns an Entry holding err under logrus.ErrorKey.
func WithError(err error) *Entry {
	return &Entry{log.WithFields(callerFields(2)).WithError(err)}
}

// WithReplicate returns an Entry tagged with an experiment name and
// replicate index.
func WithReplicate(exp string, idx int) *Entry {
	f := callerFields(2)
	f[fieldExperiment] = exp
	f[fieldReplicate] = idx
	return &Entry{log.WithFields(f)}
}

// Debugf logs at Debug level.
func Debugf(format string, args ...interface{}) {
	log.WithFields(callerFields(2)).Debugf(format, args...)
}

// Infof logs at Info level.
func Infof(format string, args ...interface{}) {
	log.WithFields(callerFields(2)).Infof(format, args...)
}

// Warnf logs at Warning level.
func Warnf(format string, args ...interface{}) {
	log.WithFields(callerFields(2)).Warnf(format, args...)
}

// Errorf logs at Error level.
func Errorf(format string, args ...interface{}) {
	log.WithFields(callerFields(2)).Errorf(format, args...)
}

// Debug logs at Debug level.
func Debug(args ...interface{}) {
	log.WithFields(callerFields(2)).Debug(args...)
}

// Info logs at Info level.
func Info(args ...interface{}) {
	log.WithFields(callerFields(2)).Info(args...)
}

// Warn logs at Warning level.
func Warn(args ...interface{}) {
	log.WithFields(callerFields(2)).Warn(args...)
}

// Error logs at Error level.
func Error(args ...interface{}) {
	log.WithFields(callerFields(2)).Error(args...)
}

func (e *Entry) here() *logrus.Entry { return e.Entry.WithFields(callerFields(3)) }

// Debug logs at Debug level with caller fields.
func (e *Entry) Debug(args ...interface{}) { e.here().Debug(args...) }

// Debugf logs at Debug level with caller fields.
func (e *Entry) Debugf(format string, args ...interface{}) { e.here().Debugf(format, args...) }

// Info logs at Info level with caller fields.
func (e *Entry) Info(args ...interface{}) { e.here().Info(args...) }

// Infof logs at Info level with caller fields.
func (e *Entry) Infof(format string, args ...interface{}) { e.here().Infof(format, args...) }

// Warn logs at Warning level with caller fields.
func (e *Entry) Warn(args ...interface{}) { e.here().Warn(args...) }

// Warnf logs at Warning level with caller fields.
func (e *Entry) Warnf(format string, args ...interface{}) { e.here().Warnf(format, args...) }

// Error logs at Error level with caller fields.
func (e *Entry) Error(args ...interface{}) { e.here().Error(args...) }

// Errorf logs at Error level with caller fields.
func (e *Entry) Errorf(format string, args ...interface{}) { e.here().Errorf(format, args...) }

// WithField returns an Entry with the field added.
func (e *Entry) WithField(key string, val interface{}) *Entry {
	return &Entry{e.Entry.WithField(key, val)}
}

// WithFields returns an Entry with the fields added.
func (e *Entry) WithFields(fields logrus.Fields) *Entry {
	return &Entry{e.Entry.WithFields(fields)}
}

// WithError returns an Entry with the error added.
func (e *Entry) WithError(err error) *Entry {
	return &Entry{e.Entry.WithError(err)}
}

// callerFields describes the function skip frames above callerFields.
func callerFields(skip int) logrus.Fields {
	fields := logrus.Fields{}
	if verbosity == 0 {
		return fields
	}
	pc := make([]uintptr, 1)
	if runtime.Callers(skip+1, pc) == 0 {
		return fields
	}
	frame, _ := runtime.CallersFrames(pc).Next()
	if verbosity == 1 {
		fields[callerFunc] = abbrevPath(frame.Function)
		return fields
	}
	fields[callerFunc] = frame.Function
	fields[callerFile] = frame.File
	fields[callerLine] = frame.Line
	return fields
}

// abbrevPath keeps the first letter of every path element of a fully
// qualified function name: github.com/erixzone/repman/pkg/lock.Acquire
// becomes g/e/r/p/lock.Acquire.
func abbrevPath(name string) string {
	i := strings.LastIndex(name, "/")
	if i < 0 {
		return name
	}
	var b strings.Builder
	for _, elem := range strings.Split(name[:i], "/") {
		if elem == "" {
			continue
		}
		b.WriteByte(elem[0])
		b.WriteByte('/')
	}
	b.WriteString(name[i+1:])
	return b.String()
}

// stdlibWriter lets the standard library logger feed logrus.
type stdlibWriter struct{ *logrus.Logger }

func (w stdlibWriter) Write(p []byte) (int, error) {
	w.Logger.Info(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}
