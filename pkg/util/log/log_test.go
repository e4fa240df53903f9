// Copyright 2016 Ericsson AB All Rights Reserved.

package log

import (
	"bytes"
	"encoding/json"
	stdlib "log"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	var b bytes.Buffer
	SetOutput(&b)
	SetFormatter(new(logrus.JSONFormatter))
	SetLevel(logrus.DebugLevel)
	t.Cleanup(func() {
		SetVerbosity(1)
		SetLevel(logrus.InfoLevel)
	})
	return &b
}

func decode(t *testing.T, b *bytes.Buffer) logrus.Fields {
	var fields logrus.Fields
	require.Nil(t, json.Unmarshal(b.Bytes(), &fields))
	return fields
}

func TestLogging(t *testing.T) {
	// WithField attaches an abbreviated caller at the default verbosity.
	entry := WithField("foo", "bar")
	val, ok := entry.Data["foo"]
	assert.True(t, ok)
	assert.Equal(t, "bar", val)
	caller, ok := entry.Data[callerFunc]
	assert.True(t, ok)
	assert.Equal(t, "g/e/r/p/u/log.TestLogging", caller)

	b := capture(t)
	require.Nil(t, SetVerbosity(2))
	errMsg := "this is an error"
	Error(errMsg)
	fields := decode(t, b)
	assert.Equal(t, 6, len(fields))
	assert.Equal(t, errMsg, fields["msg"])
	assert.Equal(t, "github.com/erixzone/repman/pkg/util/log.TestLogging", fields[callerFunc])
	assert.True(t, strings.HasSuffix(fields[callerFile].(string), "log_test.go"))

	// Verbosity 0 still logs the message but no caller fields.
	b.Reset()
	require.Nil(t, SetVerbosity(0))
	Error(errMsg)
	fields = decode(t, b)
	assert.Equal(t, 3, len(fields))
	assert.Equal(t, errMsg, fields["msg"])

	assert.NotNil(t, SetVerbosity(3))
}

func TestWithReplicate(t *testing.T) {
	b := capture(t)
	WithReplicate("ex_nsga2", 4).Infof("claimed %s", "it")
	fields := decode(t, b)
	assert.Equal(t, "ex_nsga2", fields[fieldExperiment])
	assert.Equal(t, float64(4), fields[fieldReplicate])
	assert.Equal(t, "claimed it", fields["msg"])
	assert.Equal(t, "info", fields["level"])
}

func TestStdlibRedirect(t *testing.T) {
	b := capture(t)
	stdlib.Print("from the standard logger")
	fields := decode(t, b)
	assert.Equal(t, "from the standard logger", fields["msg"])
}

func TestAbbrevPath(t *testing.T) {
	assert.Equal(t, "g/e/r/p/lock.Acquire", abbrevPath("github.com/erixzone/repman/pkg/lock.Acquire"))
	assert.Equal(t, "main.main", abbrevPath("main.main"))
}
