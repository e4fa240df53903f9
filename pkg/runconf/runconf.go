// Copyright 2016 Ericsson AB All Rights Reserved.

// Package runconf loads the experiment configuration shared by every
// manager working on the same results directory.
package runconf

import (
	"fmt"
	"io/ioutil"
	"math"
	"path/filepath"

	"github.com/google/shlex"
)

// Config names the experiments to run and where their binaries and
// results live.
type Config struct {
	ResDir     string   `json:"res_dir"`
	BinDir     string   `json:"bin_dir"`
	Exps       []string `json:"exps"`
	Replicates int      `json:"replicates"`

	// LastFile, when set, names a file the experiment binary writes into
	// a replicate directory once the run is complete.
	LastFile string `json:"last_file,omitempty"`

	// Args is appended to every launch command, split with shell rules.
	Args string `json:"args,omitempty"`

	path string
}

// ConfigError reports a configuration file that cannot be used.
type ConfigError struct {
	Path  string
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config %s: field '%s': %v", e.Path, e.Field, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Load reads and validates the configuration at path. Any problem is
// reported as a *ConfigError; required fields never get defaults.
func Load(path string) (*Config, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	doc, err := decoderFor(filepath.Ext(path))(b)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	if doc == nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("empty document")}
	}

	c := &Config{path: path}
	r := reader{path: path, doc: doc}
	c.ResDir = r.str("res_dir", true)
	c.BinDir = r.str("bin_dir", true)
	c.Exps = r.strs("exps")
	c.Replicates = r.integer("replicates")
	c.LastFile = r.str("last_file", false)
	c.Args = r.str("args", false)
	if r.err != nil {
		return nil, r.err
	}
	if c.Replicates < 1 {
		return nil, &ConfigError{Path: path, Field: "replicates", Err: fmt.Errorf("must be at least 1, got %d", c.Replicates)}
	}
	if _, err := c.ExtraArgs(); err != nil {
		return nil, &ConfigError{Path: path, Field: "args", Err: err}
	}
	return c, nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string { return c.path }

// ExtraArgs splits Args the way a POSIX shell would.
func (c *Config) ExtraArgs() ([]string, error) {
	if c.Args == "" {
		return nil, nil
	}
	return shlex.Split(c.Args)
}

// reader pulls typed fields out of a decoded document and keeps the
// first error it runs into.
type reader struct {
	path string
	doc  map[string]interface{}
	err  error
}

func (r *reader) fail(field, format string, args ...interface{}) {
	if r.err == nil {
		r.err = &ConfigError{Path: r.path, Field: field, Err: fmt.Errorf(format, args...)}
	}
}

func (r *reader) str(field string, required bool) string {
	v, ok := r.doc[field]
	if !ok || v == nil {
		if required {
			r.fail(field, "missing")
		}
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.fail(field, "expected a string, got %T", v)
		return ""
	}
	if required && s == "" {
		r.fail(field, "empty")
	}
	return s
}

func (r *reader) strs(field string) []string {
	v, ok := r.doc[field]
	if !ok || v == nil {
		r.fail(field, "missing")
		return nil
	}
	list, ok := v.([]interface{})
	if !ok {
		r.fail(field, "expected a list of strings, got %T", v)
		return nil
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok || s == "" {
			r.fail(field, "item %d: expected a non-empty string, got %v", i, item)
			return nil
		}
		out = append(out, s)
	}
	return out
}

func (r *reader) integer(field string) int {
	v, ok := r.doc[field]
	if !ok || v == nil {
		r.fail(field, "missing")
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		if n != math.Trunc(n) {
			r.fail(field, "expected an integer, got %v", n)
			return 0
		}
		return int(n)
	}
	r.fail(field, "expected an integer, got %T", v)
	return 0
}
