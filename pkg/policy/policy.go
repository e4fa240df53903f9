// Copyright 2016 Ericsson AB All Rights Reserved.

// Package policy decides which open replicate a manager claims.
package policy

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/erixzone/repman/pkg/replicate"
)

// Default is the policy used when none is named.
const Default = "fair"

// ErrEmpty is returned when there is nothing to choose from. Callers are
// expected to check for an empty open set before selecting.
var ErrEmpty = errors.New("no open replicate to select")

// GenerationFunc returns the last completed generation of a replicate.
type GenerationFunc func(replicate.Replicate) (int, error)

// Policy picks one entry from the open set. open is in configuration
// order: experiment major, index minor.
type Policy interface {
	Select(open []replicate.Entry, gen GenerationFunc) (replicate.Entry, error)
}

// Factory constructs a Policy.
type Factory func() Policy

var registered = make(map[string]Factory)
var guard = &sync.Mutex{}

// Register makes a policy available by name. Policies register
// themselves from an init() function; registering a name twice is an
// error.
func Register(name string, f Factory) error {
	guard.Lock()
	defer guard.Unlock()
	if _, ok := registered[name]; ok {
		return fmt.Errorf("policy already registered with name '%s'", name)
	}
	registered[name] = f
	return nil
}

// Get returns a new instance of the named policy.
func Get(name string) (Policy, error) {
	guard.Lock()
	defer guard.Unlock()
	f, ok := registered[name]
	if !ok {
		return nil, fmt.Errorf("unknown policy '%s'", name)
	}
	return f(), nil
}

// Names lists the registered policies, sorted.
func Names() (names []string) {
	guard.Lock()
	defer guard.Unlock()
	for name := range registered {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether name is a known policy.
func IsRegistered(name string) bool {
	guard.Lock()
	defer guard.Unlock()
	_, ok := registered[name]
	return ok
}

// Name is a policy name usable as a command line flag value.
type Name string

func (n *Name) String() string { return string(*n) }

// Set accepts registered policy names only.
func (n *Name) Set(s string) error {
	if !IsRegistered(s) {
		return fmt.Errorf("unknown policy '%s' (one of %s)", s, strings.Join(Names(), ", "))
	}
	*n = Name(s)
	return nil
}

// Type names the flag value type in help output.
func (n *Name) Type() string { return "policy" }
