// Copyright 2016 Ericsson AB All Rights Reserved.

// Package replicate keeps the on-disk state of experiment replicates:
// one status file per replicate directory plus the generation files the
// experiment binary leaves behind as checkpoints.
package replicate

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Replicate is one independent run of a named experiment.
type Replicate struct {
	Experiment string
	Index      int
}

// Dir returns the replicate directory below resDir.
func (r Replicate) Dir(resDir string) string {
	return filepath.Join(resDir, r.Experiment, "exp_"+strconv.Itoa(r.Index))
}

func (r Replicate) String() string {
	return fmt.Sprintf("%s/exp_%d", r.Experiment, r.Index)
}

// Status is the persisted state of a replicate.
type Status string

// The statuses a status file may hold.
const (
	Ready       Status = "ready"
	Running     Status = "running"
	Interrupted Status = "interrupted"
	Done        Status = "done"
)

// ParseStatus reads a status file's content. Surrounding whitespace is
// ignored so hand-edited files still parse.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.TrimSpace(s)); st {
	case Ready, Running, Interrupted, Done:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Open reports whether work remains for a replicate in this status.
func (s Status) Open() bool {
	return s == Ready || s == Interrupted
}

// running -> ready only happens when a claim is abandoned before the
// binary was started.
var transitions = map[Status][]Status{
	Ready:       {Running},
	Running:     {Interrupted, Done, Ready},
	Interrupted: {Running},
}

// CanTransition reports whether a replicate may move from one status to
// another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError rejects a status write that the state machine does not
// allow.
type TransitionError struct {
	Replicate Replicate
	From, To  Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: invalid status transition %s -> %s", e.Replicate, e.From, e.To)
}

// Entry pairs a replicate with the status it was read in.
type Entry struct {
	Replicate
	Status Status
}

func (e Entry) String() string {
	return fmt.Sprintf("%s(%s)", e.Replicate, e.Status)
}
