// Copyright 2016 Ericsson AB All Rights Reserved.

package replicate

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/erixzone/repman/pkg/util/log"
)

const statusName = "status"

// Store reads and writes replicate status files below a results
// directory. Reads take no lock; writes to a replicate are expected to
// come from the manager that claimed it.
type Store struct {
	Root string

	// DoneMarker, when set, names a file whose presence in a replicate
	// directory makes the replicate read as Done.
	DoneMarker string
}

// NewStore returns a Store rooted at resDir.
func NewStore(resDir string) *Store {
	return &Store{Root: resDir}
}

func (s *Store) statusPath(r Replicate) string {
	return filepath.Join(r.Dir(s.Root), statusName)
}

// Read returns the status of r. A replicate without a status file is
// Ready; nothing is written.
func (s *Store) Read(r Replicate) (Status, error) {
	if s.DoneMarker != "" {
		if _, err := os.Stat(filepath.Join(r.Dir(s.Root), s.DoneMarker)); err == nil {
			return Done, nil
		}
	}
	b, err := ioutil.ReadFile(s.statusPath(r))
	if isNotExist(err) {
		return Ready, nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "read status of %s", r)
	}
	st, err := ParseStatus(string(b))
	if err != nil {
		return "", errors.Wrapf(err, "status of %s", r)
	}
	return st, nil
}

// Write moves r to status to. The move must be allowed by the transition
// table; the file is replaced atomically and parent directories are
// created as needed.
func (s *Store) Write(r Replicate, to Status) error {
	from, err := s.Read(r)
	if err != nil {
		return err
	}
	if !CanTransition(from, to) {
		return &TransitionError{Replicate: r, From: from, To: to}
	}
	if err := s.put(r, to); err != nil {
		return err
	}
	log.WithReplicate(r.Experiment, r.Index).Debugf("status %s -> %s", from, to)
	return nil
}

func (s *Store) put(r Replicate, st Status) error {
	dir := r.Dir(s.Root)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	tmp, err := ioutil.TempFile(dir, "."+statusName+".")
	if err != nil {
		return errors.Wrapf(err, "write status of %s", r)
	}
	_, err = tmp.WriteString(string(st))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), 0644)
	}
	if err == nil {
		err = os.Rename(tmp.Name(), s.statusPath(r))
	}
	if err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "write status of %s", r)
	}
	return nil
}

// Prepare creates every replicate directory and gives each replicate
// without a status file an explicit ready one. Another manager doing the
// same at the same time is harmless.
func (s *Store) Prepare(exps []string, reps int) error {
	for _, r := range replicates(exps, reps) {
		dir := r.Dir(s.Root)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
		f, err := os.OpenFile(s.statusPath(r), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "create status of %s", r)
		}
		_, err = f.WriteString(string(Ready))
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return errors.Wrapf(err, "create status of %s", r)
		}
	}
	return nil
}

// List returns every configured replicate with its status, experiment
// major and index minor, in configuration order. Replicates whose status
// cannot be read are logged and left out.
func (s *Store) List(exps []string, reps int) ([]Entry, error) {
	var out []Entry
	for _, r := range replicates(exps, reps) {
		st, err := s.Read(r)
		if err != nil {
			log.WithReplicate(r.Experiment, r.Index).WithError(err).Warn("skipping replicate")
			continue
		}
		out = append(out, Entry{Replicate: r, Status: st})
	}
	return out, nil
}

// ListOpen is List restricted to replicates that still have work: ready
// and interrupted ones.
func (s *Store) ListOpen(exps []string, reps int) ([]Entry, error) {
	all, err := s.List(exps, reps)
	if err != nil {
		return nil, err
	}
	open := all[:0]
	for _, e := range all {
		if e.Status.Open() {
			open = append(open, e)
		}
	}
	return open, nil
}

func replicates(exps []string, reps int) []Replicate {
	if reps < 0 {
		reps = 0
	}
	out := make([]Replicate, 0, len(exps)*reps)
	for _, e := range exps {
		for i := 0; i < reps; i++ {
			out = append(out, Replicate{Experiment: e, Index: i})
		}
	}
	return out
}

func isNotExist(err error) bool {
	return err != nil && os.IsNotExist(errors.Cause(err))
}
