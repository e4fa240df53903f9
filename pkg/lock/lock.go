// Copyright 2016 Ericsson AB All Rights Reserved.

/*
Package lock serializes replicate selection across independent manager
processes sharing a results directory. The lock is a single file,
dir/lock, created with O_CREATE|O_EXCL so that two managers can never
both believe they created it. Waiters poll until it disappears.

The file holds "host pid token". Release removes the file only while it
still carries the holder's token, so a manager never deletes a lock it
does not own.
*/
package lock

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/erixzone/repman/pkg/util/log"
)

// Name is the lock file name inside the locked directory.
const Name = "lock"

// DefaultPollInterval is how often a waiter checks the lock file.
const DefaultPollInterval = time.Second

// ErrNotHeld is returned by Release when the lock file is gone or has
// been replaced by another owner.
var ErrNotHeld = errors.New("lock not held")

// Options tune Acquire.
type Options struct {
	// PollInterval between attempts; DefaultPollInterval if zero.
	PollInterval time.Duration

	// Timeout bounds the total wait; zero waits forever.
	Timeout time.Duration

	// BreakStale removes a lock whose owner is a dead process on this host.
	BreakStale bool
}

// TimeoutError is returned when Options.Timeout expires.
type TimeoutError struct {
	Path   string
	Waited time.Duration
	Owner  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s (held by %s)", e.Waited, e.Path, e.Owner)
}

// Lock is a held directory lock.
type Lock struct {
	path  string
	token string
	once  sync.Once
	err   error
}

// Acquire blocks until it has created dir/lock or ctx is done.
func Acquire(ctx context.Context, dir string, opts Options) (*Lock, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	path := filepath.Join(dir, Name)
	o := newOwner()
	start := time.Now()

	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		t := time.NewTimer(opts.Timeout)
		defer t.Stop()
		deadline = t.C
	}
	tick := time.NewTicker(opts.PollInterval)
	defer tick.Stop()

	waiting := false
	for {
		err := create(path, o)
		if err == nil {
			if waiting {
				log.WithField("waited", time.Since(start).Round(time.Millisecond)).Debugf("acquired %s", path)
			}
			return &Lock{path: path, token: o.token}, nil
		}
		if !os.IsExist(errors.Cause(err)) {
			return nil, err
		}

		holder, _ := readOwner(path)
		if opts.BreakStale && holder.stale() {
			broken, err := breakStale(path, holder)
			if err != nil {
				return nil, err
			}
			if broken {
				continue
			}
		}
		if !waiting {
			log.WithField("owner", holder).Infof("waiting for %s", path)
			waiting = true
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, &TimeoutError{Path: path, Waited: time.Since(start), Owner: holder.String()}
		case <-tick.C:
		}
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release removes the lock file if it still belongs to l. Only the first
// call does anything; later calls return the same result.
func (l *Lock) Release() error {
	l.once.Do(func() {
		o, err := readOwner(l.path)
		if err != nil {
			if os.IsNotExist(errors.Cause(err)) {
				l.err = ErrNotHeld
				return
			}
			l.err = err
			return
		}
		if o.token != l.token {
			l.err = ErrNotHeld
			return
		}
		if err := os.Remove(l.path); err != nil {
			l.err = errors.Wrapf(err, "release %s", l.path)
		}
	})
	return l.err
}

// breakStale removes the lock at path if it still belongs to holder and
// reports whether it did. Breakers serialize on a second lock file, and
// the owner is read again under it: a dead owner cannot release, and
// nobody can create path while it exists, so the file cannot change
// between that read and the remove.
func breakStale(path string, holder owner) (bool, error) {
	breaker := path + ".break"
	if err := create(breaker, newOwner()); err != nil {
		if !os.IsExist(errors.Cause(err)) {
			return false, errors.Wrapf(err, "break stale lock %s", path)
		}
		if b, _ := readOwner(breaker); b.stale() {
			os.Remove(breaker)
		}
		return false, nil
	}
	defer os.Remove(breaker)

	got, err := readOwner(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "break stale lock %s", path)
	}
	if got != holder {
		return false, nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, errors.Wrapf(err, "break stale lock %s", path)
	}
	log.WithField("owner", holder).Warnf("broke stale lock %s", path)
	return true, nil
}

func create(path string, o owner) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	_, err = f.WriteString(o.String() + "\n")
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

type owner struct {
	host  string
	pid   int
	token string
}

func newOwner() owner {
	host, _ := os.Hostname()
	return owner{host: host, pid: os.Getpid(), token: uuid.New()}
}

func (o owner) String() string {
	if o.host == "" && o.pid == 0 {
		return "unknown"
	}
	return fmt.Sprintf("%s %d %s", o.host, o.pid, o.token)
}

// readOwner parses a lock file. Lock files written by other tools (an
// empty file, for instance) parse as an unknown owner.
func readOwner(path string) (owner, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return owner{}, err
	}
	f := strings.Fields(string(b))
	if len(f) != 3 {
		return owner{}, nil
	}
	pid, err := strconv.Atoi(f[1])
	if err != nil {
		return owner{}, nil
	}
	return owner{host: f[0], pid: pid, token: f[2]}, nil
}

// stale reports whether the owner is a process on this host that no
// longer exists. Unknown owners are never stale.
func (o owner) stale() bool {
	if o.pid <= 0 {
		return false
	}
	host, err := os.Hostname()
	if err != nil || host != o.host {
		return false
	}
	return unix.Kill(o.pid, 0) == unix.ESRCH
}
