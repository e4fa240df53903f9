// Copyright 2016 Ericsson AB All Rights Reserved.

/*
Package manager runs one claim cycle: lock the results directory, pick
an open replicate, mark it running, unlock, then launch the experiment
binary on it and relay signals until it ends.

Managers started on different compute slots coordinate only through
the filesystem: the directory lock serializes selection, and the
running status keeps other managers off a claimed replicate. Create and
rename are assumed to become visible to other hosts immediately, which
holds for local and POSIX shared filesystems but not for every network
filesystem.
*/
package manager

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/erixzone/repman/pkg/launch"
	"github.com/erixzone/repman/pkg/lock"
	"github.com/erixzone/repman/pkg/policy"
	"github.com/erixzone/repman/pkg/replicate"
	"github.com/erixzone/repman/pkg/runconf"
	"github.com/erixzone/repman/pkg/util/log"
)

// ErrNoOpenWork means every configured replicate is running or done.
// It is informational, not a failure.
var ErrNoOpenWork = errors.New("no open replicate")

// Options configure a Manager beyond the experiment configuration.
type Options struct {
	Lock     lock.Options
	MarkDone bool
}

// Manager claims and runs replicates for one experiment configuration.
type Manager struct {
	Config   *runconf.Config
	Store    *replicate.Store
	Policy   policy.Policy
	Launcher *launch.Launcher
	Lock     lock.Options
}

// New returns a Manager for cfg using policy p.
func New(cfg *runconf.Config, p policy.Policy, opts Options) (*Manager, error) {
	extra, err := cfg.ExtraArgs()
	if err != nil {
		return nil, &runconf.ConfigError{Path: cfg.Path(), Field: "args", Err: err}
	}
	store := replicate.NewStore(cfg.ResDir)
	store.DoneMarker = cfg.LastFile
	return &Manager{
		Config: cfg,
		Store:  store,
		Policy: p,
		Launcher: &launch.Launcher{
			BinDir:    cfg.BinDir,
			ExtraArgs: extra,
			Store:     store,
			MarkDone:  opts.MarkDone,
		},
		Lock: opts.Lock,
	}, nil
}

// Claim is a replicate this manager marked running.
type Claim struct {
	// Entry holds the replicate and the status it had before the claim.
	replicate.Entry

	// Checkpoint to resume from; nil for a fresh start.
	Checkpoint *replicate.Checkpoint
}

// Job converts the claim into something the launcher can run.
func (c *Claim) Job(resDir string) launch.Job {
	job := launch.Job{Replicate: c.Replicate, Dir: c.Dir(resDir)}
	if c.Checkpoint != nil {
		job.Resume = c.Checkpoint.Path
	}
	return job
}

// Claim selects and marks running one open replicate while holding the
// directory lock. The lock is released before Claim returns, whatever
// the outcome. With nothing open it returns ErrNoOpenWork.
func (m *Manager) Claim(ctx context.Context) (c *Claim, err error) {
	cfg := m.Config
	if err := os.MkdirAll(cfg.ResDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create %s", cfg.ResDir)
	}
	lk, err := lock.Acquire(ctx, cfg.ResDir, m.Lock)
	if err != nil {
		return nil, errors.Wrap(err, "lock results directory")
	}
	defer func() {
		if rerr := lk.Release(); rerr != nil {
			log.WithError(rerr).Errorf("release %s", lk.Path())
			if err == nil {
				err = errors.Wrap(rerr, "release lock")
			}
		}
	}()

	if err := m.Store.Prepare(cfg.Exps, cfg.Replicates); err != nil {
		return nil, err
	}
	open, err := m.Store.ListOpen(cfg.Exps, cfg.Replicates)
	if err != nil {
		return nil, err
	}
	log.Infof("%d open replicates for %v x %d", len(open), cfg.Exps, cfg.Replicates)
	if len(open) == 0 {
		return nil, ErrNoOpenWork
	}

	e, err := m.Policy.Select(open, m.generation)
	if err != nil {
		return nil, err
	}
	c = &Claim{Entry: e}
	if e.Status == replicate.Interrupted {
		cp, err := m.Store.LastCheckpoint(e.Replicate)
		if err != nil {
			return nil, err
		}
		c.Checkpoint = &cp
	}
	if err := m.Store.Write(e.Replicate, replicate.Running); err != nil {
		return nil, err
	}
	elog := log.WithReplicate(e.Experiment, e.Index).WithField("was", e.Status)
	if c.Checkpoint != nil {
		elog = elog.WithField("gen", c.Checkpoint.Generation)
	}
	elog.Info("claimed")
	return c, nil
}

func (m *Manager) generation(r replicate.Replicate) (int, error) {
	cp, err := m.Store.LastCheckpoint(r)
	if err != nil {
		return 0, err
	}
	return cp.Generation, nil
}

func (m *Manager) unclaim(c *Claim) error {
	if err := m.Store.Write(c.Replicate, c.Status); err != nil {
		return err
	}
	log.WithReplicate(c.Experiment, c.Index).Infof("claim returned to %s", c.Status)
	return nil
}

// Outcome summarizes a Run.
type Outcome struct {
	// NoWork is set when there was nothing to claim.
	NoWork bool

	Claim  *Claim
	Result *launch.Result

	// Signal is set when a signal cut the cycle short, either while
	// claiming or while the binary ran.
	Signal os.Signal
}

// Run performs one full cycle. Signals on sigs interrupt it: while
// claiming they abort the lock wait and undo a claim that already
// landed; once the binary runs they are relayed by the launcher. Errors
// from claiming are returned even when a signal arrived meanwhile, and a
// claim that cannot be launched is undone.
func (m *Manager) Run(ctx context.Context, sigs <-chan os.Signal) (*Outcome, error) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := make(chan struct{})
	caught := make(chan os.Signal, 1)
	go func() {
		select {
		case s := <-sigs:
			caught <- s
			cancel()
		case <-stop:
			caught <- nil
		}
	}()
	c, err := m.Claim(cctx)
	close(stop)
	sig := <-caught

	// A claim that will not be launched goes back to its prior status.
	if c != nil && (sig != nil || err != nil) {
		if uerr := m.unclaim(c); uerr != nil {
			if err == nil {
				err = uerr
			} else {
				log.WithError(uerr).Errorf("%s left running", c.Replicate)
			}
		}
	}
	if sig != nil {
		log.Warnf("got %v while claiming", sig)
	}
	switch cause := errors.Cause(err); {
	case cause == ErrNoOpenWork:
		log.Info("no open work")
		return &Outcome{NoWork: true, Signal: sig}, nil
	case sig != nil && (err == nil || cause == context.Canceled):
		return &Outcome{Signal: sig}, nil
	case err != nil:
		return nil, err
	}

	res, err := m.Launcher.Run(ctx, c.Job(m.Config.ResDir), sigs)
	out := &Outcome{Claim: c, Result: res}
	if res != nil {
		out.Signal = res.Signal
	}
	return out, err
}
