// Copyright 2016 Ericsson AB All Rights Reserved.

/*
Package launch starts the experiment binary on a claimed replicate and
relays interrupt and quit signals to it.

When a signal arrives the launcher forwards it to the child, records the
replicate as interrupted and returns at once without waiting for the
child. The binary is trusted to write a checkpoint before it reacts to
the signal; that is not verified here.
*/
package launch

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"github.com/erixzone/repman/pkg/replicate"
	"github.com/erixzone/repman/pkg/util/log"
)

// Job is a claimed replicate ready to launch.
type Job struct {
	replicate.Replicate

	// Dir is the replicate directory handed to the binary with -d.
	Dir string

	// Resume is the checkpoint to resume from; empty for a fresh start.
	Resume string
}

// Launcher runs experiment binaries found in BinDir.
type Launcher struct {
	BinDir string

	// ExtraArgs are appended to every command line.
	ExtraArgs []string

	// Store records interrupted (and, with MarkDone, done) replicates.
	Store *replicate.Store

	// MarkDone writes the done status when the binary exits cleanly.
	MarkDone bool

	Stdout, Stderr io.Writer
}

// Result describes how a launched binary ended.
type Result struct {
	Args []string
	Pid  int

	// Signal is the signal relayed to the child; the child may still be
	// running when Run returns.
	Signal os.Signal

	// ExitErr is the child's exit error, nil on a clean exit.
	ExitErr error
}

// Interrupted reports whether Run returned because of a signal.
func (r *Result) Interrupted() bool { return r.Signal != nil }

// Args returns the command line for job: the binary named after the
// experiment, -r <checkpoint> when resuming, -d <dir>, then ExtraArgs.
func (l *Launcher) Args(job Job) []string {
	args := []string{filepath.Join(l.BinDir, job.Experiment)}
	if job.Resume != "" {
		args = append(args, "-r", job.Resume)
	}
	args = append(args, "-d", job.Dir)
	return append(args, l.ExtraArgs...)
}

// Run starts the binary for job, whose replicate must already be marked
// running, and blocks until the binary exits, a signal arrives on sigs,
// or ctx is done. Cancellation is treated as an interrupt.
func (l *Launcher) Run(ctx context.Context, job Job, sigs <-chan os.Signal) (*Result, error) {
	args := l.Args(job)
	elog := log.WithReplicate(job.Experiment, job.Index)

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	elog.Infof("launching: %s", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		prior := replicate.Ready
		if job.Resume != "" {
			prior = replicate.Interrupted
		}
		if werr := l.Store.Write(job.Replicate, prior); werr != nil {
			elog.WithError(werr).Error("cannot release claim")
		}
		return nil, errors.Wrapf(err, "start %s", args[0])
	}
	res := &Result{Args: args, Pid: cmd.Process.Pid}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	var sig os.Signal
	select {
	case err := <-exited:
		res.ExitErr = err
		return res, l.finished(job, res, elog)
	case sig = <-sigs:
	case <-ctx.Done():
		sig = syscall.SIGINT
	}

	elog.Warnf("got %v, forwarding to pid %d", sig, res.Pid)
	res.Signal = sig
	if err := cmd.Process.Signal(sig); err != nil {
		elog.WithError(err).Warn("forward signal")
	}
	if err := l.Store.Write(job.Replicate, replicate.Interrupted); err != nil {
		return res, err
	}
	elog.Info("marked interrupted")
	return res, nil
}

func (l *Launcher) finished(job Job, res *Result, elog *log.Entry) error {
	if res.ExitErr != nil {
		elog.WithError(res.ExitErr).Warn("experiment exited with an error")
		return nil
	}
	elog.Info("experiment exited")
	if !l.MarkDone {
		return nil
	}
	return l.Store.Write(job.Replicate, replicate.Done)
}
