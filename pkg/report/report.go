// Copyright 2016 Ericsson AB All Rights Reserved.

// Package report summarizes the state of every replicate for operators,
// as a table or as a Prometheus textfile.
package report

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/erixzone/repman/pkg/replicate"
	"github.com/erixzone/repman/pkg/util/log"
)

// NoGeneration marks a replicate without any checkpoint.
const NoGeneration = -1

// Row is one replicate in a report.
type Row struct {
	replicate.Entry
	Generation int
}

var statuses = []replicate.Status{replicate.Ready, replicate.Running, replicate.Interrupted, replicate.Done}

// Collect reads the status and last checkpoint generation of every
// configured replicate. It takes no lock, so it may observe a claim in
// progress.
func Collect(store *replicate.Store, exps []string, reps int) ([]Row, error) {
	entries, err := store.List(exps, reps)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(entries))
	for _, e := range entries {
		row := Row{Entry: e, Generation: NoGeneration}
		cp, err := store.LastCheckpoint(e.Replicate)
		switch errors.Cause(err).(type) {
		case nil:
			row.Generation = cp.Generation
		case *replicate.NoCheckpointError:
		default:
			log.WithReplicate(e.Experiment, e.Index).WithError(err).Warn("cannot scan checkpoints")
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Totals counts rows per status.
func Totals(rows []Row) map[replicate.Status]int {
	n := make(map[replicate.Status]int, len(statuses))
	for _, st := range statuses {
		n[st] = 0
	}
	for _, r := range rows {
		n[r.Status]++
	}
	return n
}

// Write prints rows as an aligned table followed by per-status totals.
func Write(w io.Writer, rows []Row) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "EXPERIMENT\tREPLICATE\tSTATUS\tGENERATION")
	for _, r := range rows {
		gen := "-"
		if r.Generation != NoGeneration {
			gen = strconv.Itoa(r.Generation)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.Experiment, r.Index, r.Status, gen)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	totals := Totals(rows)
	for _, st := range statuses {
		fmt.Fprintf(w, "%s %d  ", st, totals[st])
	}
	_, err := fmt.Fprintf(w, "total %d\n", len(rows))
	return err
}

// WriteMetrics writes rows to path in the Prometheus text format, for
// pickup by a node exporter textfile collector.
func WriteMetrics(path string, rows []Row) error {
	reps := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "repman_replicates",
			Help: "Number of replicates per experiment and status.",
		},
		[]string{"experiment", "status"},
	)
	gens := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "repman_last_generation",
			Help: "Generation of the newest checkpoint of a replicate, -1 if none.",
		},
		[]string{"experiment", "replicate"},
	)
	reg := prometheus.NewRegistry()
	reg.MustRegister(reps, gens)

	for _, r := range rows {
		for _, st := range statuses {
			reps.WithLabelValues(r.Experiment, string(st)).Add(0)
		}
		reps.WithLabelValues(r.Experiment, string(r.Status)).Inc()
		gens.WithLabelValues(r.Experiment, strconv.Itoa(r.Index)).Set(float64(r.Generation))
	}
	return errors.Wrapf(prometheus.WriteToTextfile(path, reg), "write metrics to %s", path)
}
