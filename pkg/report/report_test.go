// Copyright 2016 Ericsson AB All Rights Reserved.

package report

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erixzone/repman/pkg/replicate"
)

func fixture(t *testing.T) (*replicate.Store, []Row) {
	store := replicate.NewStore(t.TempDir())
	exps := []string{"ex_a", "ex_b"}
	require.Nil(t, store.Prepare(exps, 2))

	a1 := replicate.Replicate{Experiment: "ex_a", Index: 1}
	require.Nil(t, store.Write(a1, replicate.Running))
	require.Nil(t, store.Write(a1, replicate.Interrupted))
	for _, gen := range []string{"gen_5", "gen_12"} {
		require.Nil(t, ioutil.WriteFile(filepath.Join(a1.Dir(store.Root), gen), nil, 0644))
	}
	b0 := replicate.Replicate{Experiment: "ex_b", Index: 0}
	require.Nil(t, store.Write(b0, replicate.Running))

	rows, err := Collect(store, exps, 2)
	require.Nil(t, err)
	return store, rows
}

func TestCollect(t *testing.T) {
	_, rows := fixture(t)
	require.Len(t, rows, 4)

	assert.Equal(t, "ex_a/exp_0", rows[0].Replicate.String())
	assert.Equal(t, replicate.Ready, rows[0].Status)
	assert.Equal(t, NoGeneration, rows[0].Generation)

	assert.Equal(t, replicate.Interrupted, rows[1].Status)
	assert.Equal(t, 12, rows[1].Generation)

	assert.Equal(t, replicate.Running, rows[2].Status)

	assert.Equal(t, map[replicate.Status]int{
		replicate.Ready:       2,
		replicate.Running:     1,
		replicate.Interrupted: 1,
		replicate.Done:        0,
	}, Totals(rows))
}

func TestWrite(t *testing.T) {
	_, rows := fixture(t)
	var buf bytes.Buffer
	require.Nil(t, Write(&buf, rows))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, []string{"EXPERIMENT", "REPLICATE", "STATUS", "GENERATION"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"ex_a", "0", "ready", "-"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"ex_a", "1", "interrupted", "12"}, strings.Fields(lines[2]))
	assert.Equal(t, strings.Index(lines[0], "STATUS"), strings.Index(lines[2], "interrupted"))
	assert.Equal(t, "ready 2  running 1  interrupted 1  done 0  total 4", lines[5])
}

func TestWriteMetrics(t *testing.T) {
	_, rows := fixture(t)
	path := filepath.Join(t.TempDir(), "repman.prom")
	require.Nil(t, WriteMetrics(path, rows))

	b, err := ioutil.ReadFile(path)
	require.Nil(t, err)
	text := string(b)
	for _, want := range []string{
		"# TYPE repman_replicates gauge",
		`repman_replicates{experiment="ex_a",status="ready"} 1`,
		`repman_replicates{experiment="ex_a",status="interrupted"} 1`,
		`repman_replicates{experiment="ex_b",status="done"} 0`,
		`repman_last_generation{experiment="ex_a",replicate="1"} 12`,
		`repman_last_generation{experiment="ex_b",replicate="0"} -1`,
	} {
		assert.Contains(t, text, want)
	}
}

func TestWriteMetricsBadPath(t *testing.T) {
	_, rows := fixture(t)
	err := WriteMetrics(filepath.Join(t.TempDir(), "missing", "repman.prom"), rows)
	assert.NotNil(t, err)
}
