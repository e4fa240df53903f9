// Copyright 2016 Ericsson AB All Rights Reserved.

package main

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erixzone/repman/pkg/lock"
	"github.com/erixzone/repman/pkg/replicate"
	"github.com/erixzone/repman/pkg/runconf"
)

func TestExitCode(t *testing.T) {
	r := replicate.Replicate{Experiment: "ex_a", Index: 0}
	cases := []struct {
		err  error
		code int
	}{
		{nil, 0},
		{&runconf.ConfigError{Path: "x.json", Err: os.ErrNotExist}, 1},
		{errors.Wrap(&lock.TimeoutError{Path: "res/lock"}, "lock results directory"), 1},
		{&replicate.NoCheckpointError{Replicate: r}, 2},
		{errors.Wrap(&replicate.TransitionError{Replicate: r, From: replicate.Done, To: replicate.Running}, "mark"), 2},
		{errors.New("boom"), 1},
	}
	for _, c := range cases {
		assert.Equal(t, c.code, exitCode(c.err), "%v", c.err)
	}
}

func TestMarkTarget(t *testing.T) {
	cfg := &runconf.Config{Exps: []string{"ex_a", "ex_b"}, Replicates: 3}

	r, st, err := markTarget(cfg, "ex_b", "2", "interrupted")
	require.Nil(t, err)
	assert.Equal(t, replicate.Replicate{Experiment: "ex_b", Index: 2}, r)
	assert.Equal(t, replicate.Interrupted, st)

	for _, args := range [][3]string{
		{"ex_c", "0", "ready"},
		{"ex_a", "3", "ready"},
		{"ex_a", "-1", "ready"},
		{"ex_a", "one", "ready"},
		{"ex_a", "0", "finished"},
	} {
		_, _, err := markTarget(cfg, args[0], args[1], args[2])
		assert.NotNil(t, err, "%v", args)
	}
}

func TestVersionInfo(t *testing.T) {
	b, err := json.Marshal(newVersionConfig())
	require.Nil(t, err)

	var v versionConfig
	require.Nil(t, json.Unmarshal(b, &v))
	assert.Equal(t, repmanVersion, v.Version)
	assert.False(t, v.IsOfficial)
	assert.Equal(t, []string{"fair", "first", "random"}, v.Supports.Policies)
	assert.Contains(t, v.Supports.ConfigFormats, ".json")
}

func TestPolicyList(t *testing.T) {
	assert.Equal(t, "fair|first|random", policyList())
}

type cliFixture struct {
	cfg   string
	res   string
	out   string
	store *replicate.Store
}

// newCLIFixture writes an experiment configuration whose binaries record
// their arguments in $REPMAN_TEST_OUT.
func newCLIFixture(t *testing.T, exps ...string) *cliFixture {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no sh available")
	}
	root := t.TempDir()
	bin := filepath.Join(root, "bin")
	require.Nil(t, os.MkdirAll(bin, 0755))
	for _, exp := range exps {
		script := "#!/bin/sh\necho \"$@\" > \"$REPMAN_TEST_OUT\"\n"
		require.Nil(t, ioutil.WriteFile(filepath.Join(bin, exp), []byte(script), 0755))
	}
	f := &cliFixture{
		cfg: filepath.Join(root, "experiments.json"),
		res: filepath.Join(root, "res"),
		out: filepath.Join(root, "out"),
	}
	b, err := json.Marshal(map[string]interface{}{
		"res_dir":    f.res,
		"bin_dir":    bin,
		"exps":       exps,
		"replicates": 2,
	})
	require.Nil(t, err)
	require.Nil(t, ioutil.WriteFile(f.cfg, b, 0644))
	f.store = replicate.NewStore(f.res)
	t.Setenv("REPMAN_TEST_OUT", f.out)
	return f
}

func execute(args ...string) (string, int) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), exitCode(err)
}

func (f *cliFixture) status(t *testing.T, exp string, idx int) replicate.Status {
	st, err := f.store.Read(replicate.Replicate{Experiment: exp, Index: idx})
	require.Nil(t, err)
	return st
}

func (f *cliFixture) launched(t *testing.T) string {
	b, err := ioutil.ReadFile(f.out)
	require.Nil(t, err)
	return strings.TrimSpace(string(b))
}

func TestCommandLine(t *testing.T) {
	f := newCLIFixture(t, "ex_a", "ex_b")
	a0 := replicate.Replicate{Experiment: "ex_a", Index: 0}
	b1 := replicate.Replicate{Experiment: "ex_b", Index: 1}

	// The policy token wins over --policy.
	_, code := execute("--mark-done", "--policy", "fair", f.cfg, "first")
	require.Equal(t, 0, code)
	assert.Equal(t, "-d "+a0.Dir(f.res), f.launched(t))
	assert.Equal(t, replicate.Done, f.status(t, "ex_a", 0))
	assert.Equal(t, replicate.Ready, f.status(t, "ex_a", 1))

	_, code = execute(f.cfg, "fastest")
	assert.Equal(t, 1, code)

	_, code = execute(filepath.Join(filepath.Dir(f.cfg), "missing.json"))
	assert.Equal(t, 1, code)

	// Leave one interrupted replicate without a checkpoint as the only
	// open work.
	_, code = execute("mark", f.cfg, "ex_b", "1", "running")
	require.Equal(t, 0, code)
	_, code = execute("mark", f.cfg, "ex_b", "1", "interrupted")
	require.Equal(t, 0, code)
	require.Nil(t, f.store.Write(replicate.Replicate{Experiment: "ex_a", Index: 1}, replicate.Running))
	require.Nil(t, f.store.Write(replicate.Replicate{Experiment: "ex_b", Index: 0}, replicate.Running))

	_, code = execute(f.cfg, "fair")
	assert.Equal(t, 2, code)
	assert.Equal(t, replicate.Interrupted, f.status(t, "ex_b", 1))

	// A transition no manager could make is refused the same way.
	_, code = execute("mark", f.cfg, "ex_a", "0", "ready")
	assert.Equal(t, 2, code)
	assert.Equal(t, replicate.Done, f.status(t, "ex_a", 0))

	ckpt := filepath.Join(b1.Dir(f.res), "gen_3")
	require.Nil(t, ioutil.WriteFile(ckpt, nil, 0644))
	_, code = execute(f.cfg)
	require.Equal(t, 0, code)
	assert.Equal(t, "-r "+ckpt+" -d "+b1.Dir(f.res), f.launched(t))
	assert.Equal(t, replicate.Done, f.status(t, "ex_b", 1))

	// Nothing open is not an error.
	_, code = execute(f.cfg)
	assert.Equal(t, 0, code)

	out, code := execute("status", f.cfg)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "interrupted 0")
	assert.Contains(t, out, "total 4")
}
