// Copyright 2016 Ericsson AB All Rights Reserved.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/erixzone/repman/pkg/policy"
	"github.com/erixzone/repman/pkg/runconf"
)

// DO NOT EDIT THIS SECTION!
// These build configuration strings record the provenance of a
// particular build of this binary. They are set with LDFlags:
// go build -ldflags "-X main.repmanCommitID=$(git rev-parse HEAD)"
var (
	repmanBuildDatetime  = "UNKNOWN"
	repmanCommitDatetime = "UNKNOWN"
	repmanCommitID       = "UNKNOWN"
	repmanShortCommitID  = "UNKNOWN"
	repmanBranchName     = "UNKNOWN"
	repmanGitTreeIsClean = "UNKNOWN"
	repmanGitTag         = ""
)

// gitTag is the output of `git describe --tag HEAD` at build time, or the
// release version when the build did not record one.
func gitTag() string {
	if t := strings.TrimSpace(repmanGitTag); t != "" {
		return t
	}
	return repmanVersion
}

func isOfficial() bool {
	// A tag followed by -N-gSHA means N commits since the tag.
	return repmanGitTag != "" && strings.IndexByte(repmanGitTag, '-') == -1
}

type featureConfig struct {
	Policies      []string
	ConfigFormats []string
}

type versionConfig struct {
	Version        string
	BuildDatetime  string
	CommitDatetime string
	CommitID       string
	ShortCommitID  string
	BranchName     string
	GitTreeIsClean bool
	IsOfficial     bool
	Supports       featureConfig
}

func newVersionConfig() *versionConfig {
	return &versionConfig{
		Version:        gitTag(),
		BuildDatetime:  repmanBuildDatetime,
		CommitDatetime: repmanCommitDatetime,
		CommitID:       repmanCommitID,
		ShortCommitID:  repmanShortCommitID,
		BranchName:     repmanBranchName,
		GitTreeIsClean: repmanGitTreeIsClean == "true",
		IsOfficial:     isOfficial(),
		Supports: featureConfig{
			Policies:      policy.Names(),
			ConfigFormats: runconf.Formats(),
		},
	}
}

func printVersion() {
	b, err := json.MarshalIndent(newVersionConfig(), "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error gathering version info: %s\n", err)
		os.Exit(exitFailure)
	}
	fmt.Fprintln(os.Stdout, string(b))
}
