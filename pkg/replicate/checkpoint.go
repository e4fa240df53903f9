// Copyright 2016 Ericsson AB All Rights Reserved.

package replicate

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const genPrefix = "gen_"

// Checkpoint is a generation file written by the experiment binary.
type Checkpoint struct {
	Path       string
	Generation int
}

// NoCheckpointError means a replicate is marked interrupted but there is
// nothing to resume it from.
type NoCheckpointError struct {
	Replicate Replicate
	Dir       string
}

func (e *NoCheckpointError) Error() string {
	return fmt.Sprintf("%s: no %s* checkpoint in %s", e.Replicate, genPrefix, e.Dir)
}

// LastCheckpoint returns the gen_<N> file with the largest N in the
// replicate directory. N is compared numerically; names whose suffix is
// not a non-negative integer are skipped.
func (s *Store) LastCheckpoint(r Replicate) (Checkpoint, error) {
	dir := r.Dir(s.Root)
	infos, err := ioutil.ReadDir(dir)
	if err != nil && !isNotExist(err) {
		return Checkpoint{}, errors.Wrapf(err, "scan %s", dir)
	}
	best := Checkpoint{Generation: -1}
	for _, fi := range infos {
		if fi.IsDir() || !strings.HasPrefix(fi.Name(), genPrefix) {
			continue
		}
		suffix := strings.TrimPrefix(fi.Name(), genPrefix)
		if !digits(suffix) {
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		if n > best.Generation {
			best = Checkpoint{Path: filepath.Join(dir, fi.Name()), Generation: n}
		}
	}
	if best.Generation < 0 {
		return Checkpoint{}, &NoCheckpointError{Replicate: r, Dir: dir}
	}
	return best, nil
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
