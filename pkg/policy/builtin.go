// Copyright 2016 Ericsson AB All Rights Reserved.

package policy

import (
	"math/rand"
	"sync"
	"time"

	"github.com/erixzone/repman/pkg/replicate"
)

func init() {
	for name, f := range map[string]Factory{
		"first":  func() Policy { return First{} },
		"random": func() Policy { return NewRandom(rand.NewSource(time.Now().UnixNano())) },
		"fair":   func() Policy { return Fair{} },
	} {
		if err := Register(name, f); err != nil {
			panic(err)
		}
	}
}

// First claims the first open replicate in configuration order.
type First struct{}

// Select implements Policy.
func (First) Select(open []replicate.Entry, _ GenerationFunc) (replicate.Entry, error) {
	if len(open) == 0 {
		return replicate.Entry{}, ErrEmpty
	}
	return open[0], nil
}

// Random claims an open replicate uniformly at random.
type Random struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRandom returns a Random policy drawing from src.
func NewRandom(src rand.Source) *Random {
	return &Random{r: rand.New(src)}
}

// Select implements Policy.
func (p *Random) Select(open []replicate.Entry, _ GenerationFunc) (replicate.Entry, error) {
	if len(open) == 0 {
		return replicate.Entry{}, ErrEmpty
	}
	p.mu.Lock()
	i := p.r.Intn(len(open))
	p.mu.Unlock()
	return open[i], nil
}

// Fair gives new work priority over resuming, and otherwise resumes the
// least advanced interrupted replicate so that no experiment monopolizes
// the available slots.
type Fair struct{}

// Select implements Policy. The first ready entry wins outright. With
// none ready, the interrupted entry with the smallest last generation is
// chosen, earliest in scan order on ties. Errors from gen abort the
// selection.
func (Fair) Select(open []replicate.Entry, gen GenerationFunc) (replicate.Entry, error) {
	if len(open) == 0 {
		return replicate.Entry{}, ErrEmpty
	}
	for _, e := range open {
		if e.Status == replicate.Ready {
			return e, nil
		}
	}
	best, bestGen := -1, 0
	for i, e := range open {
		if e.Status != replicate.Interrupted {
			continue
		}
		g, err := gen(e.Replicate)
		if err != nil {
			return replicate.Entry{}, err
		}
		if best < 0 || g < bestGen {
			best, bestGen = i, g
		}
	}
	if best < 0 {
		return replicate.Entry{}, ErrEmpty
	}
	return open[best], nil
}
