// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package problems provides a catalog of differentiable objectives with
// known minimizers, used to exercise the minimizer from the command line
// and from tests.
package problems

import (
	"fmt"
	"sort"

	"github.com/curioloop/largemin/densevec"
)

// Instance is a concrete objective of a fixed dimension.
type Instance struct {
	// Func evaluates the objective at x.
	Func densevec.Func
	// Grad stores the analytic gradient at x into g.
	Grad densevec.Grad
	// Start is the recommended starting point.
	Start []float64
	// Best is the known minimizer.
	Best []float64
}

// Problem is a named objective family that can be instantiated at any dimension.
type Problem struct {
	Name string
	Doc  string
	// Build instantiates the family at dimension n.
	Build func(n int) (Instance, error)
}

var catalog = map[string]Problem{}

func register(p Problem) {
	if _, dup := catalog[p.Name]; dup {
		panic("problems: duplicate problem " + p.Name)
	}
	catalog[p.Name] = p
}

// Get looks up a problem family by name.
func Get(name string) (Problem, error) {
	p, found := catalog[name]
	if !found {
		return Problem{}, fmt.Errorf("problems: unknown problem %q (known: %v)", name, Names())
	}
	return p, nil
}

// Names lists the registered problem families in sorted order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
