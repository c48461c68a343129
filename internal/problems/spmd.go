// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problems

import (
	"errors"
	"fmt"

	"github.com/curioloop/largemin/partvec"
)

// SPMDInstance is the partitioned form of a problem family on one rank.
// The closures reduce partial sums through the communicator they are invoked
// with, so every rank of a group must call them in the same order.
type SPMDInstance struct {
	// Func evaluates the global objective from the local shard of x.
	Func partvec.Func
	// Grad stores the local shard of the global gradient into g.
	Grad partvec.Grad
	// Start is the local shard of the recommended starting point.
	Start []float64
	// Best is the local shard of the known minimizer.
	Best []float64
}

// BuildSPMD instantiates the partitioned form of a problem family for the
// shard of length local starting at global index offset. Families whose
// objective couples coordinates across shard boundaries have no partitioned
// form.
func BuildSPMD(name string, local, offset int) (SPMDInstance, error) {

	switch {
	case local < 0:
		return SPMDInstance{}, errors.New("problems: shard length must not less than 0")
	case offset < 0:
		return SPMDInstance{}, errors.New("problems: shard offset must not less than 0")
	}

	if _, err := Get(name); err != nil {
		return SPMDInstance{}, err
	}

	inst := SPMDInstance{
		Start: make([]float64, local),
		Best:  make([]float64, local),
	}
	for i := range inst.Best {
		inst.Best[i] = float64(offset + i)
	}

	switch name {
	case "sphere":
		inst.Func, inst.Grad = spmdSphere(offset)
	case "scaled":
		inst.Func, inst.Grad = spmdScaled(offset)
		for i := range inst.Start {
			inst.Start[i] = 1000.0
		}
	default:
		return SPMDInstance{}, fmt.Errorf("problems: %q has no partitioned form", name)
	}
	return inst, nil
}

func spmdSphere(offset int) (partvec.Func, partvec.Grad) {
	fn := func(c partvec.Comm, x []float64) float64 {
		sum := 0.0
		for i, v := range x {
			d := v - float64(offset+i)
			sum += d * d
		}
		return c.AllReduceSum(partvec.OpValue, sum)[0] / 2
	}
	gr := func(c partvec.Comm, g, x []float64) {
		for i, v := range x {
			g[i] = v - float64(offset+i)
		}
	}
	return fn, gr
}

func spmdScaled(offset int) (partvec.Func, partvec.Grad) {
	fn := func(c partvec.Comm, x []float64) float64 {
		local := 0.0
		for i, v := range x {
			ci := float64(offset + i)
			d := v - ci
			local += d * d / (2 * (ci + 1) * (ci + 1))
		}
		s := c.AllReduceSum(partvec.OpValue, local)[0]
		return s * s / 2
	}
	gr := func(c partvec.Comm, g, x []float64) {
		local := 0.0
		for i, v := range x {
			ci := float64(offset + i)
			d := v - ci
			local += d * d / ((ci + 1) * (ci + 1))
		}
		t := c.AllReduceSum(partvec.OpGradient, local)[0]
		for i, v := range x {
			ci := float64(offset + i)
			g[i] = (v - ci) * t / (2 * (ci + 1) * (ci + 1))
		}
	}
	return fn, gr
}
