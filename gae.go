package anyppo

import (
	"github.com/unixpickle/essentials"
	"gonum.org/v1/gonum/stat"
)

// An AdvantageTable holds per-transition advantage and
// return estimates in the same layout as the buffer that
// produced them.
// It is computed once per iteration and then discarded.
type AdvantageTable struct {
	envs int

	Adv [][]float64
	Ret [][]float64
}

// Gather extracts advantages and returns for a set of
// flattened timestep-major indices.
func (a *AdvantageTable) Gather(indices []int) (advs, rets []float64) {
	advs = make([]float64, len(indices))
	rets = make([]float64, len(indices))
	for i, idx := range indices {
		t, env := idx/a.envs, idx%a.envs
		advs[i] = a.Adv[t][env]
		rets[i] = a.Ret[t][env]
	}
	return
}

// An AdvantageEstimator computes generalized advantage
// estimates over a filled rollout buffer.
// See https://arxiv.org/abs/1506.02438.
type AdvantageEstimator struct {
	// Discount is the reward discount factor.
	Discount float64

	// Lambda is the GAE trace decay.
	Lambda float64

	// NormalizeWholeBatch rescales all advantages to zero
	// mean and unit variance after estimation.
	// Leave it unset when normalization happens per
	// minibatch during the update instead.
	NormalizeWholeBatch bool
}

// Estimate runs the backward recursion over a fully
// populated buffer, bootstrapping the final step with one
// value estimate per environment.
//
// Intrinsic rewards recorded in the buffer are added to
// the extrinsic rewards before the recursion.
func (a *AdvantageEstimator) Estimate(buf *RolloutBuffer, lastValues []float64) (table *AdvantageTable, err error) {
	defer essentials.AddCtxTo("estimate advantages", &err)
	if !buf.Full() {
		return nil, &CapacityError{Timestep: -1, Env: -1, Reason: "not fully populated"}
	}
	if len(lastValues) != buf.Envs() {
		return nil, &CapacityError{Timestep: -1, Env: -1,
			Reason: "bootstrap value count does not match environment count"}
	}

	steps, envs := buf.Steps(), buf.Envs()
	table = &AdvantageTable{envs: envs}
	table.Adv = make([][]float64, steps)
	table.Ret = make([][]float64, steps)
	for t := range table.Adv {
		table.Adv[t] = make([]float64, envs)
		table.Ret[t] = make([]float64, envs)
	}

	for env := 0; env < envs; env++ {
		var accumulation float64
		for t := steps - 1; t >= 0; t-- {
			tr := buf.At(t, env)
			nextValue := lastValues[env]
			if t+1 < steps {
				nextValue = buf.At(t+1, env).Value
			}
			notDone := 1.0
			if tr.Done {
				notDone = 0
			}
			reward := tr.Reward + tr.Intrinsic
			delta := reward + a.Discount*nextValue*notDone - tr.Value
			accumulation = delta + a.Discount*a.Lambda*notDone*accumulation
			table.Adv[t][env] = accumulation
			table.Ret[t][env] = accumulation + tr.Value
		}
	}

	if a.NormalizeWholeBatch {
		flat := make([]float64, 0, steps*envs)
		for t := range table.Adv {
			flat = append(flat, table.Adv[t]...)
		}
		normalizeAdvantages(flat)
		for t := range table.Adv {
			copy(table.Adv[t], flat[t*envs:(t+1)*envs])
		}
	}
	return table, nil
}

// normalizeAdvantages rescales values to zero mean and
// unit variance in place.
func normalizeAdvantages(vals []float64) {
	if len(vals) < 2 {
		for i := range vals {
			vals[i] = 0
		}
		return
	}
	mean := stat.Mean(vals, nil)
	std := stat.StdDev(vals, nil)
	for i, x := range vals {
		vals[i] = (x - mean) / (std + 1e-8)
	}
}
