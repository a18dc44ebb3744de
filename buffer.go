package anyppo

import "math/rand"

// A Transition is one recorded timestep for one
// environment instance.
// It is immutable once recorded.
type Transition struct {
	// Obs holds one row of every referenced observation
	// component.
	Obs map[string][]float64

	// Action is the sampled action that was sent to the
	// environment, or the regression target when a
	// distiller records the teacher policy's means.
	Action []float64

	// LogProb is the log density of Action under the
	// distribution it was sampled from.
	LogProb float64

	// Value is the critic's estimate for Obs.
	Value float64

	// Mean and Std describe the action distribution at
	// sampling time.
	Mean []float64
	Std  []float64

	// Reward is the extrinsic reward, with the time-limit
	// bootstrap already applied when the step timed out.
	Reward float64

	// Intrinsic is the weighted intrinsic reward, or 0
	// when exploration bonuses are disabled.
	Intrinsic float64

	Done    bool
	TimeOut bool
}

// A RolloutBuffer stores a fixed horizon of transitions
// for every parallel environment instance.
//
// It is filled once per iteration, consumed read-only, and
// reset before the next iteration.
// The buffer never interprets reward semantics.
type RolloutBuffer struct {
	steps int
	envs  int

	grid   [][]Transition
	filled [][]bool
	count  int
}

// NewRolloutBuffer creates an empty buffer for the given
// horizon and environment count.
func NewRolloutBuffer(steps, envs int) (*RolloutBuffer, error) {
	if steps <= 0 {
		return nil, configErrorf("num_steps_per_env", "must be positive, got %d", steps)
	}
	if envs <= 0 {
		return nil, configErrorf("num_envs", "must be positive, got %d", envs)
	}
	res := &RolloutBuffer{steps: steps, envs: envs}
	res.grid = make([][]Transition, steps)
	res.filled = make([][]bool, steps)
	for t := range res.grid {
		res.grid[t] = make([]Transition, envs)
		res.filled[t] = make([]bool, envs)
	}
	return res, nil
}

// Steps returns the horizon length.
func (r *RolloutBuffer) Steps() int {
	return r.steps
}

// Envs returns the number of environment instances.
func (r *RolloutBuffer) Envs() int {
	return r.envs
}

// Size returns the total number of slots.
func (r *RolloutBuffer) Size() int {
	return r.steps * r.envs
}

// Full reports whether every slot has been recorded.
func (r *RolloutBuffer) Full() bool {
	return r.count == r.Size()
}

// Record stores one transition.
// It fails with a CapacityError if the indices are out of
// bounds or the slot was already recorded.
func (r *RolloutBuffer) Record(t, env int, tr Transition) error {
	if t < 0 || t >= r.steps {
		return &CapacityError{Timestep: t, Env: env, Reason: "timestep out of range"}
	}
	if env < 0 || env >= r.envs {
		return &CapacityError{Timestep: t, Env: env, Reason: "environment index out of range"}
	}
	if r.filled[t][env] {
		return &CapacityError{Timestep: t, Env: env, Reason: "slot already recorded"}
	}
	r.grid[t][env] = tr
	r.filled[t][env] = true
	r.count++
	return nil
}

// At returns the transition at a slot.
func (r *RolloutBuffer) At(t, env int) *Transition {
	return &r.grid[t][env]
}

// Reset clears every slot for the next iteration.
func (r *RolloutBuffer) Reset() {
	for t := range r.filled {
		for i := range r.filled[t] {
			r.filled[t][i] = false
		}
	}
	r.count = 0
}

// MiniBatches splits the full pool of transitions into num
// disjoint minibatches for one epoch.
//
// Every transition appears in exactly one minibatch.
// It fails with a ConfigError when the pool size is not
// divisible by num, and with a CapacityError when the
// buffer is not fully populated.
//
// If rng is nil, the global generator shuffles.
func (r *RolloutBuffer) MiniBatches(num int, shuffle bool, rng *rand.Rand) (*MiniBatchIter, error) {
	if !r.Full() {
		return nil, &CapacityError{Timestep: -1, Env: -1,
			Reason: "not fully populated"}
	}
	if num <= 0 {
		return nil, configErrorf("num_mini_batches", "must be positive, got %d", num)
	}
	if r.Size()%num != 0 {
		return nil, configErrorf("num_mini_batches",
			"%d transitions not divisible into %d minibatches", r.Size(), num)
	}
	var perm []int
	if shuffle {
		if rng != nil {
			perm = rng.Perm(r.Size())
		} else {
			perm = rand.Perm(r.Size())
		}
	} else {
		perm = make([]int, r.Size())
		for i := range perm {
			perm[i] = i
		}
	}
	return &MiniBatchIter{buf: r, perm: perm, size: r.Size() / num}, nil
}

// A MiniBatchIter lazily yields the minibatches of one
// epoch.
type MiniBatchIter struct {
	buf  *RolloutBuffer
	perm []int
	size int
	idx  int
}

// Next returns the next minibatch, or nil when the epoch
// is exhausted.
func (m *MiniBatchIter) Next() *MiniBatch {
	if m.idx >= len(m.perm) {
		return nil
	}
	batch := &MiniBatch{buf: m.buf, indices: m.perm[m.idx : m.idx+m.size]}
	m.idx += m.size
	return batch
}

// A MiniBatch is a view of a subset of a full rollout,
// identified by flattened timestep-major indices.
type MiniBatch struct {
	buf     *RolloutBuffer
	indices []int
}

// Len returns the number of transitions in the batch.
func (m *MiniBatch) Len() int {
	return len(m.indices)
}

// Indices returns the flattened indices of the batch.
func (m *MiniBatch) Indices() []int {
	return m.indices
}

// Transition returns the i-th transition of the batch.
func (m *MiniBatch) Transition(i int) *Transition {
	idx := m.indices[i]
	return m.buf.At(idx/m.buf.envs, idx%m.buf.envs)
}

// GroupObs gathers a consumer's packed observation rows.
func (m *MiniBatch) GroupObs(spec *GroupSpec, consumer string) []float64 {
	comps := spec.Components(consumer)
	cols := spec.Dim(consumer)
	out := make([]float64, m.Len()*cols)
	for i := range m.indices {
		var off int
		for _, name := range comps {
			row := m.Transition(i).Obs[name]
			copy(out[i*cols+off:i*cols+off+len(row)], row)
			off += len(row)
		}
	}
	return out
}

// Actions gathers the packed action rows.
func (m *MiniBatch) Actions(dim int) []float64 {
	out := make([]float64, m.Len()*dim)
	for i := range m.indices {
		copy(out[i*dim:(i+1)*dim], m.Transition(i).Action)
	}
	return out
}

// LogProbs gathers the recorded action log densities.
func (m *MiniBatch) LogProbs() []float64 {
	out := make([]float64, m.Len())
	for i := range m.indices {
		out[i] = m.Transition(i).LogProb
	}
	return out
}

// Values gathers the recorded value estimates.
func (m *MiniBatch) Values() []float64 {
	out := make([]float64, m.Len())
	for i := range m.indices {
		out[i] = m.Transition(i).Value
	}
	return out
}

// Means gathers the packed recorded distribution means.
func (m *MiniBatch) Means(dim int) []float64 {
	out := make([]float64, m.Len()*dim)
	for i := range m.indices {
		copy(out[i*dim:(i+1)*dim], m.Transition(i).Mean)
	}
	return out
}

// Stds gathers the packed recorded distribution standard
// deviations.
func (m *MiniBatch) Stds(dim int) []float64 {
	out := make([]float64, m.Len()*dim)
	for i := range m.indices {
		copy(out[i*dim:(i+1)*dim], m.Transition(i).Std)
	}
	return out
}
