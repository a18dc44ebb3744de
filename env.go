package anyppo

import "github.com/unixpickle/anyvec"

// Observations maps observation component names to packed
// batches, one row per environment instance.
type Observations map[string]anyvec.Vector

// StepInfo carries auxiliary per-step information from an
// environment.
type StepInfo struct {
	// TimeOuts marks instances whose episodes ended by
	// hitting a time limit rather than by failure.
	// A timed-out instance must also report done.
	TimeOuts []bool
}

// An Env is a batch of simulated environment instances
// which step in lockstep.
//
// Instances reset themselves when their episodes end, so
// Step never returns observations from a finished episode.
type Env interface {
	// NumEnvs returns the number of parallel instances.
	NumEnvs() int

	// NumActions returns the action dimensionality.
	NumActions() int

	// Reset restarts every instance and returns the first
	// batch of observations.
	Reset() (Observations, error)

	// Step advances every instance by one timestep.
	// The actions are packed with one row per instance.
	//
	// It returns the next observations, one reward and one
	// done flag per instance, and optional extra info.
	Step(actions anyvec.Vector) (Observations, []float64, []bool, *StepInfo, error)
}

// A Mirrorer is an environment which knows the mirror
// symmetry of its observation and action spaces.
// Symmetry-based training requires the environment to
// implement it.
type Mirrorer interface {
	// MirrorObs returns the mirrored counterpart of a
	// packed observation batch for a consumer group.
	MirrorObs(group string, obs anyvec.Vector, batch int) anyvec.Vector

	// MirrorActions returns the mirrored counterpart of a
	// packed action batch.
	MirrorActions(actions anyvec.Vector, batch int) anyvec.Vector
}
