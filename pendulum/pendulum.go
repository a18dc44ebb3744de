// Package pendulum implements a batch of classic pendulum
// swing-up environments.
//
// The task has a natural mirror symmetry, making it a
// convenient demo for symmetry-augmented training.
package pendulum

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/unixpickle/anyppo"
	"github.com/unixpickle/anyvec"
)

// Physical constants of the pendulum dynamics.
const (
	Gravity   = 10
	Mass      = 1
	Length    = 1
	TimeStep  = 0.05
	MaxTorque = 2
	MaxSpeed  = 8
)

// DefaultEpisodeLength is the time limit applied when
// Env.EpisodeLength is unset.
const DefaultEpisodeLength = 200

// Env is a batch of pendulums which must be swung upright
// and balanced by applying torque at the pivot.
//
// There is one observation component, "state", containing
// [cos(theta), sin(theta), theta_dot] per instance.
// Episodes never fail; they end only by time limit, which
// is reported through StepInfo.TimeOuts.
type Env struct {
	// EpisodeLength is the number of steps per episode.
	EpisodeLength int

	creator  anyvec.Creator
	n        int
	theta    []float64
	thetaDot []float64
	steps    []int
	rng      *rand.Rand
}

// New creates a batch of n pendulums.
func New(c anyvec.Creator, n int, seed int64) *Env {
	return &Env{
		EpisodeLength: DefaultEpisodeLength,
		creator:       c,
		n:             n,
		theta:         make([]float64, n),
		thetaDot:      make([]float64, n),
		steps:         make([]int, n),
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// NumEnvs returns the number of pendulums.
func (e *Env) NumEnvs() int {
	return e.n
}

// NumActions returns 1, the torque dimension.
func (e *Env) NumActions() int {
	return 1
}

// Reset randomizes every pendulum.
func (e *Env) Reset() (anyppo.Observations, error) {
	for i := 0; i < e.n; i++ {
		e.resetInstance(i)
	}
	return e.observations(), nil
}

// Step applies one torque per pendulum.
//
// The reward penalizes the angle from upright, the
// angular velocity, and the applied torque.
// Timed-out instances reset themselves.
func (e *Env) Step(actions anyvec.Vector) (anyppo.Observations, []float64,
	[]bool, *anyppo.StepInfo, error) {
	torques := e.creator.Float64Slice(actions.Data())
	if len(torques) != e.n {
		return nil, nil, nil, nil, fmt.Errorf("step: got %d torques for %d pendulums",
			len(torques), e.n)
	}

	rewards := make([]float64, e.n)
	dones := make([]bool, e.n)
	timeOuts := make([]bool, e.n)
	for i := 0; i < e.n; i++ {
		u := clamp(torques[i], -MaxTorque, MaxTorque)
		angle := normalizeAngle(e.theta[i])
		rewards[i] = -(angle*angle + 0.1*e.thetaDot[i]*e.thetaDot[i] + 0.001*u*u)

		accel := 3*Gravity/(2*Length)*math.Sin(e.theta[i]) +
			3/(Mass*Length*Length)*u
		e.thetaDot[i] = clamp(e.thetaDot[i]+accel*TimeStep, -MaxSpeed, MaxSpeed)
		e.theta[i] += e.thetaDot[i] * TimeStep

		e.steps[i]++
		if e.steps[i] >= e.episodeLength() {
			dones[i] = true
			timeOuts[i] = true
			e.resetInstance(i)
		}
	}
	return e.observations(), rewards, dones, &anyppo.StepInfo{TimeOuts: timeOuts}, nil
}

// MirrorObs negates the sin(theta) and theta_dot entries
// of each observation row.
func (e *Env) MirrorObs(group string, obs anyvec.Vector, batch int) anyvec.Vector {
	mask := make([]float64, batch*3)
	for i := 0; i < batch; i++ {
		mask[i*3] = 1
		mask[i*3+1] = -1
		mask[i*3+2] = -1
	}
	out := obs.Copy()
	out.Mul(anyvec.Make(e.creator, mask))
	return out
}

// MirrorActions negates the torques.
func (e *Env) MirrorActions(actions anyvec.Vector, batch int) anyvec.Vector {
	out := actions.Copy()
	out.Scale(e.creator.MakeNumeric(-1.0))
	return out
}

func (e *Env) resetInstance(i int) {
	e.theta[i] = e.rng.Float64()*2*math.Pi - math.Pi
	e.thetaDot[i] = e.rng.Float64()*2 - 1
	e.steps[i] = 0
}

func (e *Env) observations() anyppo.Observations {
	vals := make([]float64, e.n*3)
	for i := 0; i < e.n; i++ {
		vals[i*3] = math.Cos(e.theta[i])
		vals[i*3+1] = math.Sin(e.theta[i])
		vals[i*3+2] = e.thetaDot[i]
	}
	return anyppo.Observations{"state": anyvec.Make(e.creator, vals)}
}

func (e *Env) episodeLength() int {
	if e.EpisodeLength > 0 {
		return e.EpisodeLength
	}
	return DefaultEpisodeLength
}

// normalizeAngle maps an angle to [-pi, pi).
func normalizeAngle(theta float64) float64 {
	a := math.Mod(theta+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

func clamp(x, min, max float64) float64 {
	return math.Max(min, math.Min(max, x))
}
