package anyppo

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/golang/glog"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// DistillConfig configures supervised policy distillation.
type DistillConfig struct {
	Seed int64 `json:"seed"`

	NumStepsPerEnv int `json:"num_steps_per_env"`
	MaxIterations  int `json:"max_iterations"`

	LearningRate      float64 `json:"learning_rate"`
	NumLearningEpochs int     `json:"num_learning_epochs"`
	NumMiniBatches    int     `json:"num_mini_batches"`

	// ObsGroups must give the teacher its own "teacher"
	// group when it observes more than the student.
	ObsGroups ObsGroups `json:"obs_groups"`
}

// FillDefaults populates unset fields with the standard
// hyperparameters.
func (d *DistillConfig) FillDefaults() {
	if d.NumStepsPerEnv == 0 {
		d.NumStepsPerEnv = 24
	}
	if d.LearningRate == 0 {
		d.LearningRate = 1e-3
	}
	if d.NumLearningEpochs == 0 {
		d.NumLearningEpochs = 1
	}
	if d.NumMiniBatches == 0 {
		d.NumMiniBatches = 4
	}
}

// Validate checks the distillation configuration.
func (d *DistillConfig) Validate() error {
	if d.NumStepsPerEnv <= 0 {
		return configErrorf("num_steps_per_env", "must be positive, got %d",
			d.NumStepsPerEnv)
	}
	if d.MaxIterations <= 0 {
		return configErrorf("max_iterations", "must be positive, got %d",
			d.MaxIterations)
	}
	if d.LearningRate <= 0 {
		return configErrorf("learning_rate", "must be positive, got %v",
			d.LearningRate)
	}
	if d.NumLearningEpochs <= 0 {
		return configErrorf("num_learning_epochs", "must be positive, got %d",
			d.NumLearningEpochs)
	}
	if d.NumMiniBatches <= 0 {
		return configErrorf("num_mini_batches", "must be positive, got %d",
			d.NumMiniBatches)
	}
	return nil
}

// A Distiller clones a trained teacher policy into a
// student by regressing the student's actor mean toward
// the teacher's actions on states the student visits.
//
// The student drives the environment with exploration
// noise while the teacher, typically loaded from a
// checkpoint and observing its own group, provides the
// regression targets.
type Distiller struct {
	Student *ActorCritic
	Teacher *ActorCritic

	cfg     *DistillConfig
	env     Env
	creator anyvec.Creator
	groups  *GroupSpec

	buf  *RolloutBuffer
	rng  *rand.Rand
	adam anysgd.Adam
	sink MetricSink

	obs       Observations
	iteration int
}

// NewDistiller resets the environment and prepares a
// distillation run from teacher to student.
//
// The sink may be nil to discard metrics.
func NewDistiller(cfg *DistillConfig, e Env, student, teacher *ActorCritic,
	sink MetricSink) (d *Distiller, err error) {
	defer essentials.AddCtxTo("create distiller", &err)

	cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if student.ActDim != e.NumActions() || teacher.ActDim != e.NumActions() {
		return nil, configErrorf("distill", "policies have %d and %d actions, "+
			"environment has %d", student.ActDim, teacher.ActDim, e.NumActions())
	}

	obs, err := e.Reset()
	if err != nil {
		return nil, err
	}
	groups, err := ResolveGroups(cfg.ObsGroups, obs, e.NumEnvs())
	if err != nil {
		return nil, err
	}
	buf, err := NewRolloutBuffer(cfg.NumStepsPerEnv, e.NumEnvs())
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = nopSink{}
	}
	return &Distiller{
		Student: student,
		Teacher: teacher,
		cfg:     cfg,
		env:     e,
		creator: groups.creator,
		groups:  groups,
		buf:     buf,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		sink:    sink,
		obs:     obs,
	}, nil
}

// Iteration returns the number of completed iterations.
func (d *Distiller) Iteration() int {
	return d.iteration
}

// Run distills until the configured iteration count.
//
// If the done channel is closed, this finishes gracefully
// and returns nil.
func (d *Distiller) Run(done <-chan struct{}) (err error) {
	defer essentials.AddCtxTo("run distillation", &err)
	for d.iteration < d.cfg.MaxIterations {
		select {
		case <-done:
			return nil
		default:
		}
		if err := d.runIteration(); err != nil {
			return err
		}
	}
	return nil
}

func (d *Distiller) runIteration() (err error) {
	defer essentials.AddCtxTo(fmt.Sprintf("iteration %d", d.iteration), &err)
	if err := d.collect(); err != nil {
		return err
	}
	loss, steps := d.update()
	d.iteration++
	d.sink.Add(d.iteration, map[string]float64{"distill_loss": loss})
	glog.Infof("distillation iteration %d: loss=%.6f steps=%d",
		d.iteration, loss, steps)
	d.buf.Reset()
	return nil
}

// collect lets the student act in the environment while
// recording the teacher's actions as regression targets.
func (d *Distiller) collect() error {
	n := d.buf.Envs()
	actDim := d.Student.ActDim

	for t := 0; t < d.buf.Steps(); t++ {
		policyObs := d.groups.Concat(GroupPolicy, d.obs, n)
		teacherObs := d.groups.Concat(GroupTeacher, d.obs, n)
		d.Student.ActorNorm.UpdateVec(policyObs)

		meanVec := d.Student.ActorMean(policyObs, n).Output()
		actions := d.Student.Distribution().Sample(meanVec, n, d.rng)
		targets := d.creator.Float64Slice(
			d.Teacher.ActorMean(teacherObs, n).Output().Data())

		newObs, _, _, _, err := d.env.Step(actions)
		if err != nil {
			return err
		}
		for env := 0; env < n; env++ {
			tr := Transition{
				Obs:    d.groups.TransitionObs(d.obs, env),
				Action: copyFloats(targets[env*actDim : (env+1)*actDim]),
			}
			if err := d.buf.Record(t, env, tr); err != nil {
				return err
			}
		}
		d.obs = newObs
	}
	return nil
}

// update regresses the student's actor mean toward the
// recorded teacher actions, returning the mean loss and
// the number of applied gradient steps.
func (d *Distiller) update() (float64, int) {
	c := d.creator
	actDim := d.Student.ActDim
	var totalLoss float64
	var steps int

	for epoch := 0; epoch < d.cfg.NumLearningEpochs; epoch++ {
		iter, err := d.buf.MiniBatches(d.cfg.NumMiniBatches, true, d.rng)
		if err != nil {
			glog.Warningf("distillation minibatches: %v", err)
			return 0, 0
		}
		for mb := iter.Next(); mb != nil; mb = iter.Next() {
			n := mb.Len()
			obs := anyvec.Make(c, mb.GroupObs(d.groups, GroupPolicy))
			targets := anydiff.NewConst(anyvec.Make(c, mb.Actions(actDim)))

			mean := d.Student.ActorMean(obs, n)
			loss := anydiff.Scale(
				anydiff.Sum(anydiff.Square(anydiff.Sub(mean, targets))),
				c.MakeNumeric(1/float64(n*actDim)),
			)
			lossVal := hostScalar(loss)
			if math.IsNaN(lossVal) || math.IsInf(lossVal, 0) {
				glog.Warningf("%v: skipping distillation step",
					&NumericInstabilityError{Iteration: d.iteration, Term: "loss"})
				continue
			}

			grad := anydiff.NewGrad(d.Student.Parameters()...)
			loss.Propagate(anyvec.Ones(c, 1), grad)
			g := d.adam.Transform(grad)
			g.Scale(c.MakeNumeric(-d.cfg.LearningRate))
			g.AddToVars()

			totalLoss += lossVal
			steps++
		}
	}
	if steps > 0 {
		totalLoss /= float64(steps)
	}
	return totalLoss, steps
}
