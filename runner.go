package anyppo

import (
	"fmt"
	"math/rand"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"gonum.org/v1/gonum/stat"
)

// Phase identifies the runner's position in the training
// loop.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseCollecting
	PhaseEstimating
	PhaseUpdating
	PhaseLogging
	PhaseTerminal
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "Init"
	case PhaseCollecting:
		return "Collecting"
	case PhaseEstimating:
		return "Estimating"
	case PhaseUpdating:
		return "Updating"
	case PhaseLogging:
		return "Logging"
	case PhaseTerminal:
		return "Terminal"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// episodeWindowSize bounds the episode statistics windows.
const episodeWindowSize = 100

// A Runner drives the full training loop: collect a
// rollout, estimate advantages, update the policy, log
// and checkpoint.
type Runner struct {
	// RunID identifies the training run in logs and
	// checkpoints.
	RunID string

	cfg     *Config
	env     Env
	creator anyvec.Creator
	groups  *GroupSpec

	ac  *ActorCritic
	rnd *RND
	sym *Symmetry
	ppo *PPO

	estimator *AdvantageEstimator
	buf       *RolloutBuffer
	rng       *rand.Rand

	saver CheckpointSaver
	sink  MetricSink

	phase     Phase
	iteration int

	obs Observations

	returnsWindow *metricWindow
	lengthsWindow *metricWindow
	curReturns    []float64
	curLengths    []int
	meanIntrinsic float64
}

// NewRunner validates the configuration, resets the
// environment, and builds the policy and all enabled
// auxiliary modules.
//
// The saver may be nil to disable checkpoints, and the
// sink may be nil to discard metrics.
func NewRunner(cfg *Config, e Env, saver CheckpointSaver,
	sink MetricSink) (runner *Runner, err error) {
	defer essentials.AddCtxTo("create runner", &err)

	cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	obs, err := e.Reset()
	if err != nil {
		return nil, err
	}
	groups, err := ResolveGroups(cfg.ObsGroups, obs, e.NumEnvs())
	if err != nil {
		return nil, err
	}
	c := groups.creator

	ac, err := NewActorCritic(c, cfg.Policy, groups.Dim(GroupPolicy),
		groups.Dim(GroupCritic), e.NumActions())
	if err != nil {
		return nil, err
	}

	var rnd *RND
	if cfg.Algorithm.RND != nil {
		rnd, err = NewRND(c, cfg.Algorithm.RND, groups.Dim(GroupRND))
		if err != nil {
			return nil, err
		}
	}
	sym, err := NewSymmetry(cfg.Algorithm.Symmetry, e)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	ppo, err := NewPPO(c, ac, groups, cfg.Algorithm, rnd, sym, rng)
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
	return &Runner{
		RunID:   uuid.New().String(),
		cfg:     cfg,
		env:     e,
		creator: c,
		groups:  groups,
		ac:      ac,
		rnd:     rnd,
		sym:     sym,
		ppo:     ppo,
		estimator: &AdvantageEstimator{
			Discount:            cfg.Algorithm.Gamma,
			Lambda:              cfg.Algorithm.Lam,
			NormalizeWholeBatch: !cfg.Algorithm.NormalizeAdvantagePerMiniBatch,
		},
		buf:           buf,
		rng:           rng,
		saver:         saver,
		sink:          sink,
		phase:         PhaseInit,
		obs:           obs,
		returnsWindow: newMetricWindow(episodeWindowSize),
		lengthsWindow: newMetricWindow(episodeWindowSize),
		curReturns:    make([]float64, e.NumEnvs()),
		curLengths:    make([]int, e.NumEnvs()),
	}, nil
}

// Iteration returns the number of completed iterations.
func (r *Runner) Iteration() int {
	return r.iteration
}

// Phase returns the runner's current phase.
func (r *Runner) Phase() Phase {
	return r.phase
}

// Policy returns the actor-critic being trained.
func (r *Runner) Policy() *ActorCritic {
	return r.ac
}

// Run trains until the configured iteration count.
//
// If the done channel is closed, a final checkpoint is
// written and Run returns nil.
//
// If the environment produces an error, this stops and
// returns the error.
func (r *Runner) Run(done <-chan struct{}) (err error) {
	defer essentials.AddCtxTo("run training", &err)
	for r.iteration < r.cfg.MaxIterations {
		select {
		case <-done:
			return r.saveCheckpoint()
		default:
		}
		if err := r.runIteration(); err != nil {
			return err
		}
	}
	r.phase = PhaseTerminal
	return r.saveCheckpoint()
}

// Restore resumes from a checkpoint, replacing the policy
// and RND state and rebuilding the optimizer.
//
// Optimizer moments restart from zero.
func (r *Runner) Restore(ck *Checkpoint) (err error) {
	defer essentials.AddCtxTo("restore checkpoint", &err)
	if ck.AC.ActDim != r.env.NumActions() {
		return configErrorf("checkpoint", "policy has %d actions, environment has %d",
			ck.AC.ActDim, r.env.NumActions())
	}
	if ck.RND != nil && r.cfg.Algorithm.RND == nil {
		return configErrorf("checkpoint", "has RND state but rnd_cfg is unset")
	}
	if ck.RND == nil && r.cfg.Algorithm.RND != nil {
		return configErrorf("checkpoint", "lacks RND state but rnd_cfg is set")
	}
	r.ac = ck.AC
	if ck.RND != nil {
		if err := ck.RND.Configure(r.cfg.Algorithm.RND); err != nil {
			return err
		}
		r.rnd = ck.RND
	}
	ppo, err := NewPPO(r.creator, r.ac, r.groups, r.cfg.Algorithm, r.rnd, r.sym,
		r.rng)
	if err != nil {
		return err
	}
	ppo.SetLearningRate(ck.LearningRate)
	r.ppo = ppo
	r.iteration = ck.Iteration
	r.RunID = ck.RunID
	return nil
}

func (r *Runner) runIteration() (err error) {
	defer essentials.AddCtxTo(fmt.Sprintf("iteration %d", r.iteration), &err)

	r.phase = PhaseCollecting
	if err := r.collect(); err != nil {
		return err
	}

	r.phase = PhaseEstimating
	table, err := r.estimate()
	if err != nil {
		return err
	}

	r.phase = PhaseUpdating
	stats, err := r.ppo.Update(r.buf, table, r.iteration)
	if err != nil {
		return err
	}

	r.phase = PhaseLogging
	r.iteration++
	r.log(stats)
	if r.iteration%r.cfg.SaveInterval == 0 {
		if err := r.saveCheckpoint(); err != nil {
			return err
		}
	}
	r.buf.Reset()
	return nil
}

// collect drives the environment for one rollout horizon,
// filling the buffer.
func (r *Runner) collect() error {
	if r.rnd != nil {
		r.rnd.SetIteration(r.iteration)
	}
	n := r.buf.Envs()
	actDim := r.ac.ActDim
	gamma := r.cfg.Algorithm.Gamma

	var intrinsicSum float64
	for t := 0; t < r.buf.Steps(); t++ {
		policyObs := r.groups.Concat(GroupPolicy, r.obs, n)
		criticObs := r.groups.Concat(GroupCritic, r.obs, n)
		r.ac.UpdateNormalizers(policyObs, criticObs)

		meanVec := r.ac.ActorMean(policyObs, n).Output()
		means := r.creator.Float64Slice(meanVec.Data())
		actions := r.ac.Distribution().Sample(meanVec, n, r.rng)
		actionVals := r.creator.Float64Slice(actions.Data())
		values := r.creator.Float64Slice(r.ac.Value(criticObs, n).Output().Data())
		stds := r.ac.Noise.StdVals()
		logProbs := r.ac.Distribution().HostLogProbs(means, stds, actionVals, n)

		var intrinsic []float64
		if r.rnd != nil {
			rndObs := r.groups.Concat(GroupRND, r.obs, n)
			intrinsic = r.rnd.IntrinsicRewards(rndObs, n)
		}

		newObs, rewards, dones, info, err := r.env.Step(actions)
		if err != nil {
			return err
		}

		for env := 0; env < n; env++ {
			timeOut := info != nil && len(info.TimeOuts) > env && info.TimeOuts[env]
			reward := rewards[env]
			if timeOut {
				// Truncation is not failure, so bootstrap the
				// cut-off return from the value estimate.
				reward += gamma * values[env]
			}
			tr := Transition{
				Obs:     r.groups.TransitionObs(r.obs, env),
				Action:  copyFloats(actionVals[env*actDim : (env+1)*actDim]),
				LogProb: logProbs[env],
				Value:   values[env],
				Mean:    copyFloats(means[env*actDim : (env+1)*actDim]),
				Std:     copyFloats(stds),
				Reward:  reward,
				Done:    dones[env],
				TimeOut: timeOut,
			}
			if intrinsic != nil {
				tr.Intrinsic = intrinsic[env]
				intrinsicSum += intrinsic[env]
			}
			if err := r.buf.Record(t, env, tr); err != nil {
				return err
			}

			r.curReturns[env] += rewards[env]
			r.curLengths[env]++
			if dones[env] {
				r.returnsWindow.Push(r.curReturns[env])
				r.lengthsWindow.Push(float64(r.curLengths[env]))
				r.curReturns[env] = 0
				r.curLengths[env] = 0
			}
		}
		r.obs = newObs
	}
	if r.rnd != nil {
		r.meanIntrinsic = intrinsicSum / float64(n*r.buf.Steps())
	}
	return nil
}

// estimate bootstraps terminal values from the critic and
// builds the advantage table.
func (r *Runner) estimate() (*AdvantageTable, error) {
	criticObs := r.groups.Concat(GroupCritic, r.obs, r.buf.Envs())
	lastValues := r.creator.Float64Slice(
		r.ac.Value(criticObs, r.buf.Envs()).Output().Data())
	return r.estimator.Estimate(r.buf, lastValues)
}

func (r *Runner) log(stats *UpdateStats) {
	metrics := map[string]float64{
		"policy_loss":    stats.PolicyLoss,
		"value_loss":     stats.ValueLoss,
		"entropy":        stats.Entropy,
		"kl":             stats.KL,
		"learning_rate":  stats.LearningRate,
		"mean_reward":    r.returnsWindow.Mean(),
		"mean_ep_length": r.lengthsWindow.Mean(),
		"noise_std":      stat.Mean(r.ac.Noise.StdVals(), nil),
	}
	if r.rnd != nil {
		metrics["mean_intrinsic_reward"] = r.meanIntrinsic
		metrics["rnd_loss"] = stats.RNDLoss
		metrics["rnd_weight"] = r.rnd.Weight()
	}
	if r.sym != nil && r.sym.MirrorLossCoeff > 0 {
		metrics["mirror_loss"] = stats.MirrorLoss
	}
	r.sink.Add(r.iteration, metrics)

	glog.Infof("iteration %d: reward=%.3f ep_len=%.1f policy_loss=%.4f "+
		"value_loss=%.4f kl=%.4f lr=%.2e", r.iteration, metrics["mean_reward"],
		metrics["mean_ep_length"], stats.PolicyLoss, stats.ValueLoss, stats.KL,
		stats.LearningRate)
	if stats.Aborted {
		glog.Warningf("iteration %d: update aborted after %d skipped steps",
			r.iteration, stats.SkippedSteps)
	}
}

func (r *Runner) saveCheckpoint() error {
	if r.saver == nil {
		return nil
	}
	return r.saver.Save(&Checkpoint{
		Iteration:    r.iteration,
		RunID:        r.RunID,
		LearningRate: r.ppo.LearningRate(),
		AC:           r.ac,
		RND:          r.rnd,
	})
}

func copyFloats(vals []float64) []float64 {
	res := make([]float64, len(vals))
	copy(res, vals)
	return res
}
