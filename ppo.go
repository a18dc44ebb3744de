package anyppo

import (
	"math"
	"math/rand"

	"github.com/golang/glog"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// Supported learning rate schedules.
const (
	ScheduleFixed    = "fixed"
	ScheduleAdaptive = "adaptive"
)

// Bounds for the adaptive learning rate schedule.
const (
	minLearningRate = 1e-5
	maxLearningRate = 1e-2
)

// UpdateStats summarizes one learning phase.
//
// Loss terms are averaged over the gradient steps that
// were actually taken.
type UpdateStats struct {
	PolicyLoss float64
	ValueLoss  float64
	Entropy    float64
	KL         float64
	MirrorLoss float64
	RNDLoss    float64

	// LearningRate is the rate after any adaptation.
	LearningRate float64

	// GradientSteps counts applied parameter updates and
	// SkippedSteps counts mini-batches dropped due to
	// non-finite losses or gradients.
	GradientSteps int
	SkippedSteps  int

	// Aborted indicates that the update gave up after an
	// entire epoch's worth of skipped mini-batches.
	Aborted bool
}

// PPO implements Proximal Policy Optimization over full
// rollout buffers.
// See https://arxiv.org/abs/1707.06347.
type PPO struct {
	creator anyvec.Creator
	ac      *ActorCritic
	groups  *GroupSpec
	cfg     *AlgorithmConfig
	rnd     *RND
	sym     *Symmetry

	lr   float64
	adam anysgd.Adam
	rng  *rand.Rand
}

// NewPPO validates the algorithm configuration and builds
// an optimizer around the actor-critic.
//
// The rnd and sym modules may be nil.
// A nil rng uses the global random source for shuffling.
func NewPPO(c anyvec.Creator, ac *ActorCritic, groups *GroupSpec,
	cfg *AlgorithmConfig, rnd *RND, sym *Symmetry, rng *rand.Rand) (*PPO, error) {
	switch cfg.Schedule {
	case ScheduleFixed:
	case ScheduleAdaptive:
		if cfg.DesiredKL <= 0 {
			return nil, configErrorf("algorithm.desired_kl",
				"must be positive for the adaptive schedule, got %v", cfg.DesiredKL)
		}
	default:
		return nil, configErrorf("algorithm.schedule",
			"unknown schedule %q", cfg.Schedule)
	}
	return &PPO{
		creator: c,
		ac:      ac,
		groups:  groups,
		cfg:     cfg,
		rnd:     rnd,
		sym:     sym,
		lr:      cfg.LearningRate,
		rng:     rng,
	}, nil
}

// LearningRate returns the current learning rate.
func (p *PPO) LearningRate() float64 {
	return p.lr
}

// SetLearningRate overrides the current learning rate,
// typically when resuming from a checkpoint.
func (p *PPO) SetLearningRate(lr float64) {
	p.lr = lr
}

// Update runs the configured number of epochs of
// mini-batch gradient steps over a full rollout buffer.
//
// The advantage table must come from the same buffer.
func (p *PPO) Update(buf *RolloutBuffer, table *AdvantageTable,
	iteration int) (stats *UpdateStats, err error) {
	defer essentials.AddCtxTo("run PPO update", &err)

	stats = &UpdateStats{LearningRate: p.lr}
	for epoch := 0; epoch < p.cfg.NumLearningEpochs; epoch++ {
		iter, err := buf.MiniBatches(p.cfg.NumMiniBatches, true, p.rng)
		if err != nil {
			return nil, err
		}
		for mb := iter.Next(); mb != nil; mb = iter.Next() {
			p.step(mb, table, stats, iteration)
			if stats.SkippedSteps >= p.cfg.NumMiniBatches {
				glog.Warningf("aborting update at iteration %d after %d skipped steps",
					iteration, stats.SkippedSteps)
				stats.Aborted = true
				p.finishStats(stats)
				return stats, nil
			}
		}
	}
	p.finishStats(stats)
	return stats, nil
}

func (p *PPO) finishStats(stats *UpdateStats) {
	stats.LearningRate = p.lr
	if stats.GradientSteps == 0 {
		return
	}
	n := float64(stats.GradientSteps)
	stats.PolicyLoss /= n
	stats.ValueLoss /= n
	stats.Entropy /= n
	stats.KL /= n
	stats.MirrorLoss /= n
	stats.RNDLoss /= n
}

// step performs one mini-batch gradient step, or skips it
// when any loss term or the gradient is non-finite.
func (p *PPO) step(mb *MiniBatch, table *AdvantageTable, stats *UpdateStats,
	iteration int) {
	c := p.creator
	cfg := p.cfg
	n := mb.Len()
	actDim := p.ac.ActDim

	advs, rets := table.Gather(mb.Indices())
	if cfg.NormalizeAdvantagePerMiniBatch {
		normalizeAdvantages(advs)
	}

	policyObs := anyvec.Make(c, mb.GroupObs(p.groups, GroupPolicy))
	criticObs := anyvec.Make(c, mb.GroupObs(p.groups, GroupCritic))
	actions := anyvec.Make(c, mb.Actions(actDim))
	oldLogProbs := mb.LogProbs()
	oldValues := mb.Values()

	batch := n
	if p.sym != nil && p.sym.Augment {
		policyObs = p.sym.AugmentObs(GroupPolicy, policyObs, n)
		criticObs = p.sym.AugmentObs(GroupCritic, criticObs, n)
		actions = p.sym.AugmentActions(actions, n)
		oldLogProbs = doubleFloats(oldLogProbs)
		oldValues = doubleFloats(oldValues)
		advs = doubleFloats(advs)
		rets = doubleFloats(rets)
		batch = 2 * n
	}

	oldLogConst := anydiff.NewConst(anyvec.Make(c, oldLogProbs))
	advConst := anydiff.NewConst(anyvec.Make(c, advs))
	retConst := anydiff.NewConst(anyvec.Make(c, rets))

	dist := p.ac.Distribution()
	actorOut := p.ac.ActorMean(policyObs, batch)

	policyLoss := anydiff.Scale(
		anydiff.Sum(p.clippedObjective(actorOut, dist, actions, oldLogConst,
			advConst, batch)),
		c.MakeNumeric(-1/float64(batch)),
	)
	valueLoss := p.valueLoss(criticObs, retConst, oldValues, batch)
	entropy := dist.Entropy()

	total := anydiff.Add(policyLoss,
		anydiff.Scale(valueLoss, c.MakeNumeric(cfg.ValueLossCoef)))
	total = anydiff.Sub(total,
		anydiff.Scale(entropy, c.MakeNumeric(cfg.EntropyCoef)))

	var mirrorLoss anydiff.Res
	if p.sym != nil && p.sym.MirrorLossCoeff > 0 {
		origObs := policyObs.Slice(0, n*p.groups.Dim(GroupPolicy))
		origMean := actorOut.Output().Slice(0, n*actDim)
		mirrorLoss = p.sym.MirrorLoss(p.ac, origObs, origMean, n)
		total = anydiff.Add(total,
			anydiff.Scale(mirrorLoss, c.MakeNumeric(p.sym.MirrorLossCoeff)))
	}

	policyVal := hostScalar(policyLoss)
	valueVal := hostScalar(valueLoss)
	entropyVal := hostScalar(entropy)
	mirrorVal := 0.0
	if mirrorLoss != nil {
		mirrorVal = hostScalar(mirrorLoss)
	}
	if !allFinite(policyVal, valueVal, entropyVal, mirrorVal) {
		glog.Warningf("%v: skipping step (policy=%v value=%v)",
			&NumericInstabilityError{Iteration: iteration, Term: "loss"},
			policyVal, valueVal)
		stats.SkippedSteps++
		return
	}

	grad := anydiff.NewGrad(p.ac.Parameters()...)
	total.Propagate(anyvec.Ones(c, 1), grad)

	norm := gradNorm(grad)
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		glog.Warningf("%v: skipping step",
			&NumericInstabilityError{Iteration: iteration, Term: "gradient norm"})
		stats.SkippedSteps++
		return
	}

	// KL is averaged over applied steps only.
	if cfg.Schedule == ScheduleAdaptive {
		newMeans := c.Float64Slice(actorOut.Output().Data())[:n*actDim]
		kl := gaussianKL(mb.Means(actDim), mb.Stds(actDim), newMeans,
			p.ac.Noise.StdVals(), n, actDim)
		stats.KL += kl
		p.adaptLR(kl)
	}

	if cfg.MaxGradNorm > 0 && norm > cfg.MaxGradNorm {
		grad.Scale(c.MakeNumeric(cfg.MaxGradNorm / norm))
	}
	g := p.adam.Transform(grad)
	g.Scale(c.MakeNumeric(-p.lr))
	g.AddToVars()

	stats.GradientSteps++
	stats.PolicyLoss += policyVal
	stats.ValueLoss += valueVal
	stats.Entropy += entropyVal
	stats.MirrorLoss += mirrorVal

	if p.rnd != nil {
		rndObs := anyvec.Make(c, mb.GroupObs(p.groups, GroupRND))
		loss, ok := p.rnd.Update(rndObs, n)
		if ok {
			stats.RNDLoss += loss
		} else {
			glog.Warningf("%v: skipping RND step",
				&NumericInstabilityError{Iteration: iteration, Term: "RND loss"})
		}
	}
}

// clippedObjective computes the per-element clipped
// surrogate, one value per batch row.
func (p *PPO) clippedObjective(actorOut anydiff.Res, dist *Gaussian,
	actions anyvec.Vector, oldLogProbs, advantages anydiff.Res,
	batch int) anydiff.Res {
	epsilon := p.cfg.ClipParam
	c := p.creator
	ratios := anydiff.Exp(
		anydiff.Sub(
			dist.LogProb(actorOut, actions, batch),
			oldLogProbs,
		),
	)
	return anydiff.Pool(ratios, func(ratios anydiff.Res) anydiff.Res {
		clipped := anydiff.ClipRange(ratios, c.MakeNumeric(1-epsilon),
			c.MakeNumeric(1+epsilon))
		return anydiff.ElemMin(
			anydiff.Mul(clipped, advantages),
			anydiff.Mul(ratios, advantages),
		)
	})
}

// valueLoss computes the mean squared error of the critic,
// optionally taking the worse of a clipped and unclipped
// prediction per row.
func (p *PPO) valueLoss(criticObs anyvec.Vector, returns anydiff.Res,
	oldValues []float64, batch int) anydiff.Res {
	c := p.creator
	eps := p.cfg.ClipParam
	values := p.ac.Value(criticObs, batch)
	if !p.cfg.UseClippedValueLoss {
		return meanOf(anydiff.Square(anydiff.Sub(values, returns)))
	}
	oldConst := anydiff.NewConst(anyvec.Make(c, oldValues))
	return anydiff.Pool(values, func(values anydiff.Res) anydiff.Res {
		clipped := anydiff.Add(oldConst, anydiff.ClipRange(
			anydiff.Sub(values, oldConst),
			c.MakeNumeric(-eps), c.MakeNumeric(eps),
		))
		return meanOf(elemMax(
			anydiff.Square(anydiff.Sub(values, returns)),
			anydiff.Square(anydiff.Sub(clipped, returns)),
		))
	})
}

// adaptLR moves the learning rate by a factor of two when
// the observed KL divergence leaves the target window.
func (p *PPO) adaptLR(kl float64) {
	desired := p.cfg.DesiredKL
	if kl > desired*2 {
		p.lr = math.Max(minLearningRate, p.lr/2)
	} else if kl < desired/2 {
		p.lr = math.Min(maxLearningRate, p.lr*2)
	}
}

// gaussianKL computes the mean KL divergence between the
// recorded and current action distributions, analytically
// for diagonal Gaussians.
//
// newStds holds a single row shared by the whole batch.
func gaussianKL(oldMeans, oldStds, newMeans, newStds []float64,
	batch, dim int) float64 {
	var total float64
	for i := 0; i < batch; i++ {
		for j := 0; j < dim; j++ {
			oldMean := oldMeans[i*dim+j]
			oldStd := oldStds[i*dim+j]
			newMean := newMeans[i*dim+j]
			newStd := newStds[j]
			total += math.Log(newStd/oldStd+1e-5) +
				(oldStd*oldStd+(oldMean-newMean)*(oldMean-newMean))/
					(2*newStd*newStd) - 0.5
		}
	}
	return total / float64(batch)
}

// gradNorm computes the global L2 norm across all
// gradient vectors.
func gradNorm(grad anydiff.Grad) float64 {
	var sum float64
	for _, vec := range grad {
		sum += numericFloat64(vec.Dot(vec))
	}
	return math.Sqrt(sum)
}

func hostScalar(res anydiff.Res) float64 {
	out := res.Output()
	if out.Len() != 1 {
		panic("expected a single-element result")
	}
	return out.Creator().Float64Slice(out.Data())[0]
}

func numericFloat64(num anyvec.Numeric) float64 {
	switch num := num.(type) {
	case float32:
		return float64(num)
	case float64:
		return num
	default:
		panic("unsupported numeric type")
	}
}

func meanOf(res anydiff.Res) anydiff.Res {
	c := res.Output().Creator()
	return anydiff.Scale(anydiff.Sum(res),
		c.MakeNumeric(1/float64(res.Output().Len())))
}

func elemMax(a, b anydiff.Res) anydiff.Res {
	c := a.Output().Creator()
	neg := c.MakeNumeric(-1)
	return anydiff.Scale(
		anydiff.ElemMin(anydiff.Scale(a, neg), anydiff.Scale(b, neg)),
		neg,
	)
}

func doubleFloats(vals []float64) []float64 {
	res := make([]float64, 0, len(vals)*2)
	res = append(res, vals...)
	return append(res, vals...)
}

func allFinite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
