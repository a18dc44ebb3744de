package anyppo

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

// Supported intrinsic reward weight schedule modes.
const (
	ScheduleModeConstant = "constant"
	ScheduleModeStep     = "step"
	ScheduleModeLinear   = "linear"
)

func init() {
	serializer.RegisterTypedDeserializer((&RND{}).SerializerType(), DeserializeRND)
}

// A WeightSchedule maps an iteration number to the scalar
// weight applied to intrinsic rewards.
type WeightSchedule interface {
	Evaluate(iteration int) float64
}

type constantSchedule struct {
	weight float64
}

func (c constantSchedule) Evaluate(int) float64 {
	return c.weight
}

type stepSchedule struct {
	initial   float64
	final     float64
	finalStep int
}

func (s stepSchedule) Evaluate(iteration int) float64 {
	if iteration < s.finalStep {
		return s.initial
	}
	return s.final
}

type linearSchedule struct {
	initial     float64
	final       float64
	initialStep int
	finalStep   int
}

func (l linearSchedule) Evaluate(iteration int) float64 {
	t := float64(iteration-l.initialStep) / float64(l.finalStep-l.initialStep)
	t = math.Max(0, math.Min(1, t))
	return l.initial + t*(l.final-l.initial)
}

// newWeightSchedule builds the schedule described by cfg,
// starting from the configured initial weight.
// A nil cfg yields a constant schedule.
func newWeightSchedule(cfg *ScheduleConfig, initial float64) (WeightSchedule, error) {
	if cfg == nil {
		return constantSchedule{weight: initial}, nil
	}
	switch cfg.Mode {
	case ScheduleModeConstant:
		return constantSchedule{weight: initial}, nil
	case ScheduleModeStep:
		if cfg.FinalStep <= 0 {
			return nil, configErrorf("weight_schedule.final_step",
				"must be positive, got %d", cfg.FinalStep)
		}
		return stepSchedule{
			initial:   initial,
			final:     cfg.FinalValue,
			finalStep: cfg.FinalStep,
		}, nil
	case ScheduleModeLinear:
		if cfg.FinalStep <= cfg.InitialStep {
			return nil, configErrorf("weight_schedule.final_step",
				"must exceed initial_step %d, got %d", cfg.InitialStep, cfg.FinalStep)
		}
		return linearSchedule{
			initial:     initial,
			final:       cfg.FinalValue,
			initialStep: cfg.InitialStep,
			finalStep:   cfg.FinalStep,
		}, nil
	}
	return nil, configErrorf("weight_schedule.mode", "unknown mode %q", cfg.Mode)
}

// RND produces intrinsic exploration rewards by training a
// predictor network to match a frozen random target
// network.
// See https://arxiv.org/abs/1810.12894.
type RND struct {
	// Predictor is trained; Target keeps its random
	// initialization forever.
	Predictor anynet.Net
	Target    anynet.Net

	// RewNorm whitens intrinsic rewards and StateNorm
	// whitens the input observations.
	// Either may be a no-op.
	RewNorm   *EmpiricalNormalizer
	StateNorm *EmpiricalNormalizer

	// OutDim is the output dimensionality both networks
	// share.
	OutDim int

	weight   float64
	schedule WeightSchedule
	lr       float64
	adam     anysgd.Adam
}

// NewRND builds the target and predictor networks for
// observations of the given width.
func NewRND(c anyvec.Creator, cfg *RNDConfig, inDim int) (*RND, error) {
	outDim := cfg.NumOutputs
	if outDim == -1 {
		outDim = inDim
	}
	if outDim <= 0 {
		return nil, configErrorf("rnd_cfg.num_outputs",
			"must be positive or -1, got %d", cfg.NumOutputs)
	}
	activation, err := activationLayer(cfg.Activation)
	if err != nil {
		return nil, err
	}
	build := func(hidden []int) anynet.Net {
		net := anynet.Net{}
		in := inDim
		for _, h := range hidden {
			net = append(net, anynet.NewFC(c, in, h), activation)
			in = h
		}
		return append(net, anynet.NewFC(c, in, outDim))
	}

	rewNormDim, stateNormDim := 0, 0
	if cfg.RewardNormalization {
		rewNormDim = 1
	}
	if cfg.StateNormalization {
		stateNormDim = inDim
	}
	res := &RND{
		Predictor: build(cfg.PredictorHidden),
		Target:    build(cfg.TargetHidden),
		RewNorm:   NewEmpiricalNormalizer(rewNormDim),
		StateNorm: NewEmpiricalNormalizer(stateNormDim),
		OutDim:    outDim,
	}
	if err := res.Configure(cfg); err != nil {
		return nil, err
	}
	return res, nil
}

// DeserializeRND deserializes an RND.
// The result must be re-Configured before training, since
// the schedule and learning rate live in the config.
func DeserializeRND(d []byte) (rnd *RND, err error) {
	defer essentials.AddCtxTo("deserialize RND", &err)
	var predictor, target anynet.Net
	var rewNorm, stateNorm *EmpiricalNormalizer
	var outDim int
	err = serializer.DeserializeAny(d, &predictor, &target, &rewNorm, &stateNorm,
		&outDim)
	if err != nil {
		return nil, err
	}
	return &RND{
		Predictor: predictor,
		Target:    target,
		RewNorm:   rewNorm,
		StateNorm: stateNorm,
		OutDim:    outDim,
	}, nil
}

// Configure attaches the weight schedule and predictor
// learning rate from cfg.
func (r *RND) Configure(cfg *RNDConfig) error {
	schedule, err := newWeightSchedule(cfg.WeightSchedule, cfg.Weight)
	if err != nil {
		return err
	}
	r.schedule = schedule
	r.weight = cfg.Weight
	r.lr = cfg.LearningRate
	return nil
}

// SetIteration re-evaluates the intrinsic reward weight
// for an iteration.
func (r *RND) SetIteration(iteration int) {
	r.weight = r.schedule.Evaluate(iteration)
}

// Weight returns the current intrinsic reward weight.
func (r *RND) Weight() float64 {
	return r.weight
}

// IntrinsicRewards computes one weighted intrinsic reward
// per row and folds the batch into the running statistics.
//
// The raw reward is the squared distance between the
// predictor's and the target's outputs.
func (r *RND) IntrinsicRewards(obs anyvec.Vector, batch int) []float64 {
	r.StateNorm.UpdateVec(obs)
	in := anydiff.NewConst(r.StateNorm.NormalizeVec(obs))
	c := obs.Creator()
	pred := c.Float64Slice(r.Predictor.Apply(in, batch).Output().Data())
	targ := c.Float64Slice(r.Target.Apply(in, batch).Output().Data())

	raw := make([]float64, batch)
	for i := 0; i < batch; i++ {
		var sq float64
		for j := 0; j < r.OutDim; j++ {
			d := pred[i*r.OutDim+j] - targ[i*r.OutDim+j]
			sq += d * d
		}
		raw[i] = sq
	}
	r.RewNorm.Update(raw)
	out := r.RewNorm.Normalize(raw)
	for i := range out {
		out[i] *= r.weight
	}
	return out
}

// Update performs one predictor regression step toward
// the target's outputs and returns the loss.
//
// A non-finite loss skips the step and reports ok=false.
func (r *RND) Update(obs anyvec.Vector, batch int) (loss float64, ok bool) {
	in := anydiff.NewConst(r.StateNorm.NormalizeVec(obs))
	c := obs.Creator()
	pred := r.Predictor.Apply(in, batch)
	targ := anydiff.NewConst(r.Target.Apply(in, batch).Output())
	diff := anydiff.Sub(pred, targ)
	lossRes := anydiff.Scale(
		anydiff.Sum(anydiff.Square(diff)),
		c.MakeNumeric(1/float64(batch*r.OutDim)),
	)
	loss = hostScalar(lossRes)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, false
	}

	grad := anydiff.NewGrad(anynet.AllParameters(r.Predictor)...)
	lossRes.Propagate(anyvec.Ones(c, 1), grad)
	g := r.adam.Transform(grad)
	g.Scale(c.MakeNumeric(-r.lr))
	g.AddToVars()
	return loss, true
}

// SerializerType returns the unique ID used to serialize
// an RND.
func (r *RND) SerializerType() string {
	return "github.com/unixpickle/anyppo.RND"
}

// Serialize serializes the RND.
func (r *RND) Serialize() ([]byte, error) {
	return serializer.SerializeAny(r.Predictor, r.Target, r.RewNorm, r.StateNorm,
		r.OutDim)
}
