package anyppo

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	serializer.RegisterTypedDeserializer((&ActorCritic{}).SerializerType(),
		DeserializeActorCritic)
}

// An ActorCritic bundles the policy and value networks
// with their observation normalizers and the exploration
// noise parameter.
type ActorCritic struct {
	Actor  anynet.Net
	Critic anynet.Net
	Noise  *NoiseStd

	ActorNorm  *EmpiricalNormalizer
	CriticNorm *EmpiricalNormalizer

	ActDim int
}

// NewActorCritic builds actor and critic networks
// according to cfg.
//
// The actor's final layer starts at zero so that early
// exploration is driven entirely by the noise parameter.
func NewActorCritic(c anyvec.Creator, cfg *PolicyConfig, obsDim, criticObsDim,
	actDim int) (*ActorCritic, error) {
	if actDim <= 0 {
		return nil, configErrorf("num_actions", "must be positive, got %d", actDim)
	}
	activation, err := activationLayer(cfg.Activation)
	if err != nil {
		return nil, err
	}

	actor := anynet.Net{}
	in := obsDim
	for _, hidden := range cfg.ActorHidden {
		actor = append(actor, anynet.NewFC(c, in, hidden), activation)
		in = hidden
	}
	actor = append(actor, anynet.NewFCZero(c, in, actDim))

	critic := anynet.Net{}
	in = criticObsDim
	for _, hidden := range cfg.CriticHidden {
		critic = append(critic, anynet.NewFC(c, in, hidden), activation)
		in = hidden
	}
	critic = append(critic, anynet.NewFC(c, in, 1))

	noise, err := NewNoiseStd(c, cfg.NoiseStdType, cfg.InitNoiseStd, actDim)
	if err != nil {
		return nil, err
	}

	actorNormDim, criticNormDim := 0, 0
	if cfg.EmpiricalNormalization {
		actorNormDim, criticNormDim = obsDim, criticObsDim
	}
	return &ActorCritic{
		Actor:      actor,
		Critic:     critic,
		Noise:      noise,
		ActorNorm:  NewEmpiricalNormalizer(actorNormDim),
		CriticNorm: NewEmpiricalNormalizer(criticNormDim),
		ActDim:     actDim,
	}, nil
}

// DeserializeActorCritic deserializes an ActorCritic.
func DeserializeActorCritic(d []byte) (ac *ActorCritic, err error) {
	defer essentials.AddCtxTo("deserialize ActorCritic", &err)
	var actor, critic anynet.Net
	var noise *NoiseStd
	var actorNorm, criticNorm *EmpiricalNormalizer
	var actDim int
	err = serializer.DeserializeAny(d, &actor, &critic, &noise, &actorNorm,
		&criticNorm, &actDim)
	if err != nil {
		return nil, err
	}
	return &ActorCritic{
		Actor:      actor,
		Critic:     critic,
		Noise:      noise,
		ActorNorm:  actorNorm,
		CriticNorm: criticNorm,
		ActDim:     actDim,
	}, nil
}

// Parameters returns every trainable variable of the
// actor, the critic, and the noise parameter.
func (a *ActorCritic) Parameters() []*anydiff.Var {
	params := anynet.AllParameters(a.Actor, a.Critic)
	return append(params, a.Noise.Param)
}

// Distribution returns the action distribution head.
func (a *ActorCritic) Distribution() *Gaussian {
	return &Gaussian{Noise: a.Noise, Dim: a.ActDim}
}

// ActorMean applies the actor to a raw observation batch,
// normalizing first when normalization is enabled.
func (a *ActorCritic) ActorMean(obs anyvec.Vector, batch int) anydiff.Res {
	in := a.ActorNorm.NormalizeVec(obs)
	return a.Actor.Apply(anydiff.NewConst(in), batch)
}

// Value applies the critic to a raw observation batch,
// producing one value estimate per row.
func (a *ActorCritic) Value(obs anyvec.Vector, batch int) anydiff.Res {
	in := a.CriticNorm.NormalizeVec(obs)
	return a.Critic.Apply(anydiff.NewConst(in), batch)
}

// UpdateNormalizers folds raw observation batches into the
// running statistics.
// It should only be called while collecting rollouts.
func (a *ActorCritic) UpdateNormalizers(policyObs, criticObs anyvec.Vector) {
	a.ActorNorm.UpdateVec(policyObs)
	a.CriticNorm.UpdateVec(criticObs)
}

// SerializerType returns the unique ID used to serialize
// an ActorCritic.
func (a *ActorCritic) SerializerType() string {
	return "github.com/unixpickle/anyppo.ActorCritic"
}

// Serialize serializes the ActorCritic.
func (a *ActorCritic) Serialize() ([]byte, error) {
	return serializer.SerializeAny(a.Actor, a.Critic, a.Noise, a.ActorNorm,
		a.CriticNorm, a.ActDim)
}

func activationLayer(name string) (anynet.Layer, error) {
	switch name {
	case "tanh":
		return anynet.Tanh, nil
	case "relu":
		return anynet.ReLU, nil
	case "sigmoid":
		return anynet.Sigmoid, nil
	}
	return nil, configErrorf("activation", "unknown activation %q", name)
}
