package anyppo

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// Symmetry exploits a mirror transform of the environment
// to augment rollout data and regularize the policy.
type Symmetry struct {
	// Augment doubles every mini-batch with mirrored
	// copies of the transitions.
	Augment bool

	// MirrorLossCoeff scales the loss penalizing
	// asymmetric actor outputs.
	// A zero coefficient disables the loss.
	MirrorLossCoeff float64

	mirrorer Mirrorer
}

// NewSymmetry resolves the environment's mirror transform
// for the configured symmetry features.
//
// It returns nil when cfg is nil or enables nothing.
// It fails when a feature is enabled but e does not
// implement Mirrorer.
func NewSymmetry(cfg *SymmetryConfig, e Env) (*Symmetry, error) {
	if cfg == nil || (!cfg.UseDataAugmentation && cfg.MirrorLossCoeff == 0) {
		return nil, nil
	}
	m, ok := e.(Mirrorer)
	if !ok {
		return nil, configErrorf("symmetry_cfg",
			"environment does not implement anyppo.Mirrorer")
	}
	return &Symmetry{
		Augment:         cfg.UseDataAugmentation,
		MirrorLossCoeff: cfg.MirrorLossCoeff,
		mirrorer:        m,
	}, nil
}

// AugmentObs appends a mirrored copy of every observation
// row, yielding 2*batch rows with the originals first.
func (s *Symmetry) AugmentObs(group string, obs anyvec.Vector, batch int) anyvec.Vector {
	mirrored := s.mirrorer.MirrorObs(group, obs, batch)
	return obs.Creator().Concat(obs, mirrored)
}

// AugmentActions appends a mirrored copy of every action
// row, matching the layout of AugmentObs.
func (s *Symmetry) AugmentActions(actions anyvec.Vector, batch int) anyvec.Vector {
	mirrored := s.mirrorer.MirrorActions(actions, batch)
	return actions.Creator().Concat(actions, mirrored)
}

// MirrorObs mirrors observation rows for a consumer group
// without augmentation.
func (s *Symmetry) MirrorObs(group string, obs anyvec.Vector, batch int) anyvec.Vector {
	return s.mirrorer.MirrorObs(group, obs, batch)
}

// MirrorLoss measures how far the actor is from mirror
// equivariance on a batch of policy observations.
//
// The target is the mirrored actor mean on the original
// observations, treated as a constant so that only the
// mirrored branch receives gradient.
func (s *Symmetry) MirrorLoss(ac *ActorCritic, policyObs anyvec.Vector,
	origMean anyvec.Vector, batch int) anydiff.Res {
	mirroredObs := s.mirrorer.MirrorObs(GroupPolicy, policyObs, batch)
	mirroredMean := ac.ActorMean(mirroredObs, batch)
	target := anydiff.NewConst(s.mirrorer.MirrorActions(origMean, batch))
	diff := anydiff.Sub(mirroredMean, target)
	c := policyObs.Creator()
	return anydiff.Scale(
		anydiff.Sum(anydiff.Square(diff)),
		c.MakeNumeric(1/float64(origMean.Len())),
	)
}
