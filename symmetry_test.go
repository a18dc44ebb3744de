package anyppo

import (
	"math"
	"reflect"
	"testing"

	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

// negMirror mirrors by negating every component.
type negMirror struct{}

func (negMirror) MirrorObs(group string, obs anyvec.Vector, batch int) anyvec.Vector {
	out := obs.Copy()
	out.Scale(obs.Creator().MakeNumeric(-1.0))
	return out
}

func (negMirror) MirrorActions(actions anyvec.Vector, batch int) anyvec.Vector {
	out := actions.Copy()
	out.Scale(actions.Creator().MakeNumeric(-1.0))
	return out
}

func TestNewSymmetry(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	plain := newStubEnv(c, 2, 1, 0)

	if sym, err := NewSymmetry(nil, plain); err != nil || sym != nil {
		t.Errorf("expected nil symmetry but got %v, %v", sym, err)
	}
	if sym, err := NewSymmetry(&SymmetryConfig{}, plain); err != nil || sym != nil {
		t.Errorf("expected nil symmetry but got %v, %v", sym, err)
	}

	cfg := &SymmetryConfig{UseDataAugmentation: true}
	if _, err := NewSymmetry(cfg, plain); err == nil {
		t.Error("expected error for an environment without a mirror transform")
	} else if _, ok := err.(*ConfigError); !ok {
		t.Errorf("expected *ConfigError but got %T", err)
	}

	menv := &mirrorEnv{stubEnv: newStubEnv(c, 2, 1, 0)}
	sym, err := NewSymmetry(&SymmetryConfig{
		UseDataAugmentation: true,
		MirrorLossCoeff:     0.5,
	}, menv)
	if err != nil {
		t.Fatal(err)
	}
	if !sym.Augment || sym.MirrorLossCoeff != 0.5 {
		t.Errorf("unexpected symmetry settings: %+v", sym)
	}
}

func TestSymmetryAugment(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	sym := &Symmetry{Augment: true, mirrorer: negMirror{}}

	obs := anyvec.Make(c, []float64{1, 2, 3, 4})
	out := c.Float64Slice(sym.AugmentObs(GroupPolicy, obs, 2).Data())
	expected := []float64{1, 2, 3, 4, -1, -2, -3, -4}
	if !reflect.DeepEqual(out, expected) {
		t.Errorf("expected %v but got %v", expected, out)
	}

	actions := anyvec.Make(c, []float64{0.5, -1})
	out = c.Float64Slice(sym.AugmentActions(actions, 2).Data())
	expected = []float64{0.5, -1, -0.5, 1}
	if !reflect.DeepEqual(out, expected) {
		t.Errorf("expected %v but got %v", expected, out)
	}
}

func TestSymmetryMirrorLoss(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	fc := anynet.NewFC(c, 1, 1)
	fc.Weights.Vector.SetData(c.MakeNumericList([]float64{2}))
	fc.Biases.Vector.SetData(c.MakeNumericList([]float64{1}))
	ac := &ActorCritic{
		Actor:     anynet.Net{fc},
		ActorNorm: NewEmpiricalNormalizer(0),
		ActDim:    1,
	}
	sym := &Symmetry{MirrorLossCoeff: 1, mirrorer: negMirror{}}

	// mean(x) = 2x+1 is off by a constant 2 from mirror
	// equivariance: mean(-x) - (-mean(x)) = 2 for every x.
	// Squared and averaged over 2 rows: 4.
	obs := anyvec.Make(c, []float64{0.5, -1})
	origMean := anyvec.Make(c, []float64{2, -1})
	loss := hostScalar(sym.MirrorLoss(ac, obs, origMean, 2))
	if math.Abs(loss-4) > 1e-8 {
		t.Errorf("expected 4 but got %v", loss)
	}

	// Without the bias the policy is perfectly
	// equivariant.
	fc.Biases.Vector.SetData(c.MakeNumericList([]float64{0}))
	origMean = anyvec.Make(c, []float64{1, -2})
	loss = hostScalar(sym.MirrorLoss(ac, obs, origMean, 2))
	if loss != 0 {
		t.Errorf("expected 0 but got %v", loss)
	}
}

func TestPPOUpdateSymmetry(t *testing.T) {
	ppo, buf, table := testPPOSetup(t, testPPOConfig())
	ppo.sym = &Symmetry{Augment: true, MirrorLossCoeff: 0.1, mirrorer: negMirror{}}

	stats, err := ppo.Update(buf, table, 0)
	if err != nil {
		t.Fatal(err)
	}
	if stats.GradientSteps != 6 {
		t.Errorf("expected 6 gradient steps but got %d", stats.GradientSteps)
	}
	if math.IsNaN(stats.MirrorLoss) || stats.MirrorLoss < 0 {
		t.Errorf("unexpected mirror loss %v", stats.MirrorLoss)
	}
}
