package anyppo

import (
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestGaussianLogProb(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	noise, err := NewNoiseStd(c, NoiseStdScalar, 0.5, 2)
	if err != nil {
		t.Fatal(err)
	}
	dist := &Gaussian{Noise: noise, Dim: 2}

	means := anyvec.Make(c, []float64{0, 1, -1, 2})
	actions := anyvec.Make(c, []float64{0.5, 1, -1, 1})
	out := dist.LogProb(anydiff.NewConst(means), actions, 2).Output()

	// Row 0: z = (1, 0), squared sum 1.
	// Row 1: z = (0, -2), squared sum 4.
	// sum(log std) = 2*log(0.5) = -1.386294
	// constant = -log(2*pi) = -1.837877
	// logp0 = -0.5 + 1.386294 - 1.837877 = -0.951583
	// logp1 = -2.0 + 1.386294 - 1.837877 = -2.451583
	expected := []float64{-0.951583, -2.451583}
	actual := c.Float64Slice(out.Data())
	if len(actual) != 2 {
		t.Fatalf("expected 2 values but got %d", len(actual))
	}
	for i, x := range expected {
		if math.Abs(actual[i]-x) > 1e-4 {
			t.Errorf("row %d: expected %v but got %v", i, x, actual[i])
		}
	}

	hostOut := dist.HostLogProbs([]float64{0, 1, -1, 2}, []float64{0.5, 0.5},
		[]float64{0.5, 1, -1, 1}, 2)
	for i, x := range actual {
		if math.Abs(hostOut[i]-x) > 1e-8 {
			t.Errorf("row %d: host version disagrees: %v vs %v", i, hostOut[i], x)
		}
	}
}

func TestGaussianLogNoiseType(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	scalar, err := NewNoiseStd(c, NoiseStdScalar, 0.5, 2)
	if err != nil {
		t.Fatal(err)
	}
	logged, err := NewNoiseStd(c, NoiseStdLog, 0.5, 2)
	if err != nil {
		t.Fatal(err)
	}
	scalarStds := scalar.StdVals()
	logStds := logged.StdVals()
	for i := range scalarStds {
		if math.Abs(scalarStds[i]-logStds[i]) > 1e-8 {
			t.Errorf("dim %d: expected %v but got %v", i, scalarStds[i], logStds[i])
		}
	}

	means := anyvec.Make(c, []float64{0, 1})
	actions := anyvec.Make(c, []float64{0.5, 1})
	a := (&Gaussian{Noise: scalar, Dim: 2}).LogProb(anydiff.NewConst(means),
		actions, 1).Output()
	b := (&Gaussian{Noise: logged, Dim: 2}).LogProb(anydiff.NewConst(means),
		actions, 1).Output()
	diff := a.Copy()
	diff.Sub(b)
	if anyvec.AbsMax(diff).(float64) > 1e-8 {
		t.Errorf("parameterizations disagree: %v vs %v", a.Data(), b.Data())
	}

	if _, err := NewNoiseStd(c, "bogus", 1, 2); err == nil {
		t.Error("expected error for unknown parameterization")
	}
	if _, err := NewNoiseStd(c, NoiseStdScalar, 0, 2); err == nil {
		t.Error("expected error for non-positive std")
	}
}

func TestGaussianEntropy(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	noise, err := NewNoiseStd(c, NoiseStdScalar, 0.5, 2)
	if err != nil {
		t.Fatal(err)
	}
	dist := &Gaussian{Noise: noise, Dim: 2}

	out := dist.Entropy().Output()
	if out.Len() != 1 {
		t.Fatalf("expected 1 value but got %d", out.Len())
	}

	// 2*log(0.5) + 0.5*2*(1 + log(2*pi)) = 1.451583
	actual := c.Float64Slice(out.Data())[0]
	if math.Abs(actual-1.451583) > 1e-4 {
		t.Errorf("expected 1.451583 but got %v", actual)
	}
}

func TestGaussianSample(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	noise, err := NewNoiseStd(c, NoiseStdScalar, 0.3, 2)
	if err != nil {
		t.Fatal(err)
	}
	dist := &Gaussian{Noise: noise, Dim: 2}
	means := anyvec.Make(c, []float64{0, 1, -1, 2})

	s1 := dist.Sample(means, 2, rand.New(rand.NewSource(5)))
	s2 := dist.Sample(means, 2, rand.New(rand.NewSource(5)))
	diff := s1.Copy()
	diff.Sub(s2)
	if anyvec.AbsMax(diff).(float64) != 0 {
		t.Errorf("expected identical samples but got %v and %v", s1.Data(), s2.Data())
	}
}

func TestGaussianStdFloor(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	noise, err := NewNoiseStd(c, NoiseStdScalar, 1e-9, 2)
	if err != nil {
		t.Fatal(err)
	}
	for i, s := range noise.StdVals() {
		if math.Abs(s-1e-4) > 1e-12 {
			t.Errorf("dim %d: expected floor 1e-4 but got %v", i, s)
		}
	}

	// Samples should stay within a few floored standard
	// deviations of the means.
	dist := &Gaussian{Noise: noise, Dim: 2}
	means := anyvec.Make(c, []float64{0, 1, -1, 2})
	sample := dist.Sample(means, 2, rand.New(rand.NewSource(3)))
	diff := sample.Copy()
	diff.Sub(means)
	if anyvec.AbsMax(diff).(float64) > 1e-2 {
		t.Errorf("samples strayed from means: %v", sample.Data())
	}
}

func TestNoiseStdSerialize(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	noise, err := NewNoiseStd(c, NoiseStdLog, 0.7, 3)
	if err != nil {
		t.Fatal(err)
	}
	data, err := noise.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	restored, err := DeserializeNoiseStd(data)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Type != NoiseStdLog {
		t.Errorf("expected type %q but got %q", NoiseStdLog, restored.Type)
	}
	expected := noise.StdVals()
	actual := restored.StdVals()
	for i, x := range expected {
		if math.Abs(actual[i]-x) > 1e-8 {
			t.Errorf("dim %d: expected %v but got %v", i, x, actual[i])
		}
	}
}
