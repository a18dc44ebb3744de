package anyppo

import (
	"math"
	"testing"

	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestEmpiricalNormalizerStats(t *testing.T) {
	norm := NewEmpiricalNormalizer(1)
	norm.Update([]float64{1, 3})

	// First batch: mean=2, var=1; the rate is 1 so the
	// initial estimates are replaced outright.
	if math.Abs(norm.mean[0]-2) > 1e-8 {
		t.Errorf("expected mean 2 but got %v", norm.mean[0])
	}
	if math.Abs(norm.varr[0]-1) > 1e-8 {
		t.Errorf("expected var 1 but got %v", norm.varr[0])
	}

	norm.Update([]float64{5})

	// Second batch folds in at rate 1/3:
	// mean = 2 + (1/3)*3 = 3
	// var = 1 + (1/3)*(0 - 1 + 3*(5-3)) = 8/3
	if math.Abs(norm.mean[0]-3) > 1e-8 {
		t.Errorf("expected mean 3 but got %v", norm.mean[0])
	}
	if math.Abs(norm.varr[0]-8.0/3) > 1e-8 {
		t.Errorf("expected var 8/3 but got %v", norm.varr[0])
	}
	if norm.Count() != 3 {
		t.Errorf("expected count 3 but got %v", norm.Count())
	}

	// (6-3)/(sqrt(8/3)+0.01) = 1.825936
	out := norm.Normalize([]float64{3, 6})
	if math.Abs(out[0]) > 1e-8 {
		t.Errorf("expected 0 but got %v", out[0])
	}
	if math.Abs(out[1]-1.825936) > 1e-4 {
		t.Errorf("expected 1.825936 but got %v", out[1])
	}
}

func TestEmpiricalNormalizerColumns(t *testing.T) {
	norm := NewEmpiricalNormalizer(2)
	norm.Update([]float64{1, 10, 3, 20})

	// Column means (2, 15), column variances (1, 25).
	// (3-2)/(1+0.01) = 0.990099
	// (20-15)/(5+0.01) = 0.998004
	out := norm.Normalize([]float64{3, 20})
	if math.Abs(out[0]-0.990099) > 1e-4 {
		t.Errorf("expected 0.990099 but got %v", out[0])
	}
	if math.Abs(out[1]-0.998004) > 1e-4 {
		t.Errorf("expected 0.998004 but got %v", out[1])
	}
}

func TestEmpiricalNormalizerZeroDim(t *testing.T) {
	norm := NewEmpiricalNormalizer(0)
	norm.Update([]float64{1, 2, 3})
	if norm.Count() != 0 {
		t.Errorf("expected count 0 but got %v", norm.Count())
	}
	out := norm.Normalize([]float64{1, 2, 3})
	for i, x := range []float64{1, 2, 3} {
		if out[i] != x {
			t.Errorf("expected %v but got %v", x, out[i])
		}
	}

	c := anyvec64.DefaultCreator{}
	vec := anyvec.Make(c, []float64{4, 5})
	outVec := norm.NormalizeVec(vec)
	if outVec.Len() != 2 {
		t.Errorf("expected length 2 but got %d", outVec.Len())
	}
	diff := outVec.Copy()
	diff.Sub(vec)
	if anyvec.AbsMax(diff).(float64) != 0 {
		t.Errorf("expected passthrough but got %v", outVec.Data())
	}
}

func TestEmpiricalNormalizerSerialize(t *testing.T) {
	norm := NewEmpiricalNormalizer(2)
	norm.Update([]float64{1, 10, 3, 20})
	norm.Update([]float64{-1, 5})

	data, err := norm.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	restored, err := DeserializeEmpiricalNormalizer(data)
	if err != nil {
		t.Fatal(err)
	}

	if restored.Dim() != 2 {
		t.Errorf("expected dim 2 but got %d", restored.Dim())
	}
	if restored.Count() != norm.Count() {
		t.Errorf("expected count %v but got %v", norm.Count(), restored.Count())
	}
	probe := []float64{0.5, -2, 7, 100}
	expected := norm.Normalize(probe)
	actual := restored.Normalize(probe)
	for i, x := range expected {
		if math.Abs(actual[i]-x) > 1e-8 {
			t.Errorf("value %d: expected %v but got %v", i, x, actual[i])
		}
	}
}
