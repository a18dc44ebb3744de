package anyppo

import (
	"math"
	"reflect"
	"testing"

	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

func testRNDConfig() *RNDConfig {
	return &RNDConfig{
		Weight:          0.5,
		LearningRate:    1e-2,
		NumOutputs:      4,
		PredictorHidden: []int{8},
		TargetHidden:    []int{8},
		Activation:      "tanh",
	}
}

func TestRNDIntrinsicRewards(t *testing.T) {
	c := anyvec64.DefaultCreator{}

	// The predictor computes 2x and the target x, so the
	// raw intrinsic reward for x is x^2.
	pred := anynet.NewFC(c, 1, 1)
	pred.Weights.Vector.SetData(c.MakeNumericList([]float64{2}))
	pred.Biases.Vector.SetData(c.MakeNumericList([]float64{0}))
	targ := anynet.NewFC(c, 1, 1)
	targ.Weights.Vector.SetData(c.MakeNumericList([]float64{1}))
	targ.Biases.Vector.SetData(c.MakeNumericList([]float64{0}))
	rnd := &RND{
		Predictor: anynet.Net{pred},
		Target:    anynet.Net{targ},
		RewNorm:   NewEmpiricalNormalizer(0),
		StateNorm: NewEmpiricalNormalizer(0),
		OutDim:    1,
		weight:    0.5,
		schedule:  constantSchedule{weight: 0.5},
	}

	obs := anyvec.Make(c, []float64{1, 2, 3})
	rewards := rnd.IntrinsicRewards(obs, 3)
	expected := []float64{0.5, 2, 4.5}
	for i, x := range expected {
		if math.Abs(rewards[i]-x) > 1e-8 {
			t.Errorf("row %d: expected %v but got %v", i, x, rewards[i])
		}
	}
}

func TestRNDWeightSchedules(t *testing.T) {
	sched, err := newWeightSchedule(nil, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if sched.Evaluate(0) != 0.7 || sched.Evaluate(1000) != 0.7 {
		t.Error("constant schedule changed its value")
	}

	sched, err = newWeightSchedule(&ScheduleConfig{
		Mode:       ScheduleModeStep,
		FinalValue: 0.1,
		FinalStep:  10,
	}, 0.9)
	if err != nil {
		t.Fatal(err)
	}
	for _, pair := range [][2]float64{{0, 0.9}, {9, 0.9}, {10, 0.1}, {50, 0.1}} {
		if actual := sched.Evaluate(int(pair[0])); actual != pair[1] {
			t.Errorf("step %v: expected %v but got %v", pair[0], pair[1], actual)
		}
	}

	sched, err = newWeightSchedule(&ScheduleConfig{
		Mode:        ScheduleModeLinear,
		FinalValue:  0,
		InitialStep: 10,
		FinalStep:   20,
	}, 1)
	if err != nil {
		t.Fatal(err)
	}
	for _, pair := range [][2]float64{{5, 1}, {10, 1}, {15, 0.5}, {20, 0}, {25, 0}} {
		if actual := sched.Evaluate(int(pair[0])); math.Abs(actual-pair[1]) > 1e-8 {
			t.Errorf("step %v: expected %v but got %v", pair[0], pair[1], actual)
		}
	}
}

func TestRNDWeightScheduleErrors(t *testing.T) {
	if _, err := newWeightSchedule(&ScheduleConfig{Mode: "cosine"}, 1); err == nil {
		t.Error("expected error for unknown mode")
	}
	if _, err := newWeightSchedule(&ScheduleConfig{
		Mode: ScheduleModeStep,
	}, 1); err == nil {
		t.Error("expected error for missing final step")
	}
	if _, err := newWeightSchedule(&ScheduleConfig{
		Mode:        ScheduleModeLinear,
		InitialStep: 5,
		FinalStep:   5,
	}, 1); err == nil {
		t.Error("expected error for empty linear range")
	}
}

func TestRNDOutputDim(t *testing.T) {
	c := anyvec64.DefaultCreator{}

	cfg := testRNDConfig()
	cfg.NumOutputs = -1
	rnd, err := NewRND(c, cfg, 5)
	if err != nil {
		t.Fatal(err)
	}
	if rnd.OutDim != 5 {
		t.Errorf("expected output dim 5 but got %d", rnd.OutDim)
	}

	cfg.NumOutputs = 3
	rnd, err = NewRND(c, cfg, 5)
	if err != nil {
		t.Fatal(err)
	}
	if rnd.OutDim != 3 {
		t.Errorf("expected output dim 3 but got %d", rnd.OutDim)
	}

	cfg.NumOutputs = -2
	if _, err := NewRND(c, cfg, 5); err == nil {
		t.Error("expected error for invalid output dim")
	}
}

func TestRNDTrains(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	rnd, err := NewRND(c, testRNDConfig(), 3)
	if err != nil {
		t.Fatal(err)
	}

	obs := anyvec.Make(c, []float64{0.1, -0.5, 0.9, 1, 0.25, -1})
	first, ok := rnd.Update(obs, 2)
	if !ok {
		t.Fatal("first update was skipped")
	}
	if first <= 0 {
		t.Fatalf("expected positive initial loss but got %v", first)
	}
	var last float64
	for i := 0; i < 200; i++ {
		last, ok = rnd.Update(obs, 2)
		if !ok {
			t.Fatal("update was skipped")
		}
	}
	if last >= first {
		t.Errorf("loss did not decrease: %v -> %v", first, last)
	}
}

func TestRNDNormalizers(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	cfg := testRNDConfig()
	cfg.StateNormalization = true
	cfg.RewardNormalization = true
	rnd, err := NewRND(c, cfg, 3)
	if err != nil {
		t.Fatal(err)
	}
	if rnd.StateNorm.Dim() != 3 {
		t.Errorf("expected state normalizer dim 3 but got %d", rnd.StateNorm.Dim())
	}
	if rnd.RewNorm.Dim() != 1 {
		t.Errorf("expected reward normalizer dim 1 but got %d", rnd.RewNorm.Dim())
	}

	obs := anyvec.Make(c, []float64{0.1, -0.5, 0.9, 1, 0.25, -1})
	rnd.IntrinsicRewards(obs, 2)
	if rnd.StateNorm.Count() != 2 {
		t.Errorf("expected 2 state rows but got %v", rnd.StateNorm.Count())
	}
	if rnd.RewNorm.Count() != 2 {
		t.Errorf("expected 2 reward rows but got %v", rnd.RewNorm.Count())
	}
}

func TestRNDWeightApplied(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	cfg := testRNDConfig()
	cfg.Weight = 1
	cfg.WeightSchedule = &ScheduleConfig{
		Mode:       ScheduleModeLinear,
		FinalValue: 0,
		FinalStep:  10,
	}
	rnd, err := NewRND(c, cfg, 3)
	if err != nil {
		t.Fatal(err)
	}

	rnd.SetIteration(0)
	if rnd.Weight() != 1 {
		t.Errorf("expected weight 1 but got %v", rnd.Weight())
	}
	rnd.SetIteration(5)
	if math.Abs(rnd.Weight()-0.5) > 1e-8 {
		t.Errorf("expected weight 0.5 but got %v", rnd.Weight())
	}
	rnd.SetIteration(10)
	if rnd.Weight() != 0 {
		t.Errorf("expected weight 0 but got %v", rnd.Weight())
	}

	obs := anyvec.Make(c, []float64{0.1, -0.5, 0.9})
	for _, reward := range rnd.IntrinsicRewards(obs, 1) {
		if reward != 0 {
			t.Errorf("expected zero rewards at zero weight but got %v", reward)
		}
	}
}

func TestRNDSerialize(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	rnd, err := NewRND(c, testRNDConfig(), 3)
	if err != nil {
		t.Fatal(err)
	}
	obs := anyvec.Make(c, []float64{0.1, -0.5, 0.9, 1, 0.25, -1})
	expected := rnd.IntrinsicRewards(obs, 2)

	data, err := rnd.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	restored, err := DeserializeRND(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := restored.Configure(testRNDConfig()); err != nil {
		t.Fatal(err)
	}
	actual := restored.IntrinsicRewards(obs, 2)
	if !reflect.DeepEqual(actual, expected) {
		t.Errorf("expected %v but got %v", expected, actual)
	}
}
