package anyppo

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{"max_iterations": 100}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxIterations != 100 {
		t.Errorf("expected 100 iterations but got %d", cfg.MaxIterations)
	}
	if cfg.NumStepsPerEnv != 24 || cfg.SaveInterval != 50 {
		t.Errorf("unexpected loop defaults: %d, %d", cfg.NumStepsPerEnv,
			cfg.SaveInterval)
	}

	p := cfg.Policy
	if !reflect.DeepEqual(p.ActorHidden, []int{256, 256, 256}) ||
		!reflect.DeepEqual(p.CriticHidden, []int{256, 256, 256}) {
		t.Errorf("unexpected hidden dims: %v, %v", p.ActorHidden, p.CriticHidden)
	}
	if p.Activation != "tanh" || p.InitNoiseStd != 1 ||
		p.NoiseStdType != NoiseStdScalar {
		t.Errorf("unexpected policy defaults: %+v", p)
	}

	a := cfg.Algorithm
	if a.LearningRate != 1e-3 || a.Schedule != ScheduleFixed {
		t.Errorf("unexpected optimizer defaults: %v, %q", a.LearningRate, a.Schedule)
	}
	if a.ClipParam != 0.2 || a.Gamma != 0.99 || a.Lam != 0.95 {
		t.Errorf("unexpected PPO defaults: %+v", a)
	}
	if a.ValueLossCoef != 1 || a.NumLearningEpochs != 5 || a.NumMiniBatches != 4 ||
		a.MaxGradNorm != 1 {
		t.Errorf("unexpected PPO defaults: %+v", a)
	}
	if a.RND != nil || a.Symmetry != nil {
		t.Error("expected RND and symmetry to stay disabled")
	}
}

func TestParseConfigUnknownField(t *testing.T) {
	_, err := ParseConfig([]byte(`{"max_iterations": 1, "bogus": true}`))
	if err == nil {
		t.Error("expected error for an unknown field")
	}
}

func TestParseConfigInvalid(t *testing.T) {
	bad := []string{
		`{}`,
		`{"max_iterations": 1, "algorithm": {"gamma": 1.5}}`,
		`{"max_iterations": 1, "algorithm": {"schedule": "adaptive"}}`,
		`{"max_iterations": 1, "algorithm": {"schedule": "cyclic"}}`,
		`{"max_iterations": 1, "policy": {"activation": "elu"}}`,
	}
	for _, data := range bad {
		if _, err := ParseConfig([]byte(data)); err == nil {
			t.Errorf("expected error for %s", data)
		}
	}
}

func TestParseConfigRNDDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(
		`{"max_iterations": 1, "algorithm": {"rnd_cfg": {"weight": 0.5}}}`))
	if err != nil {
		t.Fatal(err)
	}
	rnd := cfg.Algorithm.RND
	if rnd == nil {
		t.Fatal("expected an RND configuration")
	}
	if rnd.Weight != 0.5 || rnd.LearningRate != 1e-3 || rnd.NumOutputs != 1 {
		t.Errorf("unexpected RND defaults: %+v", rnd)
	}
	if !reflect.DeepEqual(rnd.PredictorHidden, []int{256, 256}) ||
		!reflect.DeepEqual(rnd.TargetHidden, []int{256, 256}) {
		t.Errorf("unexpected RND hidden dims: %+v", rnd)
	}
	if rnd.Activation != "tanh" {
		t.Errorf("unexpected RND activation %q", rnd.Activation)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative entropy coef", func(c *Config) {
			c.Algorithm.EntropyCoef = -1
		}},
		{"negative value loss coef", func(c *Config) {
			c.Algorithm.ValueLossCoef = -1
		}},
		{"bad noise type", func(c *Config) {
			c.Policy.NoiseStdType = "gaussian"
		}},
		{"bad activation", func(c *Config) {
			c.Policy.Activation = "elu"
		}},
		{"bad hidden layer", func(c *Config) {
			c.Policy.ActorHidden = []int{64, -3}
		}},
		{"negative mini batches", func(c *Config) {
			c.Algorithm.NumMiniBatches = -1
		}},
		{"lambda above one", func(c *Config) {
			c.Algorithm.Lam = 1.5
		}},
		{"negative clip", func(c *Config) {
			c.Algorithm.ClipParam = -0.5
		}},
		{"negative grad norm", func(c *Config) {
			c.Algorithm.MaxGradNorm = -1
		}},
		{"negative RND weight", func(c *Config) {
			c.Algorithm.RND = testRNDConfig()
			c.Algorithm.RND.Weight = -1
		}},
		{"bad RND schedule", func(c *Config) {
			c.Algorithm.RND = testRNDConfig()
			c.Algorithm.RND.WeightSchedule = &ScheduleConfig{Mode: "cosine"}
		}},
		{"negative mirror coeff", func(c *Config) {
			c.Algorithm.Symmetry = &SymmetryConfig{MirrorLossCoeff: -1}
		}},
	}
	for _, m := range mutations {
		cfg := testRunnerConfig()
		cfg.FillDefaults()
		if err := cfg.Validate(); err != nil {
			t.Fatalf("base config invalid: %v", err)
		}
		m.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected a validation error", m.name)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := []byte(`{"max_iterations": 7, "num_steps_per_env": 8}`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxIterations != 7 || cfg.NumStepsPerEnv != 8 {
		t.Errorf("unexpected config: %+v", cfg)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for a missing file")
	}
}
