package anyppo

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/unixpickle/essentials"
)

// DefaultClipParam is the surrogate clipping range used
// when clip_param is unset.
const DefaultClipParam = 0.2

// Config is the top-level training configuration.
type Config struct {
	// Seed initializes action sampling and mini-batch
	// shuffling, making runs reproducible.
	Seed int64 `json:"seed"`

	// NumStepsPerEnv is the rollout horizon collected
	// from every environment instance per iteration.
	NumStepsPerEnv int `json:"num_steps_per_env"`

	// MaxIterations ends the run.
	MaxIterations int `json:"max_iterations"`

	// SaveInterval is the number of iterations between
	// checkpoints.
	SaveInterval int `json:"save_interval"`

	// ObsGroups maps consumer names to ordered lists of
	// observation components.
	// If nil, every consumer sees all components.
	ObsGroups ObsGroups `json:"obs_groups"`

	Policy    *PolicyConfig    `json:"policy"`
	Algorithm *AlgorithmConfig `json:"algorithm"`
}

// PolicyConfig describes the actor-critic networks.
type PolicyConfig struct {
	ActorHidden  []int  `json:"actor_hidden_dims"`
	CriticHidden []int  `json:"critic_hidden_dims"`
	Activation   string `json:"activation"`

	// InitNoiseStd is the initial action noise standard
	// deviation, stored per NoiseStdType.
	InitNoiseStd float64 `json:"init_noise_std"`
	NoiseStdType string  `json:"noise_std_type"`

	// EmpiricalNormalization whitens actor and critic
	// observations with running statistics.
	EmpiricalNormalization bool `json:"empirical_normalization"`
}

// AlgorithmConfig holds the PPO hyperparameters together
// with the optional RND and symmetry sub-configurations.
type AlgorithmConfig struct {
	LearningRate float64 `json:"learning_rate"`

	// Schedule is ScheduleFixed or ScheduleAdaptive.
	// The adaptive schedule requires DesiredKL.
	Schedule  string  `json:"schedule"`
	DesiredKL float64 `json:"desired_kl"`

	ClipParam float64 `json:"clip_param"`
	Gamma     float64 `json:"gamma"`
	Lam       float64 `json:"lam"`

	ValueLossCoef float64 `json:"value_loss_coef"`

	// EntropyCoef weights the entropy bonus.
	// If 0, no entropy bonus is applied.
	EntropyCoef float64 `json:"entropy_coef"`

	// UseClippedValueLoss clips the value prediction to
	// within ClipParam of the recorded value and takes
	// the worse of the two squared errors.
	UseClippedValueLoss bool `json:"use_clipped_value_loss"`

	NumLearningEpochs int `json:"num_learning_epochs"`
	NumMiniBatches    int `json:"num_mini_batches"`

	// MaxGradNorm bounds the global gradient L2 norm.
	// If 0, gradients are not clipped.
	MaxGradNorm float64 `json:"max_grad_norm"`

	// NormalizeAdvantagePerMiniBatch defers advantage
	// normalization from the full batch to each
	// mini-batch.
	NormalizeAdvantagePerMiniBatch bool `json:"normalize_advantage_per_mini_batch"`

	// RND enables intrinsic exploration rewards.
	RND *RNDConfig `json:"rnd_cfg"`

	// Symmetry enables mirror augmentation and loss.
	Symmetry *SymmetryConfig `json:"symmetry_cfg"`
}

// RNDConfig describes the random network distillation
// module.
type RNDConfig struct {
	// Weight scales the intrinsic reward.
	// It starts at 0, so RND contributes nothing unless
	// set or ramped by a schedule.
	Weight float64 `json:"weight"`

	LearningRate float64 `json:"learning_rate"`

	// NumOutputs is the shared output dimensionality of
	// the predictor and target, or -1 for the input
	// dimensionality.
	NumOutputs int `json:"num_outputs"`

	PredictorHidden []int  `json:"predictor_hidden_dims"`
	TargetHidden    []int  `json:"target_hidden_dims"`
	Activation      string `json:"activation"`

	StateNormalization  bool `json:"state_normalization"`
	RewardNormalization bool `json:"reward_normalization"`

	WeightSchedule *ScheduleConfig `json:"weight_schedule"`
}

// ScheduleConfig describes how the intrinsic reward
// weight evolves over iterations.
type ScheduleConfig struct {
	Mode        string  `json:"mode"`
	FinalValue  float64 `json:"final_value"`
	InitialStep int     `json:"initial_step"`
	FinalStep   int     `json:"final_step"`
}

// SymmetryConfig describes the mirror symmetry features.
type SymmetryConfig struct {
	UseDataAugmentation bool `json:"use_data_augmentation"`

	// MirrorLossCoeff weights the mirror consistency
	// loss. If 0, the loss is not computed.
	MirrorLossCoeff float64 `json:"mirror_loss_coeff"`
}

// LoadConfig reads and validates a JSON configuration
// file, rejecting unknown fields.
func LoadConfig(path string) (cfg *Config, err error) {
	defer essentials.AddCtxTo("load config", &err)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a JSON configuration,
// rejecting unknown fields.
func ParseConfig(data []byte) (*Config, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, configErrorf("config", "%v", err)
	}
	cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FillDefaults populates unset fields with the standard
// hyperparameters.
func (c *Config) FillDefaults() {
	if c.NumStepsPerEnv == 0 {
		c.NumStepsPerEnv = 24
	}
	if c.SaveInterval == 0 {
		c.SaveInterval = 50
	}
	if c.Policy == nil {
		c.Policy = &PolicyConfig{}
	}
	if c.Algorithm == nil {
		c.Algorithm = &AlgorithmConfig{}
	}
	c.Policy.FillDefaults()
	c.Algorithm.FillDefaults()
}

// FillDefaults populates unset fields with the standard
// network shape.
func (p *PolicyConfig) FillDefaults() {
	if p.ActorHidden == nil {
		p.ActorHidden = []int{256, 256, 256}
	}
	if p.CriticHidden == nil {
		p.CriticHidden = []int{256, 256, 256}
	}
	if p.Activation == "" {
		p.Activation = "tanh"
	}
	if p.InitNoiseStd == 0 {
		p.InitNoiseStd = 1
	}
	if p.NoiseStdType == "" {
		p.NoiseStdType = NoiseStdScalar
	}
}

// FillDefaults populates unset fields with the standard
// hyperparameters.
func (a *AlgorithmConfig) FillDefaults() {
	if a.LearningRate == 0 {
		a.LearningRate = 1e-3
	}
	if a.Schedule == "" {
		a.Schedule = ScheduleFixed
	}
	if a.ClipParam == 0 {
		a.ClipParam = DefaultClipParam
	}
	if a.Gamma == 0 {
		a.Gamma = 0.99
	}
	if a.Lam == 0 {
		a.Lam = 0.95
	}
	if a.ValueLossCoef == 0 {
		a.ValueLossCoef = 1
	}
	if a.NumLearningEpochs == 0 {
		a.NumLearningEpochs = 5
	}
	if a.NumMiniBatches == 0 {
		a.NumMiniBatches = 4
	}
	if a.MaxGradNorm == 0 {
		a.MaxGradNorm = 1
	}
	if a.RND != nil {
		a.RND.FillDefaults()
	}
}

// FillDefaults populates unset fields with the standard
// network shape.
func (r *RNDConfig) FillDefaults() {
	if r.LearningRate == 0 {
		r.LearningRate = 1e-3
	}
	if r.NumOutputs == 0 {
		r.NumOutputs = 1
	}
	if r.PredictorHidden == nil {
		r.PredictorHidden = []int{256, 256}
	}
	if r.TargetHidden == nil {
		r.TargetHidden = []int{256, 256}
	}
	if r.Activation == "" {
		r.Activation = "tanh"
	}
}

// Validate checks the configuration for errors that would
// otherwise surface mid-run.
func (c *Config) Validate() error {
	if c.NumStepsPerEnv <= 0 {
		return configErrorf("num_steps_per_env", "must be positive, got %d",
			c.NumStepsPerEnv)
	}
	if c.MaxIterations <= 0 {
		return configErrorf("max_iterations", "must be positive, got %d",
			c.MaxIterations)
	}
	if c.SaveInterval <= 0 {
		return configErrorf("save_interval", "must be positive, got %d",
			c.SaveInterval)
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	return c.Algorithm.Validate()
}

// Validate checks the policy configuration.
func (p *PolicyConfig) Validate() error {
	if _, err := activationLayer(p.Activation); err != nil {
		return err
	}
	if p.NoiseStdType != NoiseStdScalar && p.NoiseStdType != NoiseStdLog {
		return configErrorf("policy.noise_std_type",
			"must be %q or %q, got %q", NoiseStdScalar, NoiseStdLog, p.NoiseStdType)
	}
	if p.InitNoiseStd <= 0 {
		return configErrorf("policy.init_noise_std",
			"must be positive, got %v", p.InitNoiseStd)
	}
	for _, h := range p.ActorHidden {
		if h <= 0 {
			return configErrorf("policy.actor_hidden_dims",
				"layer sizes must be positive, got %d", h)
		}
	}
	for _, h := range p.CriticHidden {
		if h <= 0 {
			return configErrorf("policy.critic_hidden_dims",
				"layer sizes must be positive, got %d", h)
		}
	}
	return nil
}

// Validate checks the algorithm configuration, including
// the RND and symmetry sub-configurations.
func (a *AlgorithmConfig) Validate() error {
	if a.LearningRate <= 0 {
		return configErrorf("algorithm.learning_rate",
			"must be positive, got %v", a.LearningRate)
	}
	switch a.Schedule {
	case ScheduleFixed:
	case ScheduleAdaptive:
		if a.DesiredKL <= 0 {
			return configErrorf("algorithm.desired_kl",
				"must be positive for the adaptive schedule, got %v", a.DesiredKL)
		}
	default:
		return configErrorf("algorithm.schedule", "unknown schedule %q", a.Schedule)
	}
	if a.ClipParam <= 0 {
		return configErrorf("algorithm.clip_param",
			"must be positive, got %v", a.ClipParam)
	}
	if a.Gamma <= 0 || a.Gamma > 1 {
		return configErrorf("algorithm.gamma",
			"must be in (0, 1], got %v", a.Gamma)
	}
	if a.Lam < 0 || a.Lam > 1 {
		return configErrorf("algorithm.lam",
			"must be in [0, 1], got %v", a.Lam)
	}
	if a.EntropyCoef < 0 {
		return configErrorf("algorithm.entropy_coef",
			"must be non-negative, got %v", a.EntropyCoef)
	}
	if a.ValueLossCoef < 0 {
		return configErrorf("algorithm.value_loss_coef",
			"must be non-negative, got %v", a.ValueLossCoef)
	}
	if a.NumLearningEpochs <= 0 {
		return configErrorf("algorithm.num_learning_epochs",
			"must be positive, got %d", a.NumLearningEpochs)
	}
	if a.NumMiniBatches <= 0 {
		return configErrorf("algorithm.num_mini_batches",
			"must be positive, got %d", a.NumMiniBatches)
	}
	if a.MaxGradNorm < 0 {
		return configErrorf("algorithm.max_grad_norm",
			"must be non-negative, got %v", a.MaxGradNorm)
	}
	if a.RND != nil {
		if err := a.RND.Validate(); err != nil {
			return err
		}
	}
	if a.Symmetry != nil && a.Symmetry.MirrorLossCoeff < 0 {
		return configErrorf("symmetry_cfg.mirror_loss_coeff",
			"must be non-negative, got %v", a.Symmetry.MirrorLossCoeff)
	}
	return nil
}

// Validate checks the RND configuration.
func (r *RNDConfig) Validate() error {
	if r.Weight < 0 {
		return configErrorf("rnd_cfg.weight",
			"must be non-negative, got %v", r.Weight)
	}
	if r.LearningRate <= 0 {
		return configErrorf("rnd_cfg.learning_rate",
			"must be positive, got %v", r.LearningRate)
	}
	if r.NumOutputs == 0 || r.NumOutputs < -1 {
		return configErrorf("rnd_cfg.num_outputs",
			"must be positive or -1, got %d", r.NumOutputs)
	}
	if _, err := activationLayer(r.Activation); err != nil {
		return err
	}
	if _, err := newWeightSchedule(r.WeightSchedule, r.Weight); err != nil {
		return err
	}
	return nil
}
