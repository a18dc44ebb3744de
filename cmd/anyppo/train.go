package main

import (
	"fmt"

	"github.com/gosuri/uilive"
	"github.com/spf13/cobra"
	"github.com/unixpickle/anyppo"
	"github.com/unixpickle/anyppo/pendulum"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/rip"
)

func trainCommand() *cobra.Command {
	var configPath string
	var saveDir string
	var resume string
	var numEnvs int
	var seed int64

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a pendulum swing-up policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadOrDefaultConfig(configPath)
			if err != nil {
				return err
			}

			creator := anyvec64.DefaultCreator{}
			env := pendulum.New(creator, numEnvs, seed)
			runner, err := anyppo.NewRunner(cfg, env,
				&anyppo.FileSaver{Dir: saveDir}, newLiveSink())
			if err != nil {
				return err
			}
			if resume != "" {
				ck, err := anyppo.LoadCheckpoint(resume)
				if err != nil {
					return err
				}
				if err := runner.Restore(ck); err != nil {
					return err
				}
			}

			fmt.Println("Press Ctrl+C to stop training.")
			return runner.Run(rip.NewRIP().Chan())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "JSON configuration file")
	cmd.Flags().StringVar(&saveDir, "save-dir", "anyppo_out",
		"checkpoint directory")
	cmd.Flags().StringVar(&resume, "resume", "", "checkpoint to resume from")
	cmd.Flags().IntVar(&numEnvs, "num-envs", 16, "parallel pendulums")
	cmd.Flags().Int64Var(&seed, "seed", 0, "environment seed")
	return cmd
}

// loadOrDefaultConfig reads the configuration file, or
// falls back to hyperparameters tuned for the pendulum.
func loadOrDefaultConfig(path string) (*anyppo.Config, error) {
	if path != "" {
		return anyppo.LoadConfig(path)
	}
	cfg := &anyppo.Config{
		NumStepsPerEnv: 64,
		MaxIterations:  500,
		SaveInterval:   100,
		Policy: &anyppo.PolicyConfig{
			ActorHidden:            []int{64, 64},
			CriticHidden:           []int{64, 64},
			EmpiricalNormalization: true,
		},
		Algorithm: &anyppo.AlgorithmConfig{
			LearningRate: 3e-4,
			Schedule:     anyppo.ScheduleAdaptive,
			DesiredKL:    0.01,
			EntropyCoef:  0.005,
		},
	}
	cfg.FillDefaults()
	return cfg, nil
}

// liveSink renders the latest metrics in place.
type liveSink struct {
	writer *uilive.Writer
}

func newLiveSink() *liveSink {
	return &liveSink{writer: uilive.New()}
}

func (l *liveSink) Add(iteration int, metrics map[string]float64) {
	fmt.Fprintf(l.writer,
		"iteration %d: reward=%.2f ep_len=%.0f kl=%.4f lr=%.2e std=%.3f\n",
		iteration, metrics["mean_reward"], metrics["mean_ep_length"],
		metrics["kl"], metrics["learning_rate"], metrics["noise_std"])
	l.writer.Flush()
}
