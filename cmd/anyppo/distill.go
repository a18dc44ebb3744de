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

func distillCommand() *cobra.Command {
	var saveDir string
	var numEnvs int
	var seed int64
	var iterations int

	cmd := &cobra.Command{
		Use:   "distill <teacher-checkpoint>",
		Short: "Distill a trained checkpoint into a fresh student",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			teacher, err := anyppo.LoadCheckpoint(args[0])
			if err != nil {
				return err
			}

			creator := anyvec64.DefaultCreator{}
			env := pendulum.New(creator, numEnvs, seed)
			obs, err := env.Reset()
			if err != nil {
				return err
			}
			groups, err := anyppo.ResolveGroups(nil, obs, numEnvs)
			if err != nil {
				return err
			}

			policyCfg := &anyppo.PolicyConfig{
				ActorHidden:  []int{64, 64},
				CriticHidden: []int{64, 64},
			}
			policyCfg.FillDefaults()
			student, err := anyppo.NewActorCritic(creator, policyCfg,
				groups.Dim(anyppo.GroupPolicy), groups.Dim(anyppo.GroupCritic),
				env.NumActions())
			if err != nil {
				return err
			}

			cfg := &anyppo.DistillConfig{
				Seed:           seed,
				NumStepsPerEnv: 64,
				MaxIterations:  iterations,
			}
			d, err := anyppo.NewDistiller(cfg, env, student, teacher.AC,
				&distillSink{writer: uilive.New()})
			if err != nil {
				return err
			}

			fmt.Println("Press Ctrl+C to stop distillation.")
			if err := d.Run(rip.NewRIP().Chan()); err != nil {
				return err
			}

			saver := &anyppo.FileSaver{Dir: saveDir}
			return saver.Save(&anyppo.Checkpoint{
				Iteration: d.Iteration(),
				RunID:     "distilled-" + teacher.RunID,
				AC:        student,
			})
		},
	}
	cmd.Flags().StringVar(&saveDir, "save-dir", "anyppo_out",
		"student checkpoint directory")
	cmd.Flags().IntVar(&numEnvs, "num-envs", 16, "parallel pendulums")
	cmd.Flags().Int64Var(&seed, "seed", 0, "environment seed")
	cmd.Flags().IntVar(&iterations, "iterations", 200, "distillation iterations")
	return cmd
}

type distillSink struct {
	writer *uilive.Writer
}

func (d *distillSink) Add(iteration int, metrics map[string]float64) {
	fmt.Fprintf(d.writer, "iteration %d: loss=%.6f\n",
		iteration, metrics["distill_loss"])
	d.writer.Flush()
}
