package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/unixpickle/anyppo"
)

func infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <checkpoint>",
		Short: "Print checkpoint metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ck, err := anyppo.LoadCheckpoint(args[0])
			if err != nil {
				return err
			}
			fmt.Println("run ID:       ", ck.RunID)
			fmt.Println("iteration:    ", ck.Iteration)
			fmt.Println("learning rate:", ck.LearningRate)
			fmt.Println("actions:      ", ck.AC.ActDim)
			fmt.Println("parameters:   ", numParams(ck.AC))
			fmt.Println("RND:          ", ck.RND != nil)
			return nil
		},
	}
}

func numParams(ac *anyppo.ActorCritic) int {
	var total int
	for _, p := range ac.Parameters() {
		total += p.Vector.Len()
	}
	return total
}
