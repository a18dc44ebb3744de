// Command anyppo trains, distills, and inspects PPO
// policies on the built-in pendulum environment.
package main

import (
	"flag"

	"github.com/spf13/cobra"
	"github.com/unixpickle/essentials"
)

func main() {
	// glog, used by the training loop, wants the standard
	// flag set parsed.
	flag.CommandLine.Parse(nil)

	cmd := &cobra.Command{
		Use:           "anyppo",
		Short:         "Train and inspect PPO policies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		trainCommand(),
		distillCommand(),
		infoCommand(),
	)
	if err := cmd.Execute(); err != nil {
		essentials.Die(err)
	}
}
