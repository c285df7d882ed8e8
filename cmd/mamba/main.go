// Command mamba runs a time-budgeted successive-halving tournament over the
// SGLD reference kernel and prints the winning hyperparameters as YAML.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mamba",
		Short:        "Tune stochastic gradient samplers under a time budget",
		SilenceUsage: true,
	}

	root.AddCommand(newRunCmd())

	return root
}
