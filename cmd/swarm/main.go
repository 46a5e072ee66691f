package main

import (
	"github.com/spf13/cobra"

	"github.com/JourdanThomas/CubeSat/internal/logger"
	"github.com/JourdanThomas/CubeSat/internal/utils"
)

func main() {
	logger.Init()

	var envFile string

	rootCmd := &cobra.Command{
		Use:   "swarm",
		Short: "Distribute computation across a CubeSat swarm",
		Long: `swarm runs either side of the CubeSat task network: a hub that queues
tasks and hands them to connected workers, or a worker that joins the hub's
network and computes whatever it is sent.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			utils.LoadEnvironment(envFile)
			// pick up DEBUG from a freshly loaded .env
			logger.Init()
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment variables from this file before the default .env lookup")

	rootCmd.AddCommand(newHubCmd())
	rootCmd.AddCommand(newWorkerCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newIdentityCmd())

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("Failed to execute command: %v", err)
	}
}

// applyChanged runs the override for every flag the user set explicitly, so
// flags win over the environment and the environment wins over defaults.
func applyChanged(cmd *cobra.Command, overrides map[string]func()) {
	for name, apply := range overrides {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
}
