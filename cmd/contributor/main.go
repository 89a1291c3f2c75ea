// Command contributor runs the ICCO contributor service and its tooling.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chainsafe/icco-contributor/pkg/app"
	"github.com/chainsafe/icco-contributor/pkg/app/api"
	"github.com/chainsafe/icco-contributor/pkg/config"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:          "contributor",
	Short:        "ICCO sale contributor",
	Long:         "Accept contributions for cross-chain token sales, settle them against conductor VAAs and dispatch escrow instructions.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "config.example.yaml", "Path to configuration file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the contributor HTTP API and instruction dispatcher",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			var runner app.Runner = api.NewServer(cfg)
			return runner.Run()
		},
	})
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newVAACmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
