// Package cmd implements the harvest-scheduler command-line interface.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/cmd/common"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/cmd/plan"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/cmd/run"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "harvest-scheduler",
	Short: "Packs harvest definitions into crawl jobs and dispatches them",
	Long: `harvest-scheduler periodically turns due harvest definitions into
budget-bounded crawl jobs, hands them to worker channels and follows each
job through its lifecycle.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String(common.KeyConfig, "", "config file (default $CONFIG_PATH or ./config.yml when present)")
	flags.String(common.KeyLogLevel, "", "log level override: debug, info, warn or error")
	flags.Bool(common.KeyDebug, false, "enable debug logging and gin debug mode")

	for _, key := range []string{common.KeyConfig, common.KeyLogLevel, common.KeyDebug} {
		if err := viper.BindPFlag(key, flags.Lookup(key)); err != nil {
			fmt.Fprintf(os.Stderr, "failed to bind flag %s: %v\n", key, err)
			os.Exit(1)
		}
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "harvest-scheduler version %s\n", Version)
		},
	})
	rootCmd.AddCommand(run.Command(func() string { return Version }))
	rootCmd.AddCommand(plan.Command())
}
