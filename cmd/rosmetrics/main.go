// Package main provides the entry point for the rosmetrics CLI tool.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/rosmetrics/cmd/rosmetrics/commands"
	"github.com/Sumatoshi-tech/rosmetrics/pkg/version"
)

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "rosmetrics",
		Short: "ROS ecosystem metrics - distribution manifest history analysis",
		Long: `rosmetrics mines the ROS distribution manifest repository.

Commands:
  update    Walk the manifest history and update the metrics store
  repos     Maintain the repository table and working copies
  report    Print metric tables to the console
  chart     Render metric charts to an HTML page`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}

			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")

	rootCmd.AddCommand(commands.NewUpdateCommand())
	rootCmd.AddCommand(commands.NewReposCommand())
	rootCmd.AddCommand(commands.NewReportCommand())
	rootCmd.AddCommand(commands.NewChartCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "rosmetrics %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
