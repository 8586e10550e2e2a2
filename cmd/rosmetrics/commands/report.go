package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/rosmetrics/internal/report"
	"github.com/Sumatoshi-tech/rosmetrics/internal/rosdistro"
)

// ReportCommand holds the configuration for the report command.
type ReportCommand struct {
	which string
}

// NewReportCommand creates and configures the report command.
func NewReportCommand() *cobra.Command {
	rc := &ReportCommand{}

	cobraCmd := &cobra.Command{
		Use:   "report",
		Short: "Print metric tables to the console",
		Long: `Prints metric tables computed from the store.

Available reports:
  verbs     Change verbs per month
  bumps     Version bump granularities per month
  distros   Changes per distro per month
  deps      Dependency changes per month
  repos     Repository status breakdown
  sizes     Store table sizes`,
		RunE: rc.run,
	}

	cobraCmd.Flags().StringVarP(&rc.which, "report", "r", "sizes", "Report to print (verbs, bumps, distros, deps, repos, sizes)")

	return cobraCmd
}

func (rc *ReportCommand) run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()

	switch rc.which {
	case "verbs":
		buckets, verbsErr := rosdistro.VerbsByMonth(db)
		if verbsErr != nil {
			return verbsErr
		}

		report.WriteMonthlyCounts(out, "Change verbs per month", buckets)
	case "bumps":
		buckets, bumpsErr := rosdistro.VersionBumpsByMonth(db)
		if bumpsErr != nil {
			return bumpsErr
		}

		report.WriteMonthlyCounts(out, "Version bumps per month", buckets)
	case "distros":
		distros, distroErr := loadDistros(cfg)
		if distroErr != nil {
			return distroErr
		}

		buckets, actionErr := rosdistro.DistroActionByMonth(db, distros)
		if actionErr != nil {
			return actionErr
		}

		report.WriteMonthlyCounts(out, "Changes per distro per month", buckets)
	case "deps":
		buckets, depsErr := rosdistro.DepChangesByMonth(db)
		if depsErr != nil {
			return depsErr
		}

		report.WriteMonthlyCounts(out, "Dependency changes per month", buckets)
	case "repos":
		return report.WriteRepoStatuses(out, db)
	case "sizes":
		sizes, sizesErr := db.TableSizes()
		if sizesErr != nil {
			return sizesErr
		}

		report.WriteTableSizes(out, sizes)
	default:
		return fmt.Errorf("unknown report %q", rc.which)
	}

	return nil
}
