package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/rosmetrics/internal/report"
	"github.com/Sumatoshi-tech/rosmetrics/internal/rosdistro"
)

// activeCommitterWindow is how long since their last commit a committer
// still counts as active.
const activeCommitterWindow = 180 * 24 * time.Hour

// ChartCommand holds the configuration for the chart command.
type ChartCommand struct {
	output string
}

// NewChartCommand creates and configures the chart command.
func NewChartCommand() *cobra.Command {
	cc := &ChartCommand{}

	cobraCmd := &cobra.Command{
		Use:   "chart",
		Short: "Render metric charts to an HTML page",
		RunE:  cc.run,
	}

	cobraCmd.Flags().StringVarP(&cc.output, "output", "o", "rosmetrics.html", "Output HTML file")

	return cobraCmd
}

func (cc *ChartCommand) run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	repoSeries, err := rosdistro.RepoCountSeries(db, rosdistro.OneWeek)
	if err != nil {
		return err
	}

	verbs, err := rosdistro.VerbsByMonth(db)
	if err != nil {
		return err
	}

	bumps, err := rosdistro.VersionBumpsByMonth(db)
	if err != nil {
		return err
	}

	total, active, err := rosdistro.CommitterSeries(db, activeCommitterWindow, rosdistro.OneWeek)
	if err != nil {
		return err
	}

	ratio, err := rosdistro.ClassificationRatio(db, rosdistro.OneWeek)
	if err != nil {
		return err
	}

	committers := map[string][]rosdistro.TimePoint{
		"total":  total,
		"active": active,
	}

	return report.RenderPage(cc.output,
		report.RepoCountChart(repoSeries),
		report.MonthlyBarChart("Change verbs per month", verbs),
		report.MonthlyBarChart("Version bumps per month", bumps),
		report.TimeSeriesChart("Committers", committers),
		report.TimeSeriesChart("Classified commit ratio", map[string][]rosdistro.TimePoint{"ratio": ratio}),
	)
}
