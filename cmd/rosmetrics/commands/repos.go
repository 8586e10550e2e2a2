package commands

import (
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/rosmetrics/internal/report"
	"github.com/Sumatoshi-tech/rosmetrics/internal/repos"
)

// ReposCommand holds the configuration for the repos command.
type ReposCommand struct {
	skipClone  bool
	skipUpdate bool
}

// NewReposCommand creates and configures the repos command.
func NewReposCommand() *cobra.Command {
	rc := &ReposCommand{}

	cobraCmd := &cobra.Command{
		Use:   "repos",
		Short: "Maintain the repository table and working copies",
		Long: `Extracts repository URLs from the current distribution manifests,
clones missing working copies, and sweeps clone failures, duplicates and
non-ROS repositories into status flags.`,
		RunE: rc.run,
	}

	cobraCmd.Flags().BoolVar(&rc.skipClone, "skip-clone", false, "Only refresh the repo list, do not clone")
	cobraCmd.Flags().BoolVar(&rc.skipUpdate, "skip-update", false, "Do not fetch already cloned repos")

	return cobraCmd
}

func (rc *ReposCommand) run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	distros, err := loadDistros(cfg)
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	tracks := newTracksResolver(cfg, logger)
	defer func() {
		saveErr := tracks.Save()
		if saveErr != nil {
			logger.Warn("tracks cache not saved", "error", saveErr)
		}
	}()

	lister := repos.NewLister(manifestPath(cfg), distros, tracks, logger)

	urls, err := lister.RawURLs(ctx)
	if err != nil {
		return err
	}

	err = repos.UpdateRepoList(db, urls)
	if err != nil {
		return err
	}

	if !rc.skipClone {
		resolver := newResolver(cfg)
		cloner := repos.NewCloner(db, filepath.Join(cfg.CacheDir, reposCacheName), resolver, cfg.Progress, logger)

		cloneErr := cloner.CloneAll(ctx)
		if cloneErr != nil {
			return cloneErr
		}

		if !rc.skipUpdate {
			updateErr := cloner.UpdateAll(ctx)
			if updateErr != nil {
				return updateErr
			}
		}

		dupeErr := cloner.MarkDuplicates()
		if dupeErr != nil {
			return dupeErr
		}

		notROSErr := cloner.MarkNotROS()
		if notROSErr != nil {
			return notROSErr
		}

		remapErr := repos.NewRemapper(db, resolver, logger).MarkRemapped(ctx)
		if remapErr != nil {
			return remapErr
		}
	}

	return report.WriteRepoStatuses(cmd.OutOrStdout(), db)
}
