package commands

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/rosmetrics/internal/gitlib"
	"github.com/Sumatoshi-tech/rosmetrics/internal/report"
	"github.com/Sumatoshi-tech/rosmetrics/internal/rosdistro"
)

// UpdateCommand holds the configuration for the update command.
type UpdateCommand struct {
	noFetch bool
	noTags  bool
}

// NewUpdateCommand creates and configures the update command.
func NewUpdateCommand() *cobra.Command {
	uc := &UpdateCommand{}

	cobraCmd := &cobra.Command{
		Use:   "update",
		Short: "Walk the manifest history and update the metrics store",
		Long: `Walks the distribution manifest repository's commit history in
chronological order, classifies each commit's changes, and records
repo-count and tag checkpoints at sampled commits.

The walk resumes from what the store already holds; interrupting it with
Ctrl-C leaves the store consistent and resumable.`,
		RunE: uc.run,
	}

	cobraCmd.Flags().BoolVar(&uc.noFetch, "no-fetch", false, "Skip fetching the manifest repository first")
	cobraCmd.Flags().BoolVar(&uc.noTags, "no-tags", false, "Skip tag checkpoints for this walk")

	return cobraCmd
}

func (uc *UpdateCommand) run(cmd *cobra.Command, _ []string) error {
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

	manifest, err := gitlib.CloneOrOpen(cfg.Manifest.URL, manifestPath(cfg))
	if err != nil {
		return err
	}
	defer manifest.Free()

	if !uc.noFetch {
		fetchErr := manifest.Fetch()
		if fetchErr != nil {
			logger.Warn("manifest fetch failed, walking local history", "error", fetchErr)
		}
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var tags *rosdistro.TagChecker

	if cfg.Walk.Tags && !uc.noTags {
		tracks := newTracksResolver(cfg, logger)
		defer func() {
			saveErr := tracks.Save()
			if saveErr != nil {
				logger.Warn("tracks cache not saved", "error", saveErr)
			}
		}()

		tags = rosdistro.NewTagChecker(db, tracks, logger)
	}

	walker := rosdistro.NewWalker(db, rosdistro.NewGitHistory(manifest), distros, tags, rosdistro.Options{
		SampleStride: cfg.Walk.SampleStride,
		TagStride:    cfg.Walk.TagStride,
		DenseStart:   cfg.Walk.DenseStart,
		DenseEnd:     cfg.Walk.DenseEnd,
		ShowProgress: cfg.Progress,
	}, logger)

	started := time.Now()

	summary, walkErr := walker.Walk(ctx)
	if walkErr != nil && !errors.Is(walkErr, context.Canceled) {
		return walkErr
	}

	if errors.Is(walkErr, context.Canceled) {
		logger.Info("walk interrupted, store is resumable")
	}

	report.WriteWalkSummary(cmd.OutOrStdout(), summary, time.Since(started))

	sizes, sizesErr := db.TableSizes()
	if sizesErr != nil {
		return sizesErr
	}

	report.WriteTableSizes(cmd.OutOrStdout(), sizes)

	return nil
}
