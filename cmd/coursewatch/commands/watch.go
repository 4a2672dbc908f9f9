package commands

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"coursewatch/lib/scrapers/moodle/watch"
	"coursewatch/lib/timezone"
	"coursewatch/lib/watchstore"
)

var (
	watchVideo      *int64
	watchResourceId *int64
	watchSesskey    *string
	watchTarget     *int64
	watchDuration   *int64
	watchInterval   *int64
	watchTemplate   templateFlags
)

func init() {
	watchVideo = watchCmd.Flags().Int64("video", 0, "Video module id, e.g. 159716.")
	watchResourceId = watchCmd.Flags().Int64("fsresourceid", 0, "Resource id, for when the page cannot be parsed.")
	watchSesskey = watchCmd.Flags().String("sesskey", "", "Session key, for when the page cannot be parsed.")
	watchTarget = watchCmd.Flags().Int64("target", 0, "Video length in seconds, for when the page does not carry one.")
	watchDuration = watchCmd.Flags().Int64("duration", 0, "Watch budget in seconds.")
	watchInterval = watchCmd.Flags().Int64("interval", 0, "Seconds between progress reports.")
	watchTemplate = registerTemplateFlags(watchCmd)
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch --video <id>",
	Short: "Simulates watching one video until its progress completes.",
	Run: func(cmd *cobra.Command, args []string) {
		if *watchVideo == 0 {
			fatal("missing required flag", errors.New("set --video"))
		}
		cfg := loadConfig()
		tpl, err := watchTemplate.load(cfg)
		if err != nil {
			fatal("invalid template configuration", err)
		}

		w := cfg.watchSettings()
		if *watchDuration > 0 {
			w.DurationSeconds = *watchDuration
		}
		if *watchInterval > 0 {
			w.IntervalSeconds = *watchInterval
		}
		target := cfg.Watch.TargetSeconds
		if *watchTarget > 0 {
			target = *watchTarget
		}

		runner := watch.NewRunner(newCoreClient(cfg))
		started := timezone.Now()
		res, runErr := runner.WatchVideo(cmd.Context(), *watchVideo, watch.RunOptions{
			Template: tpl,
			Duration: time.Duration(w.DurationSeconds) * time.Second,
			Interval: time.Duration(w.IntervalSeconds) * time.Second,
			Overrides: watch.Overrides{
				ResourceId:    *watchResourceId,
				SessionKey:    *watchSesskey,
				TargetSeconds: target,
			},
		})

		if cfg.Database.Enabled() {
			// an interrupted run still belongs in the history
			recordWatch(context.WithoutCancel(cmd.Context()), cfg, started, res, runErr)
		}

		if runErr != nil {
			slog.Error("watch ended with failure",
				"signal", res.Signal.String(),
				"watched", res.WatchedSeconds,
				"ticks", res.Ticks,
				"err", runErr)
			os.Exit(1)
		}
		slog.Info("watch finished",
			"signal", res.Signal.String(),
			"watched", res.WatchedSeconds,
			"ticks", res.Ticks)
	},
}

// recordWatch appends a single-run history row. Failures only warn: the
// watch itself already happened and its outcome is already on screen.
func recordWatch(ctx context.Context, cfg Config, started time.Time, res watch.Result, runErr error) {
	store, err := watchstore.Open(cfg.Database)
	if err != nil {
		slog.Warn("failed to open history database", "err", err)
		return
	}
	defer store.Close()

	err = store.RecordRun(ctx, watchstore.Run{
		StartedAt:      started,
		FinishedAt:     timezone.Now(),
		VideoId:        *watchVideo,
		Signal:         res.Signal.String(),
		WatchedSeconds: res.WatchedSeconds,
		Ticks:          int64(res.Ticks),
		Detail:         errText(runErr),
	})
	if err != nil {
		slog.Warn("failed to record run", "err", err)
	}
}
