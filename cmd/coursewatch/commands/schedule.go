package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"coursewatch/lib/chrono"
)

var (
	scheduleSpec  *string
	scheduleFlags *batchParams
)

func init() {
	scheduleSpec = scheduleCmd.Flags().String("cron", "0 3 * * *", "Cron spec for when batches fire, evaluated in campus time.")
	scheduleFlags = registerBatchFlags(scheduleCmd)
	rootCmd.AddCommand(scheduleCmd)
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule --cron <spec> [--course <id> | --course-name <name>]",
	Short: "Runs the batch command on a cron schedule until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := loadConfig()

		// surface config problems now instead of at the first trigger
		newCoreClient(cfg)
		if _, err := scheduleFlags.template.load(cfg); err != nil {
			fatal("invalid template configuration", err)
		}

		cronner := chrono.NewStandardCron()
		err := cronner.Cron(*scheduleSpec, func() {
			slog.Info("scheduled batch starting")
			if err := runBatch(ctx, cfg, scheduleFlags); err != nil {
				slog.Error("scheduled batch failed", "err", err)
				return
			}
			slog.Info("scheduled batch finished")
		})
		if err != nil {
			fatal("invalid cron spec", err)
		}

		slog.Info("scheduler running", "cron", *scheduleSpec)
		<-ctx.Done()
		slog.Info("shutting down, waiting for any running batch")
		cronner.Stop()
	},
}
