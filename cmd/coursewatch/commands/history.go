package commands

import (
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"coursewatch/lib/watchstore"
)

var (
	historyCourse *int64
	historyVideo  *int64
	historyLimit  *int64
)

func init() {
	historyCourse = historyCmd.Flags().Int64("course", 0, "Only show runs for this course id.")
	historyVideo = historyCmd.Flags().Int64("video", 0, "Only show runs for this video module id.")
	historyLimit = historyCmd.Flags().Int64("limit", 20, "Max number of runs to show.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [--course <id>] [--video <id>]",
	Short: "Shows recorded watch runs, newest first.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if !cfg.Database.Enabled() {
			fatal("no history database", errors.New("set database.file or database.url in the config"))
		}
		store, err := watchstore.Open(cfg.Database)
		if err != nil {
			fatal("failed to open history database", err)
		}
		defer store.Close()

		runs, err := store.ListRuns(cmd.Context(), watchstore.Filter{
			CourseId: *historyCourse,
			VideoId:  *historyVideo,
			Limit:    *historyLimit,
		})
		if err != nil {
			fatal("failed to list runs", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"started", "course", "video", "name", "signal", "watched", "ticks", "detail"})
		for _, r := range runs {
			t.AppendRow(table.Row{
				r.StartedAt.Format("2006-01-02 15:04"),
				r.CourseId,
				r.VideoId,
				r.VideoName,
				r.Signal,
				fmt.Sprintf("%ds", r.WatchedSeconds),
				r.Ticks,
				r.Detail,
			})
		}
		t.Render()
	},
}
