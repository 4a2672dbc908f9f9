package commands

import (
	"errors"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"coursewatch/lib/scrapers/moodle/view"
)

var (
	videosCourse     *int64
	videosIncomplete *bool
)

func init() {
	videosCourse = videosCmd.Flags().Int64("course", 0, "Course id, e.g. 2545.")
	videosIncomplete = videosCmd.Flags().Bool("incomplete", false, "Only show videos not yet marked complete.")
	rootCmd.AddCommand(videosCmd)
}

var videosCmd = &cobra.Command{
	Use:   "videos --course <id>",
	Short: "Lists the video activities of a course with their completion state.",
	Run: func(cmd *cobra.Command, args []string) {
		if *videosCourse == 0 {
			fatal("missing required flag", errors.New("set --course"))
		}
		cfg := loadConfig()
		client := newCoreClient(cfg)
		viewClient, closeCache := newViewClient(cfg, client)
		defer closeCache()

		videos, err := viewClient.Videos(cmd.Context(), view.Course{
			Id:   *videosCourse,
			Href: courseHref(*videosCourse),
		})
		if err != nil {
			fatal("failed to list videos", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"id", "name", "completion"})
		for _, v := range videos {
			if *videosIncomplete && v.Completion == view.CompletionDone {
				continue
			}
			t.AppendRow(table.Row{v.Id, v.Name, v.Completion.String()})
		}
		t.Render()
	},
}
