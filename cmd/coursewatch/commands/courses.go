package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(coursesCmd)
}

var coursesCmd = &cobra.Command{
	Use:   "courses",
	Short: "Lists enrolled courses from the dashboard.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		client := newCoreClient(cfg)
		viewClient, closeCache := newViewClient(cfg, client)
		defer closeCache()

		courses, err := viewClient.Courses(cmd.Context())
		if err != nil {
			fatal("failed to list courses", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"id", "name", "href"})
		for _, c := range courses {
			t.AppendRow(table.Row{c.Id, c.Name, c.Href})
		}
		t.Render()
	},
}
