package commands

import (
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"coursewatch/lib/scrapers/moodle/watch"
)

var (
	probeVideo      *int64
	probeResourceId *int64
	probeSesskey    *string
	probeTemplate   templateFlags
)

func init() {
	probeVideo = probeCmd.Flags().Int64("video", 0, "Video module id, e.g. 159716.")
	probeResourceId = probeCmd.Flags().Int64("fsresourceid", 0, "Resource id, for when the page cannot be parsed.")
	probeSesskey = probeCmd.Flags().String("sesskey", "", "Session key, for when the page cannot be parsed.")
	probeTemplate = registerTemplateFlags(probeCmd)
	rootCmd.AddCommand(probeCmd)
}

var probeCmd = &cobra.Command{
	Use:   "probe --video <id>",
	Short: "Sends the template once and shows what the service answers.",
	Run: func(cmd *cobra.Command, args []string) {
		if *probeVideo == 0 {
			fatal("missing required flag", errors.New("set --video"))
		}
		cfg := loadConfig()
		tpl, err := probeTemplate.load(cfg)
		if err != nil {
			fatal("invalid template configuration", err)
		}

		runner := watch.NewRunner(newCoreClient(cfg))
		report, err := runner.Probe(cmd.Context(), *probeVideo, watch.RunOptions{
			Template: tpl,
			Overrides: watch.Overrides{
				ResourceId: *probeResourceId,
				SessionKey: *probeSesskey,
			},
		})
		if len(report.Request) > 0 {
			fmt.Printf("request: %s\n", report.Request)
		}
		if err != nil {
			fatal("probe failed", err)
		}
		fmt.Printf("reply: %s\n", report.Raw)

		t := newTable()
		t.AppendHeader(table.Row{"field", "value"})
		t.AppendRow(table.Row{"status", report.Reply.Status})
		t.AppendRow(table.Row{"progress", report.Reply.Progress})
		t.AppendRow(table.Row{"total time", report.Reply.TotalTime})
		t.AppendRow(table.Row{"completion", report.Reply.Completion})
		t.AppendRow(table.Row{"completed", report.Reply.Completed})
		t.AppendRow(table.Row{"service error", report.Reply.ServiceError})
		t.Render()
	},
}
