package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/antzucaro/matchr"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"coursewatch/lib/notify"
	"coursewatch/lib/scrapers/moodle/view"
	"coursewatch/lib/scrapers/moodle/watch"
	"coursewatch/lib/textutil"
	"coursewatch/lib/watchstore"
)

// batchParams are the flags shared by the batch command and the
// scheduler that re-runs it.
type batchParams struct {
	course     *int64
	courseName *string
	limit      *int
	gap        *int64
	duration   *int64
	interval   *int64
	target     *int64
	notify     *string
	template   templateFlags
}

func registerBatchFlags(cmd *cobra.Command) *batchParams {
	p := &batchParams{}
	p.course = cmd.Flags().Int64("course", 0, "Course id to watch, e.g. 2545.")
	p.courseName = cmd.Flags().String("course-name", "", "Course name to watch, fuzzy matched against enrollments.")
	p.limit = cmd.Flags().Int("limit", 0, "Max number of videos to attempt, 0 attempts every incomplete one.")
	p.gap = cmd.Flags().Int64("gap", 0, "Seconds to pause between videos.")
	p.duration = cmd.Flags().Int64("duration", 0, "Watch budget per video in seconds.")
	p.interval = cmd.Flags().Int64("interval", 0, "Seconds between progress reports.")
	p.target = cmd.Flags().Int64("target", 0, "Video length in seconds, for when pages do not carry one.")
	p.notify = cmd.Flags().String("notify", "", "Email address to send the batch report to.")
	p.template = registerTemplateFlags(cmd)
	return p
}

var batchFlags *batchParams

func init() {
	batchFlags = registerBatchFlags(batchCmd)
	rootCmd.AddCommand(batchCmd)
}

var batchCmd = &cobra.Command{
	Use:   "batch [--course <id> | --course-name <name>]",
	Short: "Watches every incomplete video of a course back to back.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if err := runBatch(cmd.Context(), cfg, batchFlags); err != nil {
			fatal("batch failed", err)
		}
	},
}

// findCourse resolves the --course/--course-name pair to a dashboard
// course. An explicit id skips the dashboard fetch entirely.
func findCourse(ctx context.Context, client view.Client, p *batchParams) (view.Course, error) {
	if *p.course != 0 {
		return view.Course{
			Id:   *p.course,
			Name: fmt.Sprintf("course %d", *p.course),
			Href: courseHref(*p.course),
		}, nil
	}
	if *p.courseName == "" {
		return view.Course{}, errors.New("set --course or --course-name")
	}

	courses, err := client.Courses(ctx)
	if err != nil {
		return view.Course{}, err
	}

	query := textutil.NormalizeName(*p.courseName)
	var mostSimilarity float64
	var mostSimilar view.Course
	for _, course := range courses {
		similarity := matchr.JaroWinkler(query, textutil.NormalizeName(course.Name), false)
		if similarity > mostSimilarity {
			mostSimilarity = similarity
			mostSimilar = course
		}
	}
	if mostSimilarity == 0 {
		return view.Course{}, fmt.Errorf("no enrollment matches %q", *p.courseName)
	}

	slog.Info("matched course",
		"query", *p.courseName,
		"course", mostSimilar.Name,
		"id", mostSimilar.Id,
		"similarity", mostSimilarity)
	return mostSimilar, nil
}

func runBatch(ctx context.Context, cfg Config, p *batchParams) error {
	tpl, err := p.template.load(cfg)
	if err != nil {
		return err
	}

	client := newCoreClient(cfg)
	viewClient, closeCache := newViewClient(cfg, client)
	defer closeCache()

	course, err := findCourse(ctx, viewClient, p)
	if err != nil {
		return err
	}

	videos, err := viewClient.Videos(ctx, course)
	if err != nil {
		return fmt.Errorf("list videos: %w", err)
	}

	var items []watch.BatchItem
	for _, v := range videos {
		if v.Completion == view.CompletionDone {
			continue
		}
		items = append(items, watch.BatchItem{VideoId: v.Id, Name: v.Name})
	}
	slog.Info("batch queue built",
		"course", course.Name,
		"videos", len(videos),
		"incomplete", len(items))
	if len(items) == 0 {
		return nil
	}

	w := cfg.watchSettings()
	if *p.duration > 0 {
		w.DurationSeconds = *p.duration
	}
	if *p.interval > 0 {
		w.IntervalSeconds = *p.interval
	}
	if *p.gap > 0 {
		w.GapSeconds = *p.gap
	}
	maxCount := cfg.Watch.MaxCount
	if *p.limit > 0 {
		maxCount = *p.limit
	}
	target := cfg.Watch.TargetSeconds
	if *p.target > 0 {
		target = *p.target
	}

	runner := watch.NewRunner(client)
	results := runner.WatchBatch(ctx, items, watch.RunOptions{
		Template:  tpl,
		Duration:  time.Duration(w.DurationSeconds) * time.Second,
		Interval:  time.Duration(w.IntervalSeconds) * time.Second,
		Gap:       time.Duration(w.GapSeconds) * time.Second,
		MaxCount:  maxCount,
		Overrides: watch.Overrides{TargetSeconds: target},
	})

	printBatchResults(results)

	if cfg.Database.Enabled() {
		// an interrupted batch still records the items it finished
		err := recordBatch(context.WithoutCancel(ctx), cfg, course, results)
		if err != nil {
			return fmt.Errorf("record batch history: %w", err)
		}
	}

	if *p.notify != "" {
		err := emailBatchReport(context.WithoutCancel(ctx), cfg, *p.notify, course, results)
		if err != nil {
			return fmt.Errorf("send batch report: %w", err)
		}
	}
	return nil
}

func printBatchResults(results []watch.BatchResult) {
	t := newTable()
	t.AppendHeader(table.Row{"video", "name", "signal", "watched", "ticks", "error"})
	for _, r := range results {
		t.AppendRow(table.Row{
			r.Item.VideoId,
			r.Item.Name,
			r.Result.Signal.String(),
			fmt.Sprintf("%ds", r.Result.WatchedSeconds),
			r.Result.Ticks,
			errText(r.Err),
		})
	}
	t.Render()
}

func recordBatch(ctx context.Context, cfg Config, course view.Course, results []watch.BatchResult) error {
	store, err := watchstore.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	runs := make([]watchstore.Run, 0, len(results))
	for _, r := range results {
		runs = append(runs, watchstore.Run{
			StartedAt:      r.Started,
			FinishedAt:     r.Finished,
			CourseId:       course.Id,
			VideoId:        r.Item.VideoId,
			VideoName:      r.Item.Name,
			Signal:         r.Result.Signal.String(),
			WatchedSeconds: r.Result.WatchedSeconds,
			Ticks:          int64(r.Result.Ticks),
			Detail:         errText(r.Err),
		})
	}
	return store.RecordBatch(ctx, runs)
}

func emailBatchReport(ctx context.Context, cfg Config, to string, course view.Course, results []watch.BatchResult) error {
	if !cfg.Smtp.Enabled() {
		return errors.New("smtp is not configured")
	}

	lines := make([]notify.BatchLine, 0, len(results))
	for _, r := range results {
		lines = append(lines, notify.BatchLine{
			VideoId:        r.Item.VideoId,
			Name:           r.Item.Name,
			Signal:         r.Result.Signal.String(),
			Success:        r.Err == nil && r.Result.Signal.Success(),
			WatchedSeconds: r.Result.WatchedSeconds,
			Detail:         errText(r.Err),
		})
	}

	mailer := notify.NewMailer(cfg.Smtp)
	return mailer.SendBatchReport(ctx, to, notify.BatchReport{
		Course: course.Name,
		Lines:  lines,
	})
}
