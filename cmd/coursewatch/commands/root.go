package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"coursewatch/lib/configutil"
	configlibsql "coursewatch/lib/configutil/libsql"
	"coursewatch/lib/notify"
	"coursewatch/lib/restyutil"
	"coursewatch/lib/scrapers/moodle/core"
	"coursewatch/lib/scrapers/moodle/view"
	"coursewatch/lib/scrapers/moodle/watch"
	"coursewatch/lib/telemetry"
)

const defaultBaseUrl = "https://courses.gdut.edu.cn"

var rootCmd = &cobra.Command{
	Use:   "coursewatch",
	Short: "coursewatch lists and watches streaming resources on the campus moodle.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*flagVerbose)
		err := telemetry.SetupFromEnv(cmd.Context(), "coursewatch")
		if err != nil {
			slog.Warn("failed to set up telemetry export", "err", err)
		}
		telemetry.InstrumentPerfStats(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		err := telemetry.Shutdown(ctx)
		if err != nil {
			slog.Warn("failed to flush telemetry", "err", err)
		}
	},
}

var (
	flagConfig      *string
	flagBaseUrl     *string
	flagCookie      *string
	flagCookieValue *string
	flagVerbose     *bool
)

func init() {
	flagConfig = rootCmd.PersistentFlags().String("config", "config.json5", "Path to the config file.")
	flagBaseUrl = rootCmd.PersistentFlags().String("base-url", "", "Base url of the moodle instance.")
	flagCookie = rootCmd.PersistentFlags().String("cookie", "", "Full Cookie header, e.g. 'MoodleSession=xxxx'.")
	flagCookieValue = rootCmd.PersistentFlags().String("cookie-value", "", "Bare value of the MoodleSession cookie.")
	flagVerbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// fatal logs one structured error line and exits non-zero.
func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}

// WatchConfig carries the pacing defaults for watch and batch runs.
// Zero values fall back to the platform-tested pacing in watchSettings.
type WatchConfig struct {
	DurationSeconds int64 `json:"duration_seconds"`
	IntervalSeconds int64 `json:"interval_seconds"`
	GapSeconds      int64 `json:"gap_seconds"`
	MaxCount        int   `json:"max_count"`
	TargetSeconds   int64 `json:"target_seconds"`
}

// Config is the json5 file read from --config. Session material can come
// from flags or the MOODLE_SESSION environment variable instead, so the
// file itself is optional.
type Config struct {
	BaseUrl     string `json:"base_url"`
	Cookie      string `json:"cookie"`
	CookieValue string `json:"cookie_value"`
	// inline progress request template with {placeholder} tokens
	Template string `json:"template"`
	// path to a template file, consulted when Template is empty
	TemplateFile string `json:"template_file"`
	// directory for the course listing cache; listings are fetched
	// live on every call when empty
	CacheDir string `json:"cache_dir"`
	// directory to dump raw HTTP exchanges to, for debugging the
	// parsers when the platform's markup changes
	DumpHttpDir string              `json:"dump_http_dir"`
	Watch       WatchConfig         `json:"watch"`
	Database    configlibsql.Struct `json:"database"`
	Smtp        notify.SmtpConfig   `json:"smtp"`
}

func loadConfig() Config {
	cfg, err := configutil.ReadConfig[Config](*flagConfig)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		fatal("failed to read config", err)
	}

	if *flagBaseUrl != "" {
		cfg.BaseUrl = *flagBaseUrl
	}
	if *flagCookie != "" {
		cfg.Cookie = *flagCookie
	}
	if *flagCookieValue != "" {
		cfg.CookieValue = *flagCookieValue
	}
	if cfg.BaseUrl == "" {
		cfg.BaseUrl = defaultBaseUrl
	}
	if cfg.Cookie == "" && cfg.CookieValue == "" {
		cfg.CookieValue = os.Getenv("MOODLE_SESSION")
	}
	return cfg
}

func (c Config) watchSettings() WatchConfig {
	w := c.Watch
	if w.DurationSeconds <= 0 {
		w.DurationSeconds = 300
	}
	if w.IntervalSeconds <= 0 {
		w.IntervalSeconds = 60
	}
	if w.GapSeconds <= 0 {
		w.GapSeconds = 5
	}
	return w
}

func newCoreClient(cfg Config) *core.Client {
	if cfg.Cookie == "" && cfg.CookieValue == "" {
		fatal("no session cookie", errors.New("set --cookie, --cookie-value or the MOODLE_SESSION environment variable"))
	}
	client, err := core.NewClient(cfg.BaseUrl, core.ClientOptions{
		CookieHeader:  cfg.Cookie,
		SessionCookie: cfg.CookieValue,
	})
	if err != nil {
		fatal("failed to initialize moodle client", err)
	}

	if cfg.DumpHttpDir != "" {
		output, err := restyutil.NewFilesystemOutput(cfg.DumpHttpDir)
		if err != nil {
			slog.Warn("failed to prepare http dump directory", "dir", cfg.DumpHttpDir, "err", err)
		} else {
			restyutil.DumpExchanges(client.Http, output)
		}
	}
	return client
}

// newViewClient wires the listing client, with a disk cache when the
// config names one. A broken cache only degrades to live fetches.
func newViewClient(cfg Config, coreClient *core.Client) (view.Client, func()) {
	var cache *badger.DB
	if cfg.CacheDir != "" {
		db, err := badger.Open(badger.DefaultOptions(cfg.CacheDir).WithLogger(nil))
		if err != nil {
			slog.Warn("failed to open listing cache", "dir", cfg.CacheDir, "err", err)
		} else {
			cache = db
		}
	}
	client := view.NewClient(coreClient, view.ClientOptions{
		ClientId: "coursewatch",
		Cache:    cache,
	})
	return client, func() {
		if cache != nil {
			cache.Close()
		}
	}
}

func courseHref(courseId int64) string {
	return fmt.Sprintf("/course/view.php?id=%d", courseId)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

// templateFlags are the per-command template sources, highest priority
// first: inline flag, file flag, inline config key, config file key.
type templateFlags struct {
	inline *string
	file   *string
}

func registerTemplateFlags(cmd *cobra.Command) templateFlags {
	return templateFlags{
		inline: cmd.Flags().String("template", "", "Inline JSON request template with {placeholder} tokens."),
		file:   cmd.Flags().String("template-file", "", "Path to a JSON request template file."),
	}
}

func (f templateFlags) load(cfg Config) (watch.Template, error) {
	text := *f.inline
	if text == "" && *f.file != "" {
		raw, err := os.ReadFile(*f.file)
		if err != nil {
			return watch.Template{}, fmt.Errorf("read template file: %w", err)
		}
		text = string(raw)
	}
	if text == "" {
		text = cfg.Template
	}
	if text == "" && cfg.TemplateFile != "" {
		raw, err := os.ReadFile(cfg.TemplateFile)
		if err != nil {
			return watch.Template{}, fmt.Errorf("read template file: %w", err)
		}
		text = string(raw)
	}
	if text == "" {
		return watch.Template{}, errors.New("no request template configured: set --template, --template-file or the template keys in the config")
	}
	return watch.ParseTemplate(text)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
