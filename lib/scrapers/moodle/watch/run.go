package watch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"coursewatch/lib/chrono"
	"coursewatch/lib/scrapers/moodle/ajax"
	"coursewatch/lib/scrapers/moodle/core"

	"go.opentelemetry.io/otel/codes"
)

// Runner ties the pieces together for whole resources: fetch the page,
// resolve identity, then drive the simulator against the live service.
type Runner struct {
	Core  *core.Client
	Ajax  ajax.Client
	Clock chrono.TimeAPI
}

func NewRunner(coreClient *core.Client) Runner {
	return Runner{
		Core:  coreClient,
		Ajax:  ajax.NewClient(coreClient),
		Clock: chrono.NewStandardTime(),
	}
}

// RunOptions is the shared configuration for single and batch runs.
type RunOptions struct {
	Template Template

	// wall-clock budget per resource
	Duration time.Duration
	// tick spacing
	Interval time.Duration
	// pause between resources in a batch
	Gap time.Duration
	// cap on attempted resources in a batch, 0 means no cap
	MaxCount int
	// manual values that outrank page extraction
	Overrides Overrides
}

func resourcePath(videoId int64) string {
	return fmt.Sprintf("/mod/fsresource/view.php?id=%d", videoId)
}

// WatchVideo runs the full pipeline for one resource. The returned
// Result always carries a meaningful Signal, including for failures that
// never reached the tick loop.
func (r Runner) WatchVideo(ctx context.Context, videoId int64, opts RunOptions) (Result, error) {
	ctx, span := tracer.Start(ctx, "WatchVideo")
	defer span.End()

	html, err := r.Core.GetPage(ctx, resourcePath(videoId))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch resource page")
		return Result{Signal: SignalTransportError}, err
	}

	page := ExtractPageData(html)
	slog.Info("resource page read",
		"video", videoId, "name", page.Name,
		"resource_id", page.ResourceId, "duration", page.Duration,
		"has_config", page.HasConfig)

	// a key found on the resource page serves the module-info lookup
	// without an extra dashboard fetch
	if page.Config.Sesskey != "" {
		r.Core.SetSesskey(page.Config.Sesskey)
	} else if page.SessionKey != "" {
		r.Core.SetSesskey(page.SessionKey)
	}

	rctx, err := Resolve(ctx, ResolveInput{
		VideoId:    videoId,
		Page:       page,
		Overrides:  opts.Overrides,
		ModuleInfo: r.moduleInfo,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolution failed")
		return Result{Signal: SignalResolutionFailed}, err
	}

	// the resolved key is authoritative from here on, so replayed
	// reports and their sesskey query param agree
	r.Core.SetSesskey(rctx.SessionKey)

	sim := NewSimulator(r.Ajax.PostRaw, r.Clock)
	return sim.Run(ctx, Options{
		Template:              opts.Template,
		Context:               rctx,
		TargetSeconds:         resolveTarget(opts.Overrides.TargetSeconds, page.Duration, opts.Duration),
		Duration:              opts.Duration,
		Interval:              opts.Interval,
		SessionTimeoutSeconds: page.Config.SessionTimeout,
	})
}

func (r Runner) moduleInfo(ctx context.Context, cmid int64) (int64, error) {
	info, err := r.Ajax.CourseModule(ctx, cmid)
	if err != nil {
		return 0, err
	}
	return info.Instance, nil
}

// ProbeReport carries one diagnostic exchange against the service
// endpoint: the rendered request, the raw reply and its interpreted view.
type ProbeReport struct {
	Request []byte
	Raw     []byte
	Reply   Reply
}

// Probe sends the template exactly once with a token watched time and no
// field overrides, so an operator can inspect what the endpoint answers
// before committing to a full run.
func (r Runner) Probe(ctx context.Context, videoId int64, opts RunOptions) (ProbeReport, error) {
	ctx, span := tracer.Start(ctx, "Probe")
	defer span.End()

	html, err := r.Core.GetPage(ctx, resourcePath(videoId))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch resource page")
		return ProbeReport{}, err
	}

	page := ExtractPageData(html)
	if page.Config.Sesskey != "" {
		r.Core.SetSesskey(page.Config.Sesskey)
	} else if page.SessionKey != "" {
		r.Core.SetSesskey(page.SessionKey)
	}

	rctx, err := Resolve(ctx, ResolveInput{
		VideoId:    videoId,
		Page:       page,
		Overrides:  opts.Overrides,
		ModuleInfo: r.moduleInfo,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolution failed")
		return ProbeReport{}, err
	}
	r.Core.SetSesskey(rctx.SessionKey)

	body, err := opts.Template.RenderProbe(rctx, r.Clock.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to render probe body")
		return ProbeReport{}, err
	}

	raw, err := r.Ajax.PostRaw(ctx, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "probe request failed")
		return ProbeReport{Request: body}, err
	}

	report := ProbeReport{Request: body, Raw: raw}
	report.Reply, _ = InterpretReply(raw)
	return report, nil
}
