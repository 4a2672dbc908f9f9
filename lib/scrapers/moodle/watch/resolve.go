package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrResolutionFailed means a required identity field is still missing
// after every strategy ran. The resource is skipped, never retried.
var ErrResolutionFailed = errors.New("could not resolve resource identity")

// ResourceContext identifies one video resource for the length of a run.
// Built once by Resolve and immutable afterwards.
type ResourceContext struct {
	CourseId          int64
	ContextInstanceId int64
	// the course module id from the page url
	VideoId int64
	// the platform-internal instance id progress reports are keyed by
	ResourceId int64
	SessionKey string
}

// Resolved reports whether both fields a progress report requires are set.
func (rc ResourceContext) Resolved() bool {
	return rc.ResourceId != 0 && rc.SessionKey != ""
}

// Overrides are operator-supplied values that outrank anything found on
// the page or looked up remotely.
type Overrides struct {
	ResourceId    int64
	SessionKey    string
	TargetSeconds int64
}

// ModuleInfoFunc resolves a course module id to its module-local instance
// id. Wired to the course module web service in production; injected so
// resolution stays testable offline.
type ModuleInfoFunc func(ctx context.Context, cmid int64) (int64, error)

type ResolveInput struct {
	VideoId    int64
	Page       PageData
	Overrides  Overrides
	ModuleInfo ModuleInfoFunc
}

// strategies run in order; each one only fills fields that are still
// empty, so the first producer of a field wins it.
type strategy struct {
	name  string
	apply func(ctx context.Context, in ResolveInput, rc *ResourceContext)
}

var strategies = []strategy{
	{"overrides", applyOverrideValues},
	{"playerdata", applyPlayerdata},
	{"pageconfig", applyPageConfig},
	{"moduleinfo", applyModuleInfo},
}

// Resolve assembles the identity a progress report needs from manual
// overrides, the page's embedded player object, the page-global config
// and finally a module-info lookup. Missing resourceId or sessionKey
// after all strategies is ErrResolutionFailed.
func Resolve(ctx context.Context, in ResolveInput) (ResourceContext, error) {
	ctx, span := tracer.Start(ctx, "Resolve")
	defer span.End()

	rc := ResourceContext{VideoId: in.VideoId}
	if in.Page.HasConfig {
		rc.CourseId = in.Page.Config.CourseId
		rc.ContextInstanceId = in.Page.Config.ContextInstanceId
	}

	for _, s := range strategies {
		if rc.Resolved() {
			break
		}
		s.apply(ctx, in, &rc)
		span.AddEvent("strategy applied", trace.WithAttributes(
			attribute.String("strategy", s.name),
			attribute.Bool("resource_id", rc.ResourceId != 0),
			attribute.Bool("session_key", rc.SessionKey != ""),
		))
	}

	if !rc.Resolved() {
		err := fmt.Errorf("%w: video %d missing %s",
			ErrResolutionFailed, in.VideoId, missingFields(rc))
		span.RecordError(err)
		span.SetStatus(codes.Error, "identity incomplete")
		return ResourceContext{}, err
	}
	return rc, nil
}

func missingFields(rc ResourceContext) string {
	switch {
	case rc.ResourceId == 0 && rc.SessionKey == "":
		return "resourceId and sessionKey"
	case rc.ResourceId == 0:
		return "resourceId"
	default:
		return "sessionKey"
	}
}

func applyOverrideValues(ctx context.Context, in ResolveInput, rc *ResourceContext) {
	if in.Overrides.ResourceId != 0 {
		rc.ResourceId = in.Overrides.ResourceId
	}
	if in.Overrides.SessionKey != "" {
		rc.SessionKey = in.Overrides.SessionKey
	}
}

func applyPlayerdata(ctx context.Context, in ResolveInput, rc *ResourceContext) {
	if rc.ResourceId == 0 && in.Page.ResourceId != 0 {
		rc.ResourceId = in.Page.ResourceId
	}
	if rc.SessionKey == "" && in.Page.SessionKey != "" {
		rc.SessionKey = in.Page.SessionKey
	}
}

// applyPageConfig contributes the session key only; M.cfg never carries
// the resource instance id.
func applyPageConfig(ctx context.Context, in ResolveInput, rc *ResourceContext) {
	if rc.SessionKey == "" && in.Page.HasConfig {
		rc.SessionKey = in.Page.Config.Sesskey
	}
}

// applyModuleInfo is the expensive strategy: a web service round trip
// keyed by the module id from M.cfg, falling back to the page's own
// module id. Lookup failures leave the field empty instead of aborting;
// Resolve reports the aggregate outcome.
func applyModuleInfo(ctx context.Context, in ResolveInput, rc *ResourceContext) {
	if rc.ResourceId != 0 || in.ModuleInfo == nil {
		return
	}
	cmid := in.VideoId
	if in.Page.HasConfig && in.Page.Config.ContextInstanceId != 0 {
		cmid = in.Page.Config.ContextInstanceId
	}
	if cmid == 0 {
		return
	}
	instance, err := in.ModuleInfo(ctx, cmid)
	if err != nil {
		slog.Warn("module info lookup failed",
			"cmid", cmid, "err", err)
		return
	}
	rc.ResourceId = instance
}
