package watch

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// BatchItem is one resource queued for a batch run.
type BatchItem struct {
	VideoId int64
	Name    string
}

// BatchResult pairs a queued resource with its terminal outcome. Err
// carries the cause for failure signals and is nil otherwise.
type BatchResult struct {
	Item     BatchItem
	Result   Result
	Err      error
	Started  time.Time
	Finished time.Time
}

// WatchBatch drives resources strictly sequentially: the platform warns
// about simultaneous viewing sessions, so there is no per-resource
// concurrency whatsoever. A resource that fails resolution or transport
// is recorded and the batch moves on; only cancellation stops the batch
// early. MaxCount caps how many resources are attempted at all, and Gap
// sleeps between consecutive resources, not after the last.
func (r Runner) WatchBatch(ctx context.Context, items []BatchItem, opts RunOptions) []BatchResult {
	ctx, span := tracer.Start(ctx, "WatchBatch")
	defer span.End()

	limit := len(items)
	if opts.MaxCount > 0 && opts.MaxCount < limit {
		limit = opts.MaxCount
	}
	span.SetAttributes(
		attribute.Int("queued", len(items)),
		attribute.Int("attempting", limit),
	)

	var results []BatchResult
	for i := 0; i < limit; i++ {
		if ctx.Err() != nil {
			break
		}

		item := items[i]
		slog.Info("batch item starting",
			"index", i+1, "of", limit,
			"video", item.VideoId, "name", item.Name)

		started := r.Clock.Now()
		res, err := r.WatchVideo(ctx, item.VideoId, opts)
		results = append(results, BatchResult{
			Item:     item,
			Result:   res,
			Err:      err,
			Started:  started,
			Finished: r.Clock.Now(),
		})
		slog.Info("batch item finished",
			"video", item.VideoId, "signal", res.Signal.String(),
			"watched", res.WatchedSeconds, "ticks", res.Ticks)

		if res.Signal == SignalCancelled {
			break
		}
		if i == limit-1 {
			break
		}
		if err := sleepContext(ctx, opts.Gap); err != nil {
			break
		}
	}
	return results
}
