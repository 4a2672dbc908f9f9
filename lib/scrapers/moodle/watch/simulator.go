package watch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"coursewatch/lib/chrono"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/codes"
)

// Signal is the terminal outcome of one simulation run.
type Signal int

const (
	SignalUnknown Signal = iota
	SignalReachedTarget
	SignalServerReportedComplete
	SignalExhaustedDuration
	SignalResolutionFailed
	SignalTransportError
	SignalCancelled
)

func (s Signal) String() string {
	switch s {
	case SignalReachedTarget:
		return "reached_target"
	case SignalServerReportedComplete:
		return "server_reported_complete"
	case SignalExhaustedDuration:
		return "exhausted_duration"
	case SignalResolutionFailed:
		return "resolution_failed"
	case SignalTransportError:
		return "transport_error"
	case SignalCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Success reports whether the signal counts as a finished watch.
// ExhaustedDuration is a soft success: the budget ran out without the
// server confirming, which usually means the target was set too high.
func (s Signal) Success() bool {
	switch s {
	case SignalReachedTarget, SignalServerReportedComplete, SignalExhaustedDuration:
		return true
	}
	return false
}

// Result is what one simulation run reports back.
type Result struct {
	Signal Signal
	// seconds credited when the run ended
	WatchedSeconds int64
	// ticks attempted, including the terminating one
	Ticks int
}

// SendFunc posts one rendered report body and returns the raw reply.
type SendFunc func(ctx context.Context, body []byte) ([]byte, error)

// Simulator owns the timed replay loop for a single resource. Strictly
// sequential by design: the platform warns on simultaneous sessions, so
// nothing here ever runs two requests at once.
type Simulator struct {
	send  SendFunc
	clock chrono.TimeAPI
	sleep func(ctx context.Context, d time.Duration) error
}

func NewSimulator(send SendFunc, clock chrono.TimeAPI) Simulator {
	if clock == nil {
		clock = chrono.NewStandardTime()
	}
	return Simulator{send: send, clock: clock, sleep: sleepContext}
}

// Options fixes one run's shape before the first tick.
type Options struct {
	Template Template
	Context  ResourceContext

	// assumed media length in seconds; progress is watched/target
	TargetSeconds int64
	// wall-clock budget for the whole run
	Duration time.Duration
	// tick spacing; each tick also credits this much watched time
	Interval time.Duration
	// the page's declared session timeout in seconds, 0 when unknown
	SessionTimeoutSeconds int64
}

// Run replays progress reports until the server confirms completion, the
// watched time reaches the target, the wall-clock budget runs out, or a
// failure ends the run. Cancellation lands between ticks only.
func (s Simulator) Run(ctx context.Context, opts Options) (Result, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	if opts.Interval <= 0 {
		return Result{}, fmt.Errorf("interval must be positive, got %s", opts.Interval)
	}
	if opts.TargetSeconds <= 0 {
		return Result{}, fmt.Errorf("target seconds must be positive, got %d", opts.TargetSeconds)
	}
	if err := ctx.Err(); err != nil {
		return Result{Signal: SignalCancelled}, err
	}

	credit := int64(opts.Interval / time.Second)
	if credit < 1 {
		credit = 1
	}

	start := s.clock.Now()
	var watched int64
	ticks := 0

	for {
		ticks++

		now := s.clock.Now()
		body, err := opts.Template.Render(TickState{
			WatchedSeconds: watched,
			Progress:       claimedProgress(watched+credit, opts.TargetSeconds),
			Finishing:      watched+credit >= opts.TargetSeconds,
			Timestamp:      now,
			Unique:         uniqueFill(now),
		}, opts.Context)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to render template")
			return Result{Signal: SignalUnknown, WatchedSeconds: watched, Ticks: ticks}, err
		}

		// an in-flight request is never pre-empted; cancellation only
		// lands between ticks
		reply, err := s.send(context.WithoutCancel(ctx), body)
		if err != nil {
			// fail fast, no retry: the platform is rate sensitive and
			// a retry storm reads as abuse
			span.RecordError(err)
			span.SetStatus(codes.Error, "transport failure")
			return Result{Signal: SignalTransportError, WatchedSeconds: watched, Ticks: ticks},
				fmt.Errorf("tick %d: %w", ticks, err)
		}

		view, err := InterpretReply(reply)
		switch {
		case err != nil:
			// unreadable reply carries no completion signal; stay on
			// schedule rather than aborting
			slog.Warn("unreadable progress reply",
				"video", opts.Context.VideoId, "tick", ticks, "body", snippet(reply))
		case view.ServiceError:
			slog.Warn("service envelope reported an error",
				"video", opts.Context.VideoId, "tick", ticks, "body", snippet(reply))
		case view.Completed:
			slog.Info("server reported completion",
				"video", opts.Context.VideoId, "tick", ticks, "watched", watched)
			return Result{Signal: SignalServerReportedComplete, WatchedSeconds: watched, Ticks: ticks}, nil
		default:
			slog.Debug("progress submitted",
				"video", opts.Context.VideoId, "tick", ticks,
				"watched", watched, "reply", snippet(reply))
		}

		watched = min(watched+credit, opts.TargetSeconds)
		if watched >= opts.TargetSeconds {
			return Result{Signal: SignalReachedTarget, WatchedSeconds: watched, Ticks: ticks}, nil
		}

		if s.clock.Now().Sub(start) >= opts.Duration {
			return Result{Signal: SignalExhaustedDuration, WatchedSeconds: watched, Ticks: ticks}, nil
		}

		if err := s.sleep(ctx, s.tickSleep(opts)); err != nil {
			return Result{Signal: SignalCancelled, WatchedSeconds: watched, Ticks: ticks}, err
		}
	}
}

// tickSleep is the interval, shortened when the page declared a session
// timeout smaller than it: sleeping past the timeout would let the
// session lapse between reports.
func (s Simulator) tickSleep(opts Options) time.Duration {
	sleep := opts.Interval
	if opts.SessionTimeoutSeconds > 0 {
		timeout := time.Duration(opts.SessionTimeoutSeconds) * time.Second
		if sleep > timeout {
			sleep = max(30*time.Second, timeout/2)
		}
	}
	return sleep
}

// claimedProgress clamps the ratio a report claims to [0, 1].
func claimedProgress(watched, target int64) float64 {
	if target <= 0 {
		return 0
	}
	return min(max(float64(watched)/float64(target), 0), 1)
}

// resolveTarget fixes the progress denominator for a run: an explicit
// target wins, then the page's declared duration, then the wall-clock
// budget itself.
func resolveTarget(explicit, pageDuration int64, budget time.Duration) int64 {
	if explicit > 0 {
		return explicit
	}
	if pageDuration > 0 {
		return pageDuration
	}
	return int64(budget / time.Second)
}

// uniqueFill mirrors the web player's anti-replay filler: epoch millis
// joined with a random suffix.
func uniqueFill(now time.Time) string {
	suffix, err := random.String(12)
	if err != nil {
		suffix = strconv.FormatInt(now.UnixNano(), 10)
	}
	return fmt.Sprintf("%d_%s", now.UnixMilli(), suffix)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
