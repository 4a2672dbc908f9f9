package chrono

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"coursewatch/lib/timezone"
)

// CronAPI is the interface that anything depending on things to happen on a cron job should use.
type CronAPI interface {
	Cron(spec string, callback func()) error
	Stop()
}

// StandardCron is the standard implementation of CronAPI using `github.com/robfig/cron/v3`.
// Schedules evaluate in the campus timezone, and a job still running when
// its next trigger fires is skipped instead of stacked: two overlapping
// watch sessions would trip the platform's simultaneous-viewing warning.
type StandardCron struct {
	cron *cron.Cron
}

// NewStandardCron is the constructor of StandardCron. The scheduler is
// already started on return.
func NewStandardCron() StandardCron {
	logger := cronLogger{}
	cronner := cron.New(
		cron.WithLogger(logger),
		cron.WithLocation(timezone.Location),
		cron.WithChain(cron.SkipIfStillRunning(logger)),
	)
	cronner.Start()

	return StandardCron{
		cron: cronner,
	}
}

func (s StandardCron) Cron(spec string, callback func()) error {
	_, err := s.cron.AddFunc(spec, callback)
	return err
}

// Stop prevents further triggers and blocks until running jobs return.
func (s StandardCron) Stop() {
	<-s.cron.Stop().Done()
}

type cronLogger struct{}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug(fmt.Sprintf("cron: %s", msg), keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error(fmt.Sprintf("cron: %s", msg), append([]any{"err", err}, keysAndValues...)...)
}
