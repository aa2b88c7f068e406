package chrono

import (
	"fmt"
	"regreport/internal/components/telemetry"

	"github.com/robfig/cron/v3"
)

// CronAPI is the interface that anything depending on things to happen on a cron job should use.
type CronAPI interface {
	// Cron schedules callback on spec. The returned function runs the job
	// right away through the same guard as its scheduled activations.
	Cron(spec string, callback func()) (func(), error)
	Stop()
}

// StandardCron is the standard implementation of CronAPI using `github.com/robfig/cron/v3`.
//
// A job that is still running when it is activated again is skipped, so at
// most one instance of a job runs at a time.
type StandardCron struct {
	cron  *cron.Cron
	chain cron.Chain
}

// NewStandardCron is the constructor of StandardCron.
func NewStandardCron(time API, tel telemetry.API) StandardCron {
	logger := cronLogger{tel: tel}
	cronner := cron.New(
		cron.WithLogger(logger),
		cron.WithLocation(time.Location()),
	)
	cronner.Start()

	return StandardCron{
		cron: cronner,
		// not cron.WithChain: the returned trigger must share the wrapper
		chain: cron.NewChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		),
	}
}

func (s StandardCron) Cron(spec string, callback func()) (func(), error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, err
	}
	job := s.chain.Then(cron.FuncJob(callback))
	s.cron.Schedule(schedule, job)
	return job.Run, nil
}

// Stop stops scheduling and waits for running jobs to finish.
func (s StandardCron) Stop() {
	<-s.cron.Stop().Done()
}

type cronLogger struct {
	tel telemetry.API
}

func (l cronLogger) formatParams(keysAndValues []any) []any {
	params := []any{}
	for i := 0; i < len(keysAndValues)/2; i++ {
		idx := i * 2
		key := keysAndValues[idx]
		value := keysAndValues[idx+1]
		params = append(params, fmt.Sprintf("%v: %v", key, value))
	}
	return params
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.tel.ReportDebug(
		fmt.Sprintf("cron: %s", msg),
		l.formatParams(keysAndValues)...,
	)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.tel.ReportBroken(
		"cron",
		append([]any{fmt.Errorf("%s: %w", msg, err)}, l.formatParams(keysAndValues)...)...,
	)
}
