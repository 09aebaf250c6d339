// Package trigger drives the batch operations from cron specs and records
// every execution in the job-run history.
package trigger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/biomed-maint/internal/model"
	"github.com/t77yq/biomed-maint/internal/storage"
)

// Report summarizes one job execution
type Report struct {
	Outcome   model.BatchOutcome
	Processed int
	Failed    int
}

// JobFunc runs one batch operation
type JobFunc func(ctx context.Context) (Report, error)

// Runner manages cron-triggered batch jobs
type Runner struct {
	logger  *zap.Logger
	cron    *cron.Cron
	parser  cron.Parser
	history storage.JobRunHistory
	timeout time.Duration
	now     func() time.Time

	mu        sync.Mutex
	ctx       context.Context
	jobs      map[string]JobFunc
	schedules map[string]*model.JobSchedule
	entryIDs  map[string]cron.EntryID
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, fields(keysAndValues)...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(fields(keysAndValues), zap.Error(err))...)
}

func fields(keysAndValues []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out = append(out, zap.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return out
}

// NewRunner creates a runner. Specs use the standard five cron fields with
// an optional leading seconds field. timeout bounds each execution; zero
// means no limit.
func NewRunner(logger *zap.Logger, history storage.JobRunHistory, timeout time.Duration) *Runner {
	logger = logger.Named("trigger")
	cl := &cronLogger{logger: logger.Named("cron")}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	return &Runner{
		logger: logger,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
			cron.WithLogger(cl),
		),
		parser:    parser,
		history:   history,
		timeout:   timeout,
		now:       time.Now,
		ctx:       context.Background(),
		jobs:      make(map[string]JobFunc),
		schedules: make(map[string]*model.JobSchedule),
		entryIDs:  make(map[string]cron.EntryID),
	}
}

// Register makes a job available to RunNow without scheduling it
func (r *Runner) Register(name string, fn JobFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[name] = fn
}

// AddJob registers a job and schedules it on spec. An empty spec only
// registers it.
func (r *Runner) AddJob(name, spec string, fn JobFunc) error {
	r.Register(name, fn)
	if spec == "" {
		r.logger.Info("Job registered without schedule", zap.String("job", name))
		return nil
	}

	schedule, err := r.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("invalid cron expression for %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.entryIDs[name]; ok {
		r.cron.Remove(id)
	}

	entryID := r.cron.Schedule(schedule, cron.FuncJob(func() {
		if _, err := r.RunNow(r.runContext(), name); err != nil {
			r.logger.Error("Scheduled job failed", zap.String("job", name), zap.Error(err))
		}
	}))
	r.entryIDs[name] = entryID

	next := schedule.Next(r.now())
	r.schedules[name] = &model.JobSchedule{Name: name, Expression: spec, NextRunTime: &next}

	r.logger.Info("Added schedule",
		zap.String("job", name),
		zap.String("expression", spec),
		zap.Time("next_run", next))
	return nil
}

// RemoveJob unschedules and unregisters a job
func (r *Runner) RemoveJob(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[name]; !ok {
		return fmt.Errorf("job not found: %s", name)
	}
	if id, ok := r.entryIDs[name]; ok {
		r.cron.Remove(id)
	}
	delete(r.entryIDs, name)
	delete(r.schedules, name)
	delete(r.jobs, name)

	r.logger.Info("Removed schedule", zap.String("job", name))
	return nil
}

// Start starts the cron loop. Scheduled executions derive their context
// from ctx.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()
	r.cron.Start()
	r.logger.Info("Trigger runner started", zap.Int("jobs", len(r.cron.Entries())))
}

// Stop stops the cron loop and waits for running executions
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("Trigger runner stopped")
}

// Shutdown stops the cron loop and lets running executions finish. If they
// are still running after timeout, cancel is called to abort them and
// Shutdown returns false without waiting further.
func (r *Runner) Shutdown(timeout time.Duration, cancel context.CancelFunc) bool {
	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		r.logger.Warn("Shutdown timeout reached, cancelling running jobs", zap.Duration("timeout", timeout))
		cancel()
		return false
	}
}

func (r *Runner) runContext() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctx
}

// Schedules lists the scheduled jobs ordered by name
func (r *Runner) Schedules() []*model.JobSchedule {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.JobSchedule, 0, len(r.schedules))
	for _, s := range r.schedules {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunNow executes a registered job immediately and records the run
func (r *Runner) RunNow(ctx context.Context, name string) (*model.JobRun, error) {
	r.mu.Lock()
	fn, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("job not found: %s", name)
	}

	start := r.now()
	run := &model.JobRun{
		ID:        uuid.New().String(),
		Job:       name,
		StartedAt: start.UTC(),
	}
	if err := r.history.Store(ctx, run); err != nil {
		r.logger.Warn("Failed to record job start", zap.String("job", name), zap.Error(err))
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	report, err := fn(runCtx)

	end := r.now()
	completed := end.UTC()
	run.CompletedAt = &completed
	run.Duration = end.Sub(start)
	run.Processed = report.Processed
	run.Failed = report.Failed
	run.Outcome = report.Outcome
	if err != nil {
		run.Outcome = model.OutcomeFailed
		run.Error = err.Error()
	} else if run.Outcome == "" {
		run.Outcome = model.Outcome(report.Processed-report.Failed, report.Failed)
	}

	if uerr := r.history.Update(ctx, run); uerr != nil {
		r.logger.Warn("Failed to record job result", zap.String("job", name), zap.Error(uerr))
	}

	r.mu.Lock()
	if s, ok := r.schedules[name]; ok {
		s.LastRunTime = &completed
		if id, ok := r.entryIDs[name]; ok {
			next := r.cron.Entry(id).Next
			if !next.IsZero() {
				s.NextRunTime = &next
			}
		}
	}
	r.mu.Unlock()

	logFields := []zap.Field{
		zap.String("job", name),
		zap.String("run_id", run.ID),
		zap.String("outcome", string(run.Outcome)),
		zap.Int("processed", run.Processed),
		zap.Int("failed", run.Failed),
		zap.Duration("duration", run.Duration),
	}
	if err != nil {
		r.logger.Error("Job failed", append(logFields, zap.Error(err))...)
		return run, err
	}
	r.logger.Info("Job finished", logFields...)
	return run, nil
}
