// Package service wires the maintenance components from configuration.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/biomed-maint/internal/config"
	"github.com/t77yq/biomed-maint/internal/escalation"
	"github.com/t77yq/biomed-maint/internal/lifecycle"
	"github.com/t77yq/biomed-maint/internal/notification"
	"github.com/t77yq/biomed-maint/internal/scheduler"
	"github.com/t77yq/biomed-maint/internal/storage"
	"github.com/t77yq/biomed-maint/internal/trigger"
)

// Services holds the wired components
type Services struct {
	Config     *config.Config
	Store      storage.Store
	Sink       *notification.Sink
	Scheduler  *scheduler.Scheduler
	Escalation *escalation.Engine
	Lifecycle  *lifecycle.Scorer

	// JetStream is nil unless nats.url is configured
	JetStream nats.JetStreamContext

	logger *zap.Logger
	nc     *nats.Conn
}

// New opens the store, connects the configured transports and builds the
// components on top of them
func New(cfg *config.Config, logger *zap.Logger) (*Services, error) {
	store, err := storage.NewSQLiteStore(logger, cfg.Database.Path, storage.SQLiteOptions{
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return NewWithStore(cfg, logger, store)
}

// NewWithStore builds the components on an already opened store
func NewWithStore(cfg *config.Config, logger *zap.Logger, store storage.Store) (*Services, error) {
	s := &Services{
		Config: cfg,
		Store:  store,
		logger: logger,
	}

	transports, err := s.transports()
	if err != nil {
		s.Close()
		return nil, err
	}

	var sinkOpts []notification.Option
	if len(transports) > 0 {
		sinkOpts = append(sinkOpts, notification.WithTransport(transports))
	}
	s.Sink = notification.NewSink(logger, store, sinkOpts...)
	s.Scheduler = scheduler.New(logger, store, s.Sink)
	s.Escalation = escalation.New(logger, store, s.Sink)
	s.Lifecycle = lifecycle.NewScorer(logger, store, s.Sink, cfg.Lifecycle)
	return s, nil
}

func (s *Services) transports() (notification.MultiTransport, error) {
	cfg := s.Config.Notification
	var out notification.MultiTransport
	for _, name := range cfg.Transports {
		var t notification.Transport
		switch name {
		case "smtp":
			t = notification.NewSMTPTransport(cfg.SMTP)
		case "sendgrid":
			t = notification.NewSendGridTransport(cfg.SendGrid)
		case "nats":
			js, err := s.connectNATS()
			if err != nil {
				return nil, err
			}
			t = notification.NewNATSTransport(js, s.logger)
		default:
			return nil, fmt.Errorf("unknown notification transport %q", name)
		}
		out = append(out, notification.WithRetry(t, cfg.Retry, s.logger))
	}
	return out, nil
}

// connectNATS dials the configured server with retry and makes sure the
// notification stream exists
func (s *Services) connectNATS() (nats.JetStreamContext, error) {
	if s.JetStream != nil {
		return s.JetStream, nil
	}
	cfg := s.Config.NATS
	if cfg.URL == "" {
		return nil, errors.New("nats transport enabled but nats.url is empty")
	}

	logger := s.logger.Named("nats")
	opts := []nats.Option{
		nats.Name(s.Config.App.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	retries := cfg.ConnectRetries
	if retries < 1 {
		retries = 1
	}

	var nc *nats.Conn
	var err error
	for i := 0; i < retries; i++ {
		nc, err = nats.Connect(cfg.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		if i < retries-1 {
			time.Sleep(time.Second * time.Duration(i+1))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", retries, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if err := notification.EnsureStream(js); err != nil {
		nc.Close()
		return nil, err
	}

	logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))
	s.nc = nc
	s.JetStream = js
	return js, nil
}

// SeedRules saves the configured escalation rules when the rule store is
// empty. It returns the number of rules saved.
func (s *Services) SeedRules(ctx context.Context) (int, error) {
	existing, err := s.Store.ListEscalationRules(ctx, "")
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}

	for _, rc := range s.Config.Escalation.Rules {
		rule, err := rc.ToModel()
		if err != nil {
			return 0, err
		}
		if err := s.Store.SaveEscalationRule(ctx, rule); err != nil {
			return 0, err
		}
	}

	s.logger.Info("Seeded escalation rules", zap.Int("count", len(s.Config.Escalation.Rules)))
	return len(s.Config.Escalation.Rules), nil
}

// RegisterJobs adds every batch job to runner on its configured cron spec
func (s *Services) RegisterJobs(runner *trigger.Runner) error {
	t := s.Config.Triggers
	jobs := []struct {
		name string
		spec string
		fn   trigger.JobFunc
	}{
		{trigger.JobAutoSchedule, t.AutoSchedule, trigger.AutoScheduleJob(s.Scheduler)},
		{trigger.JobEscalate, t.Escalate, trigger.EscalateJob(s.Escalation)},
		{trigger.JobReminders, t.Reminders, trigger.RemindersJob(s.Scheduler, t.ReminderWindow)},
		{trigger.JobLifecycle, t.Lifecycle, trigger.LifecycleJob(s.Lifecycle)},
		{trigger.JobPruneHistory, t.PruneHistory, trigger.PruneHistoryJob(s.Store.JobRuns(), t.HistoryRetention)},
	}
	for _, j := range jobs {
		if err := runner.AddJob(j.name, j.spec, j.fn); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the NATS connection and the store
func (s *Services) Close() error {
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.logger.Warn("Failed to drain NATS connection", zap.Error(err))
		}
		s.nc = nil
	}
	return s.Store.Close()
}
