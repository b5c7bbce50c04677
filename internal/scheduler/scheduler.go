// Package scheduler wires the periodic jobs: outbox publishing, the recovery
// sweeps, and the daily full crawl trigger.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hbkim/storecrawl/internal/batch"
)

// Config holds the cron expressions for each job. Empty expressions disable
// the job.
type Config struct {
	PublisherSpec     string `mapstructure:"publisher_spec"`
	OutboxTimeoutSpec string `mapstructure:"outbox_timeout_spec"`
	OutboxFailedSpec  string `mapstructure:"outbox_failed_spec"`
	TaskRecoverySpec  string `mapstructure:"task_recovery_spec"`
	DailyTriggerSpec  string `mapstructure:"daily_trigger_spec"`
	AgentRecoverySpec string `mapstructure:"agent_recovery_spec"`
}

// BatchJob is a periodic pass that reports how many rows it touched.
type BatchJob interface {
	Run(ctx context.Context) (batch.Result, error)
}

// BatchJobFunc adapts a function to BatchJob.
type BatchJobFunc func(ctx context.Context) (batch.Result, error)

// Run calls f.
func (f BatchJobFunc) Run(ctx context.Context) (batch.Result, error) {
	return f(ctx)
}

// Trigger starts a full crawl for every registered seller.
type Trigger interface {
	TriggerAll(ctx context.Context) (int, error)
}

// AgentRecoverer re-enables a rate-limited crawl identity once its backoff
// has elapsed.
type AgentRecoverer interface {
	RecoverFromRateLimit() error
}

// Scheduler runs the periodic jobs on a cron runner. Jobs share a base
// context that is canceled on Stop, so in-flight passes observe shutdown.
type Scheduler struct {
	cron    *cron.Cron
	cfg     Config
	logger  *zap.Logger
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New builds a Scheduler. Specs use the standard five-field cron syntax with
// optional @every shorthand.
func New(cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(),
		cfg:     cfg,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// RegisterPublisher schedules the outbox publisher pass.
func (s *Scheduler) RegisterPublisher(job BatchJob) error {
	return s.registerBatch(s.cfg.PublisherSpec, "outbox_publish", job)
}

// RegisterOutboxTimeoutSweep schedules the PROCESSING timeout sweep.
func (s *Scheduler) RegisterOutboxTimeoutSweep(job BatchJob) error {
	return s.registerBatch(s.cfg.OutboxTimeoutSpec, "outbox_timeout_sweep", job)
}

// RegisterOutboxFailedSweep schedules the FAILED redelivery sweep.
func (s *Scheduler) RegisterOutboxFailedSweep(job BatchJob) error {
	return s.registerBatch(s.cfg.OutboxFailedSpec, "outbox_failed_sweep", job)
}

// RegisterTaskRecovery schedules the full task repair pass.
func (s *Scheduler) RegisterTaskRecovery(job BatchJob) error {
	return s.registerBatch(s.cfg.TaskRecoverySpec, "task_recovery", job)
}

// RegisterDailyTrigger schedules the full-crawl trigger for all sellers.
func (s *Scheduler) RegisterDailyTrigger(trigger Trigger) error {
	if s.cfg.DailyTriggerSpec == "" {
		return nil
	}
	_, err := s.cron.AddFunc(s.cfg.DailyTriggerSpec, func() {
		created, err := trigger.TriggerAll(s.baseCtx)
		if err != nil {
			s.logger.Error("scheduled crawl trigger failed", zap.Error(err))
			return
		}
		s.logger.Info("scheduled crawl triggered", zap.Int("sellers", created))
	})
	return err
}

// RegisterAgentRecovery schedules the rate-limit backoff recovery check.
func (s *Scheduler) RegisterAgentRecovery(pool AgentRecoverer) error {
	if s.cfg.AgentRecoverySpec == "" {
		return nil
	}
	_, err := s.cron.AddFunc(s.cfg.AgentRecoverySpec, func() {
		if err := pool.RecoverFromRateLimit(); err != nil {
			s.logger.Debug("agent not recoverable yet", zap.Error(err))
			return
		}
		s.logger.Info("crawl agent recovered from rate limit")
	})
	return err
}

func (s *Scheduler) registerBatch(spec, name string, job BatchJob) error {
	if spec == "" {
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		res, err := job.Run(s.baseCtx)
		if err != nil {
			s.logger.Error("scheduled pass failed",
				zap.String("job", name),
				zap.Int("total", res.Total),
				zap.Int("succeeded", res.Succeeded),
				zap.Int("failed", res.Failed),
				zap.Error(err),
			)
			return
		}
		if res.Total > 0 {
			s.logger.Info("scheduled pass finished",
				zap.String("job", name),
				zap.Int("total", res.Total),
				zap.Int("succeeded", res.Succeeded),
				zap.Int("failed", res.Failed),
			)
		}
	})
	return err
}

// Start begins running the registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels the job context and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
