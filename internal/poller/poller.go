// Package poller runs fixed-interval background tasks. Ticks of one task
// never overlap and a failing or panicking tick never stops the schedule.
package poller

import (
	"context"
	"fmt"
	"time"

	"guildwarden/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Task interface {
	Name() string
	Run(ctx context.Context) error
}

type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context) error
}

func (t TaskFunc) Name() string                  { return t.TaskName }
func (t TaskFunc) Run(ctx context.Context) error { return t.Fn(ctx) }

type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

// New returns a scheduler whose ticks get a context bounded by timeout.
func New(logger *zap.Logger, timeout time.Duration) *Scheduler {
	logger = logger.With(zap.String("component", "poller"))
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Scheduler) Add(task Task, every time.Duration) {
	if every < time.Second {
		every = time.Second
	}
	s.cron.Schedule(cron.Every(every), cron.FuncJob(func() {
		s.runTask(task)
	}))
	s.logger.Info("task scheduled", zap.String("task", task.Name()), zap.Duration("every", every))
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running ticks and waits for them until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) runTask(task Task) (err error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		result := "ok"
		if err != nil {
			result = "error"
			s.logger.Warn("task tick failed", zap.String("task", task.Name()), zap.Duration("took", time.Since(start)), zap.Error(err))
		} else {
			s.logger.Debug("task tick done", zap.String("task", task.Name()), zap.Duration("took", time.Since(start)))
		}
		metrics.PollTicks.WithLabelValues(task.Name(), result).Inc()
	}()

	return task.Run(ctx)
}

type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
