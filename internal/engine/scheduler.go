package engine

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/delegation-governance/internal/infra"
	"go.uber.org/zap"
)

// SweepFunc — один проход фоновой задачи (эскалации по таймауту, активация замен).
type SweepFunc func(ctx context.Context) error

type sweepJob struct {
	name     string
	interval time.Duration
	run      SweepFunc
}

// Scheduler крутит sweep-и по тикерам до отмены контекста.
// Координация между инстансами живёт внутри самих sweep-ов (Locker), здесь только расписание.
type Scheduler struct {
	jobs   []sweepJob
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{logger: infra.OrNop(logger).Named("scheduler")}
}

// Every регистрирует задачу. Интервал <= 0 выключает её.
func (s *Scheduler) Every(name string, interval time.Duration, run SweepFunc) *Scheduler {
	if interval <= 0 {
		s.logger.Info("sweep disabled", zap.String("sweep", name))
		return s
	}
	s.jobs = append(s.jobs, sweepJob{name: name, interval: interval, run: run})
	return s
}

// Start запускает по горутине на задачу. Первый проход выполняется сразу.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
}

// Wait дожидается выхода всех горутин после отмены ctx.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job sweepJob) {
	defer s.wg.Done()
	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()

	s.logger.Info("sweep started", zap.String("sweep", job.name), zap.Duration("interval", job.interval))
	for {
		s.runOnce(ctx, job)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.logger.Info("sweep stopping by context", zap.String("sweep", job.name))
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job sweepJob) {
	defer func() {
		// упавший проход не должен останавливать расписание
		if r := recover(); r != nil {
			s.logger.Error("sweep panicked", zap.String("sweep", job.name), zap.Any("panic", r))
		}
	}()
	if err := job.run(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("sweep failed", zap.String("sweep", job.name), zap.Error(err))
	}
}
