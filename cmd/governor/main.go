package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/delegation-governance/internal/approval"
	"github.com/xela07ax/delegation-governance/internal/audit"
	"github.com/xela07ax/delegation-governance/internal/conflict"
	"github.com/xela07ax/delegation-governance/internal/console/handler"
	"github.com/xela07ax/delegation-governance/internal/console/server"
	"github.com/xela07ax/delegation-governance/internal/console/service"
	"github.com/xela07ax/delegation-governance/internal/continuity"
	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/engine"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"github.com/xela07ax/delegation-governance/internal/infra/auth"
	"github.com/xela07ax/delegation-governance/internal/remediation"
	"github.com/xela07ax/delegation-governance/internal/risk"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("governor stopped with error", zap.Error(err))
	}
	logger.Info("governor exited properly")
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст жизненного цикла фоновых горутин: SIGTERM останавливает sweep-ы и слушателей
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := infra.NewMetrics(reg)
	clock := infra.SystemClock{}

	// 2. Хранилища: Postgres либо sqlite-журнал + память
	stores, err := openStores(appCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	// 3. Redis: распределённые блокировки sweep-ов и Pub/Sub уведомлений
	var (
		locker   infra.Locker = infra.NewLocalLocker()
		notifier remediation.Notifier
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(appCtx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis unreachable: %w", err)
		}
		locker = infra.NewRedisLocker(rdb)
		notifier = remediation.NewRedisNotifier(rdb, logger)
	} else {
		logger.Warn("redis is not configured: local locks, notifications go to the log")
		notifier = remediation.NewLogNotifier(logger)
	}

	// 4. Журнал: восстанавливаем индекс из хранилища до приёма запросов
	timeline := audit.NewTimeline(stores.events, clock, logger)
	if err := timeline.Load(appCtx); err != nil {
		return fmt.Errorf("load timeline: %w", err)
	}
	journal := audit.NewJournal(stores.assessments, audit.JournalOptions{
		BufferSize:    cfg.Governance.JournalBufferSize,
		BatchSize:     cfg.Governance.JournalBatchSize,
		FlushInterval: cfg.Governance.JournalFlushInterval,
	}, metrics, logger)
	journal.Start()
	defer journal.Stop()

	// 5. Движки
	registry, err := approval.NewRegistry(cfg.Approval.Workflows)
	if err != nil {
		return fmt.Errorf("approval workflows: %w", err)
	}
	approvals := approval.NewEngine(stores.approvals, registry, timeline, locker, clock, metrics, logger)
	approvals.SetSweepLockTTL(cfg.Governance.SweepLockTTL)

	backups := continuity.NewManager(stores.continuity, timeline, locker, clock, metrics, logger)
	backups.SetSweepLockTTL(cfg.Governance.SweepLockTTL)

	// Исполнитель команд: rate limit -> circuit breaker -> retry поверх диспетчера
	dispatcher := remediation.NewDispatcher(stores.delegations, timeline, notifier, clock, metrics, logger).
		WithActor(domain.SystemActor)
	executor := remediation.NewReliabilityWrapper("dispatcher", dispatcher, cfg.Governance.Remediation, metrics, logger)

	detector := conflict.NewDetector(executor, clock, metrics, logger)
	gov := engine.NewGovernanceEngine(engine.Deps{
		Alerts:    risk.NewEngine(cfg.Governance.Rules, clock, metrics, logger),
		Conflicts: detector,
		Approvals: approvals,
		Backups:   backups,
		Timeline:  timeline,
		Journal:   journal,
	}, engine.OptionsFromConfig(cfg.Governance), clock, metrics, logger)

	validator, err := newValidator(cfg.Auth, logger)
	if err != nil {
		return err
	}

	// 6. Фоновые sweep-ы (Wait отработает после отмены appCtx)
	scheduler := engine.NewScheduler(logger).
		Every("approval-timeouts", cfg.Governance.TimeoutSweepInterval, func(ctx context.Context) error {
			res, err := approvals.CheckTimeouts(ctx)
			if len(res.Escalated) > 0 || len(res.Exhausted) > 0 {
				logger.Info("approval sweep", zap.Strings("escalated", res.Escalated), zap.Strings("exhausted", res.Exhausted))
			}
			return err
		}).
		Every("replacements", cfg.Governance.ReplacementSweepInterval, func(ctx context.Context) error {
			res, err := backups.CheckScheduledReplacements(ctx)
			if len(res.Activated) > 0 || len(res.Completed) > 0 {
				logger.Info("replacement sweep", zap.Strings("activated", res.Activated), zap.Strings("completed", res.Completed))
			}
			return err
		})
	scheduler.Start(appCtx)
	defer scheduler.Wait()

	// 7. HTTP API
	svc := service.NewGovernanceService(stores.delegations, gov, detector, timeline, executor, clock, logger)
	api := server.NewConsoleServer(logger, validator, server.Handlers{
		Delegations: handler.NewDelegationHandler(svc),
		Approvals:   handler.NewApprovalHandler(approvals, svc, registry),
		Audit:       handler.NewAuditHandler(timeline),
		Continuity:  handler.NewContinuityHandler(backups, svc),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	metricsSrv := &http.Server{
		Addr:    cfg.Server.MetricsAddr,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("metrics endpoint started", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics: %w", err)
		}
	}()
	go func() {
		logger.Info("governance API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	// 8. Graceful Shutdown
	select {
	case <-appCtx.Done():
		logger.Info("governor stopping...")
	case err := <-errCh:
		stop()
		return err
	}

	// Даем 5 секунд на завершение запросов
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return metricsSrv.Shutdown(shutdownCtx)
}

func newValidator(cfg infra.AuthConfig, logger *zap.Logger) (auth.TokenValidator, error) {
	if cfg.Disabled {
		logger.Warn("auth is disabled: every request acts as the system actor")
		return auth.AllowAll{Actor: domain.SystemActor}, nil
	}
	if len(cfg.PublicKey) == 0 {
		return nil, errors.New("auth: public key is not configured (auth.public_key_path or AUTH_PUBLIC_KEY_DATA)")
	}
	key, err := auth.ParseRSAPublicKey(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	return auth.NewBaseValidator(key), nil
}
