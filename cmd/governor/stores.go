package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/delegation-governance/internal/approval"
	"github.com/xela07ax/delegation-governance/internal/audit"
	"github.com/xela07ax/delegation-governance/internal/console/service"
	"github.com/xela07ax/delegation-governance/internal/continuity"
	"github.com/xela07ax/delegation-governance/internal/infra"
	"github.com/xela07ax/delegation-governance/internal/repository/memory"
	"github.com/xela07ax/delegation-governance/internal/repository/postgres"
	"github.com/xela07ax/delegation-governance/internal/repository/sqlite"
)

// stores — хранилища, выбранные по конфигурации.
type stores struct {
	delegations service.DelegationRepository
	approvals   approval.Repository
	continuity  continuity.Store
	events      audit.EventStore
	assessments audit.AssessmentSink

	closers []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores: с database.url всё живёт в Postgres; без него журнал и оценки пишутся в sqlite,
// а делегации, согласования и замены держатся в памяти процесса.
func openStores(ctx context.Context, cfg *infra.Config, logger *zap.Logger) (*stores, error) {
	if cfg.Database.URL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pg, err := postgres.NewStore(connectCtx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("database unreachable: %w", err)
		}
		if err := pg.Migrate(connectCtx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("using postgres storage")
		return &stores{
			delegations: pg.Delegations(),
			approvals:   pg.Approvals(),
			continuity:  pg.Continuity(),
			events:      pg.Timeline(),
			assessments: pg.Assessments(),
			closers:     []func(){pg.Close},
		}, nil
	}

	lite, err := sqlite.Open(ctx, cfg.Database.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	logger.Warn("database.url is empty: delegations are kept in memory, journal goes to sqlite",
		zap.String("path", cfg.Database.SQLitePath))
	return &stores{
		delegations: memory.NewDelegationRepo(),
		approvals:   memory.NewApprovalRepo(),
		continuity:  memory.NewContinuityStore(),
		events:      lite,
		assessments: lite,
		closers: []func(){func() {
			if err := lite.Close(); err != nil {
				logger.Warn("close journal", zap.Error(err))
			}
		}},
	}, nil
}
