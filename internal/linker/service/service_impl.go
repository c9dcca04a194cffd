package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/swimreg/internal/audit/domain"
	"github.com/smallbiznis/swimreg/internal/clock"
	linkerdomain "github.com/smallbiznis/swimreg/internal/linker/domain"
	"github.com/smallbiznis/swimreg/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/swimreg/internal/observability/metrics"
	pkgdb "github.com/smallbiznis/swimreg/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const swimmerSavepoint = "link_swimmer"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       linkerdomain.Repository
	AuditSvc   auditdomain.Service `optional:"true"`
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       linkerdomain.Repository
	auditSvc   auditdomain.Service
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) linkerdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("linker.service"),
		repo:       p.Repo,
		auditSvc:   p.AuditSvc,
		clock:      c,
		obsMetrics: p.ObsMetrics,
	}
}

// Link attaches every ownerless swimmer, invoice and consent submitted under
// email to the account. Running it again links nothing new.
func (s *Service) Link(ctx context.Context, accountID snowflake.ID, email string) (*linkerdomain.LinkResult, error) {
	if accountID == 0 {
		return nil, linkerdomain.ErrInvalidAccount
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, linkerdomain.ErrInvalidEmail
	}

	log := logger.WithContext(ctx, s.log).With(zap.String("account_id", accountID.String()))
	now := s.clock.Now()
	result := &linkerdomain.LinkResult{}
	var conflicts []snowflake.ID

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orphans, err := s.repo.ListOrphanSwimmers(ctx, tx, email)
		if err != nil {
			return err
		}
		for _, id := range orphans {
			if err := tx.SavePoint(swimmerSavepoint).Error; err != nil {
				return err
			}
			linked, err := s.repo.AssignSwimmer(ctx, tx, id, accountID, now)
			if err != nil {
				if !pkgdb.IsDuplicateKeyErr(err) {
					return err
				}
				if rbErr := tx.RollbackTo(swimmerSavepoint).Error; rbErr != nil {
					return rbErr
				}
				conflicts = append(conflicts, id)
				continue
			}
			if linked {
				result.Swimmers++
			}
		}

		result.Invoices, err = s.repo.AssignInvoices(ctx, tx, email, accountID, now)
		if err != nil {
			return err
		}
		result.Consents, err = s.repo.AssignConsents(ctx, tx, email, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}

	result.Conflicts = int64(len(conflicts))
	for _, id := range conflicts {
		log.Warn("orphan swimmer already registered under account", zap.String("swimmer_id", id.String()), zap.Error(linkerdomain.ErrLinkConflict))
		s.auditConflict(ctx, accountID, id)
	}

	if result.Swimmers > 0 {
		s.obsMetrics.RecordSwimmersLinked(ctx, int(result.Swimmers))
	}
	if result.Swimmers+result.Invoices+result.Consents > 0 {
		log.Info("orphaned registrations linked",
			zap.Int64("swimmers", result.Swimmers),
			zap.Int64("invoices", result.Invoices),
			zap.Int64("consents", result.Consents),
		)
	}
	return result, nil
}

func (s *Service) auditConflict(ctx context.Context, accountID, swimmerID snowflake.ID) {
	if s.auditSvc == nil {
		return
	}
	actor := accountID.String()
	target := swimmerID.String()
	if err := s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeAccount), &actor, auditdomain.ActionLinkConflict, "swimmer", &target, map[string]any{
		"account_id": actor,
	}); err != nil {
		s.log.Warn("failed to record link conflict", zap.Error(err))
	}
}
