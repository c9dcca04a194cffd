// Package resolver decides which swimmers a completed payment approves.
package resolver

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/swimreg/internal/clock"
	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
	registrationdomain "github.com/smallbiznis/swimreg/internal/registration/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Repo  registrationdomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Resolver struct {
	log   *zap.Logger
	repo  registrationdomain.Repository
	clock clock.Clock
}

func New(p Params) *Resolver {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Resolver{
		log:   p.Log.Named("registration.resolver"),
		repo:  p.Repo,
		clock: c,
	}
}

// Select returns the swimmers a payment applies to, in order:
// the ids carried on the payment; otherwise the owner's pending swimmers;
// then the invoice's primary swimmer when still pending and not yet chosen.
func (r *Resolver) Select(ctx context.Context, tx *gorm.DB, invoice *ledgerdomain.Invoice, correlation ledgerdomain.Correlation) ([]snowflake.ID, error) {
	selected := make([]snowflake.ID, 0, len(correlation.SwimmerIDs))
	seen := map[snowflake.ID]struct{}{}
	add := func(id snowflake.ID) {
		if id == 0 {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		selected = append(selected, id)
	}

	if len(correlation.SwimmerIDs) > 0 {
		for _, id := range correlation.SwimmerIDs {
			add(id)
		}
	} else if invoice.OwnerID != nil {
		pending, err := r.repo.ListPendingByOwner(ctx, tx, *invoice.OwnerID)
		if err != nil {
			return nil, err
		}
		for _, swimmer := range pending {
			add(swimmer.ID)
		}
	}

	if invoice.SwimmerID != nil {
		if _, ok := seen[*invoice.SwimmerID]; !ok {
			primary, err := r.repo.ListSwimmers(ctx, tx, []snowflake.ID{*invoice.SwimmerID})
			if err != nil {
				return nil, err
			}
			if len(primary) == 1 && primary[0].Status == registrationdomain.SwimmerStatusPending {
				add(primary[0].ID)
			}
		}
	}
	return selected, nil
}

// ApproveWithin approves the selected swimmers that are still pending and
// returns the ids this call changed.
func (r *Resolver) ApproveWithin(ctx context.Context, tx *gorm.DB, invoice *ledgerdomain.Invoice, correlation ledgerdomain.Correlation) ([]snowflake.ID, error) {
	selected, err := r.Select(ctx, tx, invoice, correlation)
	if err != nil {
		return nil, err
	}

	now := r.clock.Now()
	approved := make([]snowflake.ID, 0, len(selected))
	for _, id := range selected {
		changed, err := r.repo.Approve(ctx, tx, id, now)
		if err != nil {
			return nil, err
		}
		if changed {
			approved = append(approved, id)
		}
	}

	if len(selected) == 0 {
		r.log.Warn("completed payment resolved no swimmers", zap.String("invoice_id", invoice.ID.String()))
	}
	return approved, nil
}
