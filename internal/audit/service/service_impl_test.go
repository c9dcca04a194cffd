package service_test

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/swimreg/internal/audit/domain"
	auditrepo "github.com/smallbiznis/swimreg/internal/audit/repository"
	auditservice "github.com/smallbiznis/swimreg/internal/audit/service"
	"github.com/smallbiznis/swimreg/internal/clock"
	"github.com/smallbiznis/swimreg/internal/dbtest"
	obscontext "github.com/smallbiznis/swimreg/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAuditLogMasksPayerDataAndCapturesClient(t *testing.T) {
	db := dbtest.Open(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: dbtest.Node(t),
		Repo:  auditrepo.Provide(),
		Clock: clock.NewFakeClock(now),
	})

	ctx := obscontext.WithRequestID(context.Background(), "req-9")
	ctx = obscontext.WithClient(ctx, "41.90.1.1", "Mozilla/5.0")
	target := "REG-01J"
	err := svc.AuditLog(ctx, "", nil, auditdomain.ActionAmountMismatch, "payment", &target, map[string]any{
		"payer_email": "parent@example.com",
		"payer_phone": "254712345678",
		"expected":    int64(700000),
	})
	require.NoError(t, err)

	logs, err := svc.List(context.Background(), auditdomain.ListFilter{Action: auditdomain.ActionAmountMismatch})
	require.NoError(t, err)
	require.Len(t, logs, 1)

	entry := logs[0]
	assert.Equal(t, string(auditdomain.ActorTypeSystem), entry.ActorType)
	assert.Equal(t, "REG-01J", *entry.TargetID)
	assert.Equal(t, "41.90.1.1", *entry.IPAddress)
	assert.Equal(t, "p****@example.com", entry.Metadata["payer_email"])
	assert.Equal(t, "254****678", entry.Metadata["payer_phone"])
	assert.Equal(t, "req-9", entry.Metadata["request_id"])
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	db := dbtest.Open(t)
	svc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: dbtest.Node(t),
		Repo:  auditrepo.Provide(),
	})
	err := svc.AuditLog(context.Background(), "", nil, " ", "payment", nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}
