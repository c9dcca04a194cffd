package authorization

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	auditrepo "github.com/smallbiznis/swimreg/internal/audit/repository"
	auditservice "github.com/smallbiznis/swimreg/internal/audit/service"
	"github.com/smallbiznis/swimreg/internal/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (Service, func(where string, args ...any) int64) {
	t.Helper()
	db := dbtest.Open(t)
	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)

	svc := NewService(Params{
		Log:      zap.NewNop(),
		Enforcer: enforcer,
		AuditSvc: auditservice.NewService(auditservice.Params{
			DB:    db,
			Log:   zap.NewNop(),
			GenID: dbtest.Node(t),
			Repo:  auditrepo.Provide(),
		}),
	})
	count := func(where string, args ...any) int64 {
		return dbtest.Count(t, db, "audit_logs", where, args...)
	}
	return svc, count
}

func TestParentMayOnlyViewOwnInvoice(t *testing.T) {
	svc, audits := newTestService(t)
	parent := Actor{AccountID: snowflake.ID(1001), Role: "parent"}
	own := snowflake.ID(1001)
	other := snowflake.ID(2002)

	assert.NoError(t, svc.Authorize(context.Background(), parent, ObjectInvoice, ActionView, &own))
	assert.ErrorIs(t, svc.Authorize(context.Background(), parent, ObjectInvoice, ActionView, &other), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(context.Background(), parent, ObjectReceipt, ActionView, nil), ErrForbidden)
	assert.Equal(t, int64(2), audits("action = ?", "authorization.denied"))
}

func TestAdminMayViewAnyReceipt(t *testing.T) {
	svc, _ := newTestService(t)
	admin := Actor{AccountID: snowflake.ID(7), Role: "Admin"}
	other := snowflake.ID(2002)

	assert.NoError(t, svc.Authorize(context.Background(), admin, ObjectReceipt, ActionView, &other))
	assert.NoError(t, svc.Authorize(context.Background(), admin, ObjectInvoice, ActionView, nil))
	assert.ErrorIs(t, svc.Authorize(context.Background(), admin, ObjectInvoice, ActionPay, &other), ErrForbidden)
}

func TestRoleChangeReplacesGrouping(t *testing.T) {
	svc, _ := newTestService(t)
	id := snowflake.ID(55)
	other := snowflake.ID(66)

	require.NoError(t, svc.Authorize(context.Background(), Actor{AccountID: id, Role: "admin"}, ObjectSwimmer, ActionView, &other))
	assert.ErrorIs(t, svc.Authorize(context.Background(), Actor{AccountID: id, Role: "parent"}, ObjectSwimmer, ActionView, &other), ErrForbidden)
}

func TestAuthorizeValidatesInput(t *testing.T) {
	svc, _ := newTestService(t)
	assert.ErrorIs(t, svc.Authorize(context.Background(), Actor{Role: "parent"}, ObjectInvoice, ActionView, nil), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(context.Background(), Actor{AccountID: 1}, ObjectInvoice, ActionView, nil), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(context.Background(), Actor{AccountID: 1, Role: "parent"}, "", ActionView, nil), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(context.Background(), Actor{AccountID: 1, Role: "parent"}, ObjectInvoice, " ", nil), ErrInvalidAction)
}
