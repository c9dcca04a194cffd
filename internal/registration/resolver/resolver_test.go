package resolver_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/swimreg/internal/dbtest"
	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
	registrationdomain "github.com/smallbiznis/swimreg/internal/registration/domain"
	registrationrepo "github.com/smallbiznis/swimreg/internal/registration/repository"
	"github.com/smallbiznis/swimreg/internal/registration/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func seedSwimmer(t *testing.T, db *gorm.DB, id snowflake.ID, owner *snowflake.ID, first string, status registrationdomain.SwimmerStatus) {
	t.Helper()
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	err := registrationrepo.Provide().InsertSwimmer(context.Background(), db, &registrationdomain.Swimmer{
		ID:             id,
		OwnerID:        owner,
		SubmitterEmail: "parent@example.com",
		FirstName:      first,
		LastName:       "Mwangi",
		DateOfBirth:    "2015-03-03",
		Gender:         "male",
		Squad:          "fitness",
		IdentityKey:    registrationdomain.IdentityKey(first, "Mwangi", "2015-03-03"),
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	require.NoError(t, err)
}

func newResolver() *resolver.Resolver {
	return resolver.New(resolver.Params{Log: zap.NewNop(), Repo: registrationrepo.Provide()})
}

func TestSelectPrefersCorrelationIDs(t *testing.T) {
	db := dbtest.Open(t)
	node := dbtest.Node(t)
	owner := node.Generate()
	a, b, c := node.Generate(), node.Generate(), node.Generate()
	seedSwimmer(t, db, a, &owner, "Kip", registrationdomain.SwimmerStatusPending)
	seedSwimmer(t, db, b, &owner, "Juma", registrationdomain.SwimmerStatusPending)
	seedSwimmer(t, db, c, &owner, "Njeri", registrationdomain.SwimmerStatusPending)

	invoice := &ledgerdomain.Invoice{ID: node.Generate(), OwnerID: &owner}
	selected, err := newResolver().Select(context.Background(), db, invoice, ledgerdomain.Correlation{
		SwimmerIDs: []snowflake.ID{b, a, b},
	})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{b, a}, selected)
}

func TestSelectFallsBackToOwnerThenPrimary(t *testing.T) {
	db := dbtest.Open(t)
	node := dbtest.Node(t)
	owner := node.Generate()
	mine, approved, orphan := node.Generate(), node.Generate(), node.Generate()
	seedSwimmer(t, db, mine, &owner, "Kip", registrationdomain.SwimmerStatusPending)
	seedSwimmer(t, db, approved, &owner, "Juma", registrationdomain.SwimmerStatusApproved)
	seedSwimmer(t, db, orphan, nil, "Njeri", registrationdomain.SwimmerStatusPending)

	invoice := &ledgerdomain.Invoice{ID: node.Generate(), OwnerID: &owner, SwimmerID: &orphan}
	selected, err := newResolver().Select(context.Background(), db, invoice, ledgerdomain.Correlation{})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{mine, orphan}, selected)

	invoice.SwimmerID = &approved
	selected, err = newResolver().Select(context.Background(), db, invoice, ledgerdomain.Correlation{})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{mine}, selected, "approved primary swimmer is not reselected")
}

func TestApproveWithinOnlyReportsChangedSwimmers(t *testing.T) {
	db := dbtest.Open(t)
	node := dbtest.Node(t)
	pending, approved := node.Generate(), node.Generate()
	seedSwimmer(t, db, pending, nil, "Kip", registrationdomain.SwimmerStatusPending)
	seedSwimmer(t, db, approved, nil, "Juma", registrationdomain.SwimmerStatusApproved)

	invoice := &ledgerdomain.Invoice{ID: node.Generate()}
	correlation := ledgerdomain.Correlation{SwimmerIDs: []snowflake.ID{pending, approved}}

	changed, err := newResolver().ApproveWithin(context.Background(), db, invoice, correlation)
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{pending}, changed)

	changed, err = newResolver().ApproveWithin(context.Background(), db, invoice, correlation)
	require.NoError(t, err)
	assert.Empty(t, changed)

	assert.Equal(t, int64(2), dbtest.Count(t, db, "swimmers", "status = ?", "approved"))
	assert.Equal(t, int64(1), dbtest.Count(t, db, "swimmers", "registration_complete = ?", true))
}

func TestApproveWithinNothingToApprove(t *testing.T) {
	db := dbtest.Open(t)
	node := dbtest.Node(t)

	changed, err := newResolver().ApproveWithin(context.Background(), db, &ledgerdomain.Invoice{ID: node.Generate()}, ledgerdomain.Correlation{})
	require.NoError(t, err)
	assert.Empty(t, changed)
}
