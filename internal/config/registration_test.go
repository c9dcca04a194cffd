package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistrationPolicyDefaultsWhenFileMissing(t *testing.T) {
	holder, err := newRegistrationPolicyHolder(zap.NewNop(), t.TempDir())
	require.NoError(t, err)

	policy := holder.Get()
	assert.Equal(t, int64(350000), policy.FeePerSwimmer)
	assert.Equal(t, "KES", policy.Currency)
	assert.Equal(t, 7, policy.DueDays)
	assert.Equal(t, int64(100), policy.AmountTolerance)
	assert.Equal(t, 10*time.Minute, policy.StaleAfter)
}

func TestRegistrationPolicyReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`registration:
  fee_per_swimmer: 400000
  currency: kes
  stale_after: 5m
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "registration.yml"), content, 0o600))

	holder, err := newRegistrationPolicyHolder(zap.NewNop(), dir)
	require.NoError(t, err)

	policy := holder.Get()
	assert.Equal(t, int64(400000), policy.FeePerSwimmer)
	assert.Equal(t, "KES", policy.Currency)
	assert.Equal(t, 5*time.Minute, policy.StaleAfter)
	assert.Equal(t, 7, policy.DueDays, "unset keys keep their defaults")
}

func TestRegistrationPolicyRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`registration:
  fee_per_swimmer: 0
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "registration.yml"), content, 0o600))

	_, err := newRegistrationPolicyHolder(zap.NewNop(), dir)
	assert.Error(t, err)
}

func TestNilHolderFallsBackToDefaults(t *testing.T) {
	var holder *RegistrationPolicyHolder
	assert.Equal(t, DefaultRegistrationPolicy(), holder.Get())
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://otterskenya.org, https://admin.otterskenya.org")

	cfg := Load()
	assert.Equal(t, "postgres", cfg.DBType)
	assert.Equal(t, []string{"https://otterskenya.org", "https://admin.otterskenya.org"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, cfg.PublicBaseURL+"/register/success", cfg.Paystack.CallbackURL)
}
