package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RegistrationPolicy holds the club's registration and reconciliation knobs.
// Amounts are minor currency units.
type RegistrationPolicy struct {
	ClubName        string        `mapstructure:"club_name"`
	Currency        string        `mapstructure:"currency"`
	FeePerSwimmer   int64         `mapstructure:"fee_per_swimmer"`
	DueDays         int           `mapstructure:"due_days"`
	AmountTolerance int64         `mapstructure:"amount_tolerance"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	GiveUpAfter     time.Duration `mapstructure:"give_up_after"`
	ConsentText     string        `mapstructure:"consent_text"`
}

func DefaultRegistrationPolicy() RegistrationPolicy {
	return RegistrationPolicy{
		ClubName:        "Otters Kenya",
		Currency:        "KES",
		FeePerSwimmer:   350000,
		DueDays:         7,
		AmountTolerance: 100,
		StaleAfter:      10 * time.Minute,
		GiveUpAfter:     72 * time.Hour,
		ConsentText: "I confirm the information provided is accurate and agree to the club code of conduct. " +
			"Media consent covers photographs and video taken at club sessions and competitions.",
	}
}

type registrationFile struct {
	Registration RegistrationPolicy `mapstructure:"registration"`
}

type RegistrationPolicyHolder struct {
	current atomic.Value // holds RegistrationPolicy
}

// NewRegistrationPolicyHolder reads registration.yml from the standard
// config paths and watches it for changes.
func NewRegistrationPolicyHolder(log *zap.Logger) (*RegistrationPolicyHolder, error) {
	return newRegistrationPolicyHolder(log, "/var/lib/swimreg/config", "/etc/swimreg", ".")
}

// NewStaticRegistrationPolicy returns a holder that never reloads.
func NewStaticRegistrationPolicy(policy RegistrationPolicy) *RegistrationPolicyHolder {
	holder := &RegistrationPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func newRegistrationPolicyHolder(log *zap.Logger, paths ...string) (*RegistrationPolicyHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.registration")

	v := viper.New()
	v.SetConfigName("registration")
	v.SetConfigType("yml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("SWIMREG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRegistrationPolicy()
	v.SetDefault("registration.club_name", defaults.ClubName)
	v.SetDefault("registration.currency", defaults.Currency)
	v.SetDefault("registration.fee_per_swimmer", defaults.FeePerSwimmer)
	v.SetDefault("registration.due_days", defaults.DueDays)
	v.SetDefault("registration.amount_tolerance", defaults.AmountTolerance)
	v.SetDefault("registration.stale_after", defaults.StaleAfter.String())
	v.SetDefault("registration.give_up_after", defaults.GiveUpAfter.String())
	v.SetDefault("registration.consent_text", defaults.ConsentText)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	policy, err := decodeRegistrationPolicy(v)
	if err != nil {
		return nil, err
	}

	holder := &RegistrationPolicyHolder{}
	holder.current.Store(policy)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeRegistrationPolicy(v)
			if err != nil {
				log.Warn("registration policy reload ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("registration policy reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *RegistrationPolicyHolder) Get() RegistrationPolicy {
	if h == nil {
		return DefaultRegistrationPolicy()
	}
	policy, ok := h.current.Load().(RegistrationPolicy)
	if !ok {
		return DefaultRegistrationPolicy()
	}
	return policy
}

func decodeRegistrationPolicy(v *viper.Viper) (RegistrationPolicy, error) {
	var file registrationFile
	if err := v.Unmarshal(&file); err != nil {
		return RegistrationPolicy{}, err
	}
	policy := file.Registration
	policy.Currency = strings.ToUpper(strings.TrimSpace(policy.Currency))
	if err := validateRegistrationPolicy(policy); err != nil {
		return RegistrationPolicy{}, err
	}
	return policy, nil
}

func validateRegistrationPolicy(p RegistrationPolicy) error {
	if p.FeePerSwimmer <= 0 {
		return errors.New("registration.fee_per_swimmer must be positive")
	}
	if len(p.Currency) != 3 {
		return errors.New("registration.currency must be an ISO 4217 code")
	}
	if p.DueDays <= 0 {
		return errors.New("registration.due_days must be positive")
	}
	if p.AmountTolerance < 0 {
		return errors.New("registration.amount_tolerance cannot be negative")
	}
	if p.StaleAfter <= 0 || p.GiveUpAfter <= p.StaleAfter {
		return errors.New("registration.give_up_after must exceed stale_after")
	}
	return nil
}
