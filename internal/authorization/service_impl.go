package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/swimreg/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectInvoice = "invoice"
	ObjectReceipt = "receipt"
	ObjectSwimmer = "swimmer"
	ObjectAccount = "account"
)

const (
	ActionView = "view"
	ActionPay  = "pay"
	ActionLink = "link"
)

// Scopes appended to an action in stored policies.
const (
	scopeOwn = ".own"
	scopeAny = ".any"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor Actor, object string, action string, ownerID *snowflake.ID) error {
	if actor.AccountID == 0 {
		return ErrInvalidActor
	}
	roleName := strings.ToLower(strings.TrimSpace(actor.Role))
	if roleName == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := fmt.Sprintf("account:%s", actor.AccountID.String())
	if err := s.ensureGrouping(subject, "role:"+roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action+scopeAny)
	if err != nil {
		return err
	}
	if !allowed && ownerID != nil && *ownerID == actor.AccountID {
		allowed, err = s.enforcer.Enforce(subject, object, action+scopeOwn)
		if err != nil {
			return err
		}
	}
	if !allowed {
		s.auditDenied(ctx, actor, object, action)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping keeps exactly one role per subject.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actor Actor, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	actorID := actor.AccountID.String()
	targetID := object
	if err := s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeAccount), &actorID, auditdomain.ActionAuthorizationDenied, "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
		"role":   actor.Role,
	}); err != nil {
		s.log.Warn("failed to audit denied request", zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// parents act on their own records
		{"role:parent", ObjectInvoice, ActionView + scopeOwn},
		{"role:parent", ObjectInvoice, ActionPay + scopeOwn},
		{"role:parent", ObjectReceipt, ActionView + scopeOwn},
		{"role:parent", ObjectSwimmer, ActionView + scopeOwn},
		{"role:parent", ObjectAccount, ActionLink + scopeOwn},

		{"role:admin", ObjectInvoice, ActionView + scopeAny},
		{"role:admin", ObjectReceipt, ActionView + scopeAny},
		{"role:admin", ObjectSwimmer, ActionView + scopeAny},
		{"role:admin", ObjectInvoice, ActionPay + scopeOwn},
		{"role:admin", ObjectAccount, ActionLink + scopeOwn},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
