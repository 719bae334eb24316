package authz

import (
	"context"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/zap"

	"github.com/rl1809/stock-workflow/internal/core/domain"
	"github.com/rl1809/stock-workflow/internal/port"
)

const roleActionModel = `
[request_definition]
r = sub, act

[policy_definition]
p = sub, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.act == p.act
`

// DefaultPolicy grants each role the actions it may perform. Anything not
// listed is denied.
var DefaultPolicy = map[domain.Role][]domain.Action{
	domain.RoleEmployee: {
		domain.ActionListItems,
		domain.ActionCreateRequest,
		domain.ActionReadOwnRequests,
	},
	domain.RoleAdmin: {
		domain.ActionListItems,
		domain.ActionUploadStock,
		domain.ActionReadAllRequests,
		domain.ActionDecideRequest,
		domain.ActionCreateOrder,
		domain.ActionReadAllOrders,
		domain.ActionListAccounts,
		domain.ActionReadAuditLog,
	},
	domain.RoleSupplier: {
		domain.ActionAdvanceOrder,
		domain.ActionReadOwnOrders,
	},
}

// Gate is the central (role, action) check shared by every lifecycle service.
type Gate struct {
	enforcer *casbin.SyncedEnforcer
	logger   *zap.Logger
}

var _ port.Authorizer = (*Gate)(nil)

func NewGate(policy map[domain.Role][]domain.Action, logger *zap.Logger) (*Gate, error) {
	m, err := model.NewModelFromString(roleActionModel)
	if err != nil {
		return nil, fmt.Errorf("authz: parse model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authz: init enforcer: %w", err)
	}

	var rules [][]string
	for role, actions := range policy {
		for _, action := range actions {
			rules = append(rules, []string{string(role), string(action)})
		}
	}
	if len(rules) > 0 {
		if _, err := enforcer.AddPolicies(rules); err != nil {
			return nil, fmt.Errorf("authz: load policy: %w", err)
		}
	}

	return &Gate{enforcer: enforcer, logger: logger.Named("authz")}, nil
}

func (g *Gate) Authorize(ctx context.Context, account domain.Account, action domain.Action) error {
	if account.ID == "" {
		return fmt.Errorf("%w: no account", domain.ErrUnauthenticated)
	}

	allowed, err := g.enforcer.Enforce(string(account.Role), string(action))
	if err != nil {
		return fmt.Errorf("authz: enforce: %w", err)
	}
	if !allowed {
		g.logger.Warn("authz denied request",
			zap.String("account_id", account.ID),
			zap.String("role", string(account.Role)),
			zap.String("action", string(action)),
		)
		return fmt.Errorf("%w: role %q may not %s", domain.ErrForbidden, account.Role, action)
	}
	return nil
}
