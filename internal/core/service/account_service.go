package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rl1809/stock-workflow/internal/core/domain"
	"github.com/rl1809/stock-workflow/internal/port"
)

// AccountService resolves callers to accounts. Accounts are provisioned
// outside the engine and only read here.
type AccountService struct {
	store port.Store
	authz port.Authorizer
}

func NewAccountService(store port.Store, authz port.Authorizer) *AccountService {
	return &AccountService{store: store, authz: authz}
}

func (s *AccountService) Resolve(ctx context.Context, accountID string) (domain.Account, error) {
	if accountID == "" {
		return domain.Account{}, fmt.Errorf("%w: missing account id", domain.ErrUnauthenticated)
	}
	acc, err := s.store.GetAccount(ctx, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Account{}, fmt.Errorf("%w: unknown account %s", domain.ErrUnauthenticated, accountID)
	}
	if err != nil {
		return domain.Account{}, err
	}
	return acc, nil
}

// ListByRole lists accounts holding role, or every account when role is empty.
func (s *AccountService) ListByRole(ctx context.Context, caller domain.Account, role domain.Role) ([]domain.Account, error) {
	if err := s.authz.Authorize(ctx, caller, domain.ActionListAccounts); err != nil {
		return nil, err
	}
	if role != "" && !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, role)
	}
	return s.store.ListAccounts(ctx, role)
}
