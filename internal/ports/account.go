package ports

import (
	"context"

	"chinchon/internal/domain"
)

// AccountPort defines the interface for reading and mutating account balances.
type AccountPort interface {
	// LoadAccount returns the account balance and stats.
	// Returns domain.ErrAccountNotFound if the account does not exist.
	LoadAccount(ctx context.Context, accountID string) (domain.Account, error)

	// ApplyAccountDelta increments the balance and stats of one account atomically.
	// Implementations must apply the delta as an increment, never as a blind overwrite.
	// Returns domain.ErrAccountNotFound if the account does not exist.
	ApplyAccountDelta(ctx context.Context, delta domain.AccountDelta) error
}
