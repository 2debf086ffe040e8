package ports

import (
	"context"

	"chinchon/internal/domain"
)

// SettlementPort commits the money movements of a match: the stake holds when it starts
// and the payout when it ends. Each is one transaction together with the match write.
type SettlementPort interface {
	// CommitStakes saves the started match (subject to its Version) and debits every hold.
	// Either all of it is applied or none of it.
	// Returns domain.ErrInsufficientBalance if a balance cannot cover its hold,
	// domain.ErrAccountNotFound for an unknown account and ErrConflict if the match
	// record changed since it was loaded.
	CommitStakes(ctx context.Context, m *domain.Match, holds []domain.AccountDelta) error

	// CommitSettlement saves the finished match (subject to its Version), credits
	// s.Payouts() with the stats of every delta, records the ledger rows and writes the
	// per-match settlement marker. Stakes were debited by CommitStakes, so no balance goes down.
	// Either all of it is applied or none of it.
	// Returns domain.ErrDoubleSettlement if the match was already settled and
	// ErrConflict if the match record changed since it was loaded.
	CommitSettlement(ctx context.Context, m *domain.Match, s domain.Settlement) error
}
