package ports

import (
	"context"
	"errors"

	"chinchon/internal/domain"
)

// ErrConflict is returned when a save loses an optimistic concurrency race.
var ErrConflict = errors.New("concurrent write conflict")

// MatchFilter narrows a match listing.
type MatchFilter struct {
	// Status restricts the listing to one lifecycle stage. Empty lists every match.
	Status domain.Status
	Limit  int
}

// MatchStore persists match records as versioned documents.
type MatchStore interface {
	// LoadMatch returns the stored match with its Version set.
	// Returns domain.ErrMatchNotFound if no record exists.
	LoadMatch(ctx context.Context, matchID string) (*domain.Match, error)

	// SaveMatch writes m if the stored Version still equals m.Version.
	// An empty Version only succeeds when no record exists yet.
	// On success m.Version is updated to the new token.
	// Returns ErrConflict when the stored record moved on.
	SaveMatch(ctx context.Context, m *domain.Match) error

	// ListMatches returns stored matches, newest first.
	ListMatches(ctx context.Context, filter MatchFilter) ([]*domain.Match, error)
}
