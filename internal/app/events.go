package app

import "chinchon/internal/domain"

// EventKind identifies emitted domain events for realtime dispatch.
type EventKind string

const (
	EventMatchCreated  EventKind = "match_created"
	EventPlayerJoined  EventKind = "player_joined"
	EventGameStarted   EventKind = "game_started"
	EventHandDealt     EventKind = "hand_dealt"
	EventCardDrawn     EventKind = "card_drawn"
	EventCardDiscarded EventKind = "card_discarded"
	EventTurnExpired   EventKind = "turn_expired"
	EventMatchClosed   EventKind = "match_closed"
	EventMatchSettled  EventKind = "match_settled"
	EventMatchFaulted  EventKind = "match_faulted"
)

// Event is a domain/app event with optional targeted recipients.
type Event struct {
	Kind       EventKind `json:"kind"`
	Payload    any       `json:"payload"`
	Recipients []string  `json:"-"` // user IDs; empty means broadcast
}

type MatchCreatedPayload struct {
	MatchID      string `json:"match_id"`
	HostID       string `json:"host_id"`
	StakeAmount  int64  `json:"stake_amount"`
	TargetPoints int    `json:"target_points"`
}

type PlayerJoinedPayload struct {
	UserID string `json:"user_id"`
}

type GameStartedPayload struct {
	FirstTurnUserID string      `json:"first_turn_user_id"`
	TopDiscard      domain.Card `json:"top_discard"`
	StockSize       int         `json:"stock_size"`
}

type HandDealtPayload struct {
	UserID string        `json:"user_id"`
	Hand   []domain.Card `json:"hand"`
}

// CardDrawnPayload reports a draw. Card is empty when the recipient may not see a stock draw.
type CardDrawnPayload struct {
	UserID string       `json:"user_id"`
	Source string       `json:"source"`
	Card   *domain.Card `json:"card,omitempty"`
}

type CardDiscardedPayload struct {
	UserID         string      `json:"user_id"`
	Card           domain.Card `json:"card"`
	NextTurnUserID string      `json:"next_turn_user_id"`
}

type TurnExpiredPayload struct {
	UserID string `json:"user_id"`
	Action string `json:"action"`
}

type MatchClosedPayload struct {
	WinnerID string             `json:"winner_id"`
	LoserID  string             `json:"loser_id"`
	Reason   domain.EndReason   `json:"reason"`
	Closure  *domain.MeldResult `json:"closure,omitempty"`
	// Discarded is the card laid down while closing, if any.
	Discarded *domain.Card `json:"discarded,omitempty"`
}

type MatchSettledPayload struct {
	Settlement domain.Settlement `json:"settlement"`
}

type MatchFaultedPayload struct {
	Reason string `json:"reason"`
}
