package domain

import "time"

// Status is the lifecycle stage of a match.
type Status string

const (
	// StatusWaiting means the host is seated and the second seat is open.
	StatusWaiting Status = "waiting"
	// StatusPlaying means cards are dealt and turns are running.
	StatusPlaying Status = "playing"
	// StatusFinished means the match was closed and settled.
	StatusFinished Status = "finished"
)

// Phase is the step within the current player's turn.
type Phase string

const (
	// PhaseDraw expects a draw from the stock or the discard pile.
	PhaseDraw Phase = "draw"
	// PhaseDiscard expects a discard (or a close).
	PhaseDiscard Phase = "discard"
)

// EndReason records how a match left PLAYING.
type EndReason string

const (
	EndClosed  EndReason = "closed"
	EndForfeit EndReason = "forfeit"
)

// GameState is the card layout of a match in play.
type GameState struct {
	// Stock draws from the front.
	Stock []Card `json:"stock"`
	// Discard has its top card last.
	Discard       []Card            `json:"discard_pile"`
	Hands         map[string][]Card `json:"hands"`
	CurrentTurn   string            `json:"current_turn"`
	Phase         Phase             `json:"phase"`
	TurnStartTime time.Time         `json:"turn_start_time"`
	TurnNumber    int               `json:"turn_number"`
}

// Match is the authoritative record of one two-player session.
type Match struct {
	ID           string     `json:"id"`
	HostID       string     `json:"host_id"`
	TargetPoints int        `json:"target_points"`
	StakeAmount  int64      `json:"stake_amount"`
	Status       Status     `json:"status"`
	Players      []string   `json:"players"`
	WinnerID     string     `json:"winner_id,omitempty"`
	GameState    *GameState `json:"game_state,omitempty"`

	// Channel is the realtime room the match broadcasts to, when one exists.
	Channel string `json:"channel,omitempty"`

	EndReason  EndReason   `json:"end_reason,omitempty"`
	Closure    *MeldResult `json:"closure,omitempty"`
	Settlement *Settlement `json:"settlement,omitempty"`

	Faulted     bool   `json:"faulted,omitempty"`
	FaultReason string `json:"fault_reason,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	// Version is the store's optimistic concurrency token. Empty means not yet stored.
	Version string `json:"-"`
}
