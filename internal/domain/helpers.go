package domain

import "fmt"

// HasPlayer reports whether userID holds a seat.
func (m *Match) HasPlayer(userID string) bool {
	for _, p := range m.Players {
		if p == userID {
			return true
		}
	}
	return false
}

// Opponent returns the other seated player, or "" if there is none.
func (m *Match) Opponent(userID string) string {
	for _, p := range m.Players {
		if p != userID {
			return p
		}
	}
	return ""
}

// CardCount returns |stock| + |discard| + Σ|hands|.
func (m *Match) CardCount() int {
	if m.GameState == nil {
		return 0
	}
	gs := m.GameState
	n := len(gs.Stock) + len(gs.Discard)
	for _, h := range gs.Hands {
		n += len(h)
	}
	return n
}

// CheckInvariants verifies the card layout of a match in play.
func (m *Match) CheckInvariants() error {
	if m.Status != StatusPlaying && m.Status != StatusFinished {
		return nil
	}
	if m.GameState == nil {
		return fmt.Errorf("%w: %s match without game state", ErrInvariantViolated, m.Status)
	}
	if n := m.CardCount(); n != DeckSize {
		return fmt.Errorf("%w: %d cards in play", ErrInvariantViolated, n)
	}
	seen := make(map[string]bool, DeckSize)
	check := func(cards []Card) error {
		for _, c := range cards {
			if seen[c.ID] {
				return fmt.Errorf("%w: duplicate card %s", ErrInvariantViolated, c.ID)
			}
			seen[c.ID] = true
		}
		return nil
	}
	gs := m.GameState
	if err := check(gs.Stock); err != nil {
		return err
	}
	if err := check(gs.Discard); err != nil {
		return err
	}
	for _, h := range gs.Hands {
		if err := check(h); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy that can be mutated without touching m.
func (m *Match) Clone() *Match {
	out := *m
	out.Players = append([]string(nil), m.Players...)
	if m.GameState != nil {
		gs := *m.GameState
		gs.Stock = append([]Card(nil), m.GameState.Stock...)
		gs.Discard = append([]Card(nil), m.GameState.Discard...)
		gs.Hands = make(map[string][]Card, len(m.GameState.Hands))
		for id, h := range m.GameState.Hands {
			gs.Hands[id] = append([]Card(nil), h...)
		}
		out.GameState = &gs
	}
	if m.Closure != nil {
		c := *m.Closure
		out.Closure = &c
	}
	if m.Settlement != nil {
		s := *m.Settlement
		s.Deltas = append([]AccountDelta(nil), m.Settlement.Deltas...)
		out.Settlement = &s
	}
	return &out
}

// TopDiscard returns the most recently discarded card.
func (gs *GameState) TopDiscard() (Card, bool) {
	if len(gs.Discard) == 0 {
		return Card{}, false
	}
	return gs.Discard[len(gs.Discard)-1], true
}

// FindCard returns the index of cardID in hand, or -1.
func FindCard(hand []Card, cardID string) int {
	for i, c := range hand {
		if c.ID == cardID {
			return i
		}
	}
	return -1
}

// RemoveCard returns hand without the card at index i.
func RemoveCard(hand []Card, i int) []Card {
	out := make([]Card, 0, len(hand)-1)
	out = append(out, hand[:i]...)
	return append(out, hand[i+1:]...)
}

// PlayerView is the match as one seat is allowed to see it.
type PlayerView struct {
	MatchID       string         `json:"match_id"`
	Status        Status         `json:"status"`
	StakeAmount   int64          `json:"stake_amount"`
	TargetPoints  int            `json:"target_points"`
	Players       []string       `json:"players"`
	WinnerID      string         `json:"winner_id,omitempty"`
	EndReason     EndReason      `json:"end_reason,omitempty"`
	CurrentTurn   string         `json:"current_turn,omitempty"`
	Phase         Phase          `json:"phase,omitempty"`
	TurnNumber    int            `json:"turn_number"`
	TurnStartUnix int64          `json:"turn_start_unix,omitempty"`
	Hand          []Card         `json:"hand,omitempty"`
	HandSizes     map[string]int `json:"hand_sizes,omitempty"`
	StockSize     int            `json:"stock_size"`
	Discard       []Card         `json:"discard_pile,omitempty"`
	Closure       *MeldResult    `json:"closure,omitempty"`
}

// ViewFor builds the redacted view for viewerID. An empty viewerID yields the public view.
// The winner's closing hand is part of the closure and visible to everyone.
func (m *Match) ViewFor(viewerID string) PlayerView {
	v := PlayerView{
		MatchID:      m.ID,
		Status:       m.Status,
		StakeAmount:  m.StakeAmount,
		TargetPoints: m.TargetPoints,
		Players:      append([]string(nil), m.Players...),
		WinnerID:     m.WinnerID,
		EndReason:    m.EndReason,
		Closure:      m.Closure,
	}
	gs := m.GameState
	if gs == nil {
		return v
	}
	v.CurrentTurn = gs.CurrentTurn
	v.Phase = gs.Phase
	v.TurnNumber = gs.TurnNumber
	if !gs.TurnStartTime.IsZero() {
		v.TurnStartUnix = gs.TurnStartTime.Unix()
	}
	v.StockSize = len(gs.Stock)
	v.Discard = append([]Card(nil), gs.Discard...)
	v.HandSizes = make(map[string]int, len(gs.Hands))
	for id, h := range gs.Hands {
		v.HandSizes[id] = len(h)
	}
	if viewerID != "" {
		v.Hand = append([]Card(nil), gs.Hands[viewerID]...)
	}
	return v
}
