package app

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"chinchon/internal/domain"
)

// Service contains the Chinchón turn state machine operating on domain state.
// Every method validates before it mutates, so a rejected action leaves the match untouched.
type Service struct {
	mu     sync.Mutex
	rng    *rand.Rand
	policy domain.SettlementPolicy
	now    func() time.Time
}

// NewService constructs a Service with provided rng or a time-seeded default.
func NewService(rng *rand.Rand, policy domain.SettlementPolicy) *Service {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Service{rng: rng, policy: policy, now: time.Now}
}

// SetClock replaces the time source used for turn timestamps.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Policy returns the settlement parameters the service applies on close.
func (s *Service) Policy() domain.SettlementPolicy {
	return s.policy
}

// CreateMatchRequest describes a new match.
type CreateMatchRequest struct {
	// ID is optional; the engine generates one when empty.
	ID           string
	HostID       string
	TargetPoints int
	StakeAmount  int64
	// Channel is the realtime room bound to the match, if any.
	Channel string
}

// CreateMatch builds a WAITING match with the host seated.
func (s *Service) CreateMatch(req CreateMatchRequest, hostBalance int64) (*domain.Match, []Event, error) {
	if req.ID == "" || req.HostID == "" {
		return nil, nil, fmt.Errorf("%w: match id and host are required", domain.ErrIllegalAction)
	}
	if req.StakeAmount <= 0 {
		return nil, nil, fmt.Errorf("%w: stake must be positive", domain.ErrIllegalAction)
	}
	if req.TargetPoints <= 0 {
		return nil, nil, fmt.Errorf("%w: target points must be positive", domain.ErrIllegalAction)
	}
	if hostBalance < req.StakeAmount {
		return nil, nil, fmt.Errorf("%w: balance %d below stake %d", domain.ErrInsufficientBalance, hostBalance, req.StakeAmount)
	}

	m := &domain.Match{
		ID:           req.ID,
		HostID:       req.HostID,
		TargetPoints: req.TargetPoints,
		StakeAmount:  req.StakeAmount,
		Status:       domain.StatusWaiting,
		Players:      []string{req.HostID},
		Channel:      req.Channel,
		CreatedAt:    s.now().UTC(),
	}
	return m, []Event{{
		Kind: EventMatchCreated,
		Payload: MatchCreatedPayload{
			MatchID:      m.ID,
			HostID:       m.HostID,
			StakeAmount:  m.StakeAmount,
			TargetPoints: m.TargetPoints,
		},
	}}, nil
}

// Join seats the second player, deals and starts the match.
func (s *Service) Join(m *domain.Match, userID string, balance int64) ([]Event, error) {
	if m.Faulted {
		return nil, domain.ErrMatchFaulted
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrIllegalAction)
	}
	if m.HasPlayer(userID) {
		return nil, fmt.Errorf("%w: already seated", domain.ErrIllegalAction)
	}
	if len(m.Players) >= domain.PlayersPerMatch {
		return nil, domain.ErrMatchFull
	}
	if m.Status != domain.StatusWaiting {
		return nil, fmt.Errorf("%w: match is %s", domain.ErrIllegalAction, m.Status)
	}
	if len(m.Players) != 1 {
		return nil, fmt.Errorf("%w: match has no host seated", domain.ErrIllegalAction)
	}
	if balance < m.StakeAmount {
		return nil, fmt.Errorf("%w: balance %d below stake %d", domain.ErrInsufficientBalance, balance, m.StakeAmount)
	}

	deal, err := domain.DealDeck(s.shuffle(domain.NewDeck()))
	if err != nil {
		return nil, err
	}

	host := m.Players[0]
	m.Players = append(m.Players, userID)
	m.Status = domain.StatusPlaying
	m.GameState = &domain.GameState{
		Stock:   deal.Stock,
		Discard: deal.Discard,
		Hands: map[string][]domain.Card{
			host:   deal.HandA,
			userID: deal.HandB,
		},
		CurrentTurn:   host,
		Phase:         domain.PhaseDraw,
		TurnStartTime: s.now().UTC(),
		TurnNumber:    1,
	}

	events := []Event{{Kind: EventPlayerJoined, Payload: PlayerJoinedPayload{UserID: userID}}}
	for _, p := range m.Players {
		events = append(events, Event{
			Kind:       EventHandDealt,
			Payload:    HandDealtPayload{UserID: p, Hand: append([]domain.Card(nil), m.GameState.Hands[p]...)},
			Recipients: []string{p},
		})
	}
	top, _ := m.GameState.TopDiscard()
	events = append(events, Event{
		Kind: EventGameStarted,
		Payload: GameStartedPayload{
			FirstTurnUserID: host,
			TopDiscard:      top,
			StockSize:       len(m.GameState.Stock),
		},
	})
	return events, nil
}

// DrawStock moves the front card of the stock into the acting player's hand.
func (s *Service) DrawStock(m *domain.Match, userID string) ([]Event, error) {
	if err := requireTurn(m, userID, domain.PhaseDraw); err != nil {
		return nil, err
	}
	gs := m.GameState
	if len(gs.Stock) == 0 {
		return nil, fmt.Errorf("%w: stock", domain.ErrEmptyPile)
	}

	card := gs.Stock[0]
	gs.Stock = gs.Stock[1:]
	gs.Hands[userID] = append(gs.Hands[userID], card)
	gs.Phase = domain.PhaseDiscard

	return []Event{
		{
			Kind:       EventCardDrawn,
			Payload:    CardDrawnPayload{UserID: userID, Source: SourceStock, Card: &card},
			Recipients: []string{userID},
		},
		{
			Kind:       EventCardDrawn,
			Payload:    CardDrawnPayload{UserID: userID, Source: SourceStock},
			Recipients: []string{m.Opponent(userID)},
		},
	}, nil
}

// DrawDiscard moves the top discard into the acting player's hand.
func (s *Service) DrawDiscard(m *domain.Match, userID string) ([]Event, error) {
	if err := requireTurn(m, userID, domain.PhaseDraw); err != nil {
		return nil, err
	}
	gs := m.GameState
	card, ok := gs.TopDiscard()
	if !ok {
		return nil, fmt.Errorf("%w: discard pile", domain.ErrEmptyPile)
	}

	gs.Discard = gs.Discard[:len(gs.Discard)-1]
	gs.Hands[userID] = append(gs.Hands[userID], card)
	gs.Phase = domain.PhaseDiscard

	return []Event{{
		Kind:    EventCardDrawn,
		Payload: CardDrawnPayload{UserID: userID, Source: SourceDiscard, Card: &card},
	}}, nil
}

// Discard lays cardID on the discard pile and passes the turn.
func (s *Service) Discard(m *domain.Match, userID, cardID string) ([]Event, error) {
	if err := requireTurn(m, userID, domain.PhaseDiscard); err != nil {
		return nil, err
	}
	gs := m.GameState
	idx := domain.FindCard(gs.Hands[userID], cardID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrCardNotFound, cardID)
	}

	card := gs.Hands[userID][idx]
	gs.Hands[userID] = domain.RemoveCard(gs.Hands[userID], idx)
	gs.Discard = append(gs.Discard, card)
	s.passTurn(m)

	return []Event{{
		Kind:    EventCardDiscarded,
		Payload: CardDiscardedPayload{UserID: userID, Card: card, NextTurnUserID: gs.CurrentTurn},
	}}, nil
}

// Close ends the match in favour of the acting player.
// With discardCardID set, the closer holds eight cards and lays that card down
// before the remaining seven are scored.
func (s *Service) Close(m *domain.Match, userID, discardCardID string) ([]Event, error) {
	if err := requireTurn(m, userID, ""); err != nil {
		return nil, err
	}
	gs := m.GameState
	hand := gs.Hands[userID]
	if len(hand) != domain.HandSize && len(hand) != domain.MaxHandSize {
		return nil, fmt.Errorf("%w: hand holds %d cards", domain.ErrIllegalAction, len(hand))
	}

	var discarded *domain.Card
	scored := hand
	if discardCardID != "" {
		if len(hand) != domain.MaxHandSize {
			return nil, fmt.Errorf("%w: closing with a discard needs %d cards", domain.ErrIllegalAction, domain.MaxHandSize)
		}
		idx := domain.FindCard(hand, discardCardID)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrCardNotFound, discardCardID)
		}
		card := hand[idx]
		discarded = &card
		scored = domain.RemoveCard(hand, idx)
	}

	result := domain.BestMelds(scored)
	if !result.CanClose() {
		return nil, fmt.Errorf("%w: %d unmelded points", domain.ErrCannotClose, result.UnmeldedPoints)
	}

	settlement, err := domain.CalculateSettlement(m.ID, m.StakeAmount, userID, m.Opponent(userID), result.Perfect, s.policy)
	if err != nil {
		return nil, err
	}

	if discarded != nil {
		gs.Hands[userID] = scored
		gs.Discard = append(gs.Discard, *discarded)
	}
	return s.finish(m, settlement, domain.EndClosed, &result, discarded), nil
}

// Forfeit ends the match against loserID without a closure.
func (s *Service) Forfeit(m *domain.Match, loserID string) ([]Event, error) {
	if m.Faulted {
		return nil, domain.ErrMatchFaulted
	}
	if m.Status != domain.StatusPlaying {
		return nil, fmt.Errorf("%w: match is %s", domain.ErrIllegalAction, m.Status)
	}
	if !m.HasPlayer(loserID) {
		return nil, fmt.Errorf("%w: %s is not seated", domain.ErrIllegalAction, loserID)
	}
	settlement, err := domain.CalculateSettlement(m.ID, m.StakeAmount, m.Opponent(loserID), loserID, false, s.policy)
	if err != nil {
		return nil, err
	}
	return s.finish(m, settlement, domain.EndForfeit, nil, nil), nil
}

// AutoPlay completes the current turn on behalf of the player to move:
// it draws if needed, then discards the costliest card left outside the best melds.
func (s *Service) AutoPlay(m *domain.Match) ([]Event, error) {
	if m.Faulted {
		return nil, domain.ErrMatchFaulted
	}
	if m.Status != domain.StatusPlaying || m.GameState == nil {
		return nil, fmt.Errorf("%w: match is %s", domain.ErrIllegalAction, m.Status)
	}
	gs := m.GameState
	userID := gs.CurrentTurn

	var events []Event
	if gs.Phase == domain.PhaseDraw {
		var (
			drawn []Event
			err   error
		)
		if len(gs.Stock) > 0 {
			drawn, err = s.DrawStock(m, userID)
		} else {
			drawn, err = s.DrawDiscard(m, userID)
		}
		if err != nil {
			return nil, err
		}
		events = append(events, drawn...)
	}

	card, ok := autoDiscardChoice(gs.Hands[userID])
	if !ok {
		return nil, fmt.Errorf("%w: empty hand", domain.ErrIllegalAction)
	}
	discarded, err := s.Discard(m, userID, card.ID)
	if err != nil {
		return nil, err
	}
	return append(events, discarded...), nil
}

// autoDiscardChoice picks the highest-value unmelded card, lowest id on ties.
// A fully melded hand gives up its highest-value card instead.
func autoDiscardChoice(hand []domain.Card) (domain.Card, bool) {
	candidates := domain.BestMelds(hand).Unmelded
	if len(candidates) == 0 {
		candidates = hand
	}
	if len(candidates) == 0 {
		return domain.Card{}, false
	}
	sorted := append([]domain.Card(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Value() != sorted[j].Value() {
			return sorted[i].Value() > sorted[j].Value()
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[0], true
}

// TurnExpired reports whether the current turn has run past timeout at now.
func TurnExpired(m *domain.Match, now time.Time, timeout time.Duration) bool {
	if timeout <= 0 || m.Status != domain.StatusPlaying || m.GameState == nil {
		return false
	}
	return !now.Before(m.GameState.TurnStartTime.Add(timeout))
}

func (s *Service) finish(m *domain.Match, settlement domain.Settlement, reason domain.EndReason, closure *domain.MeldResult, discarded *domain.Card) []Event {
	m.Status = domain.StatusFinished
	m.WinnerID = settlement.WinnerID
	m.EndReason = reason
	m.Closure = closure
	m.Settlement = &settlement
	m.FinishedAt = s.now().UTC()

	return []Event{
		{
			Kind: EventMatchClosed,
			Payload: MatchClosedPayload{
				WinnerID:  settlement.WinnerID,
				LoserID:   settlement.LoserID,
				Reason:    reason,
				Closure:   closure,
				Discarded: discarded,
			},
		},
		{
			Kind:    EventMatchSettled,
			Payload: MatchSettledPayload{Settlement: settlement},
		},
	}
}

func (s *Service) passTurn(m *domain.Match) {
	gs := m.GameState
	gs.CurrentTurn = m.Opponent(gs.CurrentTurn)
	gs.Phase = domain.PhaseDraw
	gs.TurnStartTime = s.now().UTC()
	gs.TurnNumber++
}

func (s *Service) shuffle(deck []domain.Card) []domain.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.ShuffleDeck(deck, s.rng)
}

// requireTurn checks that userID may act now. An empty phase accepts either phase.
func requireTurn(m *domain.Match, userID string, phase domain.Phase) error {
	if m.Faulted {
		return domain.ErrMatchFaulted
	}
	if m.Status != domain.StatusPlaying || m.GameState == nil {
		return fmt.Errorf("%w: match is %s", domain.ErrIllegalAction, m.Status)
	}
	if !m.HasPlayer(userID) {
		return fmt.Errorf("%w: %s is not seated", domain.ErrIllegalAction, userID)
	}
	if m.GameState.CurrentTurn != userID {
		return fmt.Errorf("%w: not your turn", domain.ErrIllegalAction)
	}
	if phase != "" && m.GameState.Phase != phase {
		return fmt.Errorf("%w: expected %s phase, in %s", domain.ErrIllegalAction, phase, m.GameState.Phase)
	}
	return nil
}
