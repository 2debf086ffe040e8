package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"chinchon/internal/domain"
	"chinchon/internal/lock"
	"chinchon/internal/ports"
)

// memStore is an in-memory MatchStore, AccountPort and SettlementPort.
type memStore struct {
	mu        sync.Mutex
	matches   map[string][]byte
	versions  map[string]int
	accounts  map[string]domain.Account
	settled   map[string]bool
	failSaves int
	saves     int
}

func newMemStore(balances map[string]int64) *memStore {
	s := &memStore{
		matches:  make(map[string][]byte),
		versions: make(map[string]int),
		accounts: make(map[string]domain.Account),
		settled:  make(map[string]bool),
	}
	for id, b := range balances {
		s.accounts[id] = domain.Account{ID: id, Balance: b}
	}
	return s
}

func (s *memStore) LoadMatch(ctx context.Context, id string) (*domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id)
}

func (s *memStore) loadLocked(id string) (*domain.Match, error) {
	data, ok := s.matches[id]
	if !ok {
		return nil, domain.ErrMatchNotFound
	}
	var m domain.Match
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	m.Version = strconv.Itoa(s.versions[id])
	return &m, nil
}

func (s *memStore) SaveMatch(ctx context.Context, m *domain.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.failSaves > 0 {
		s.failSaves--
		return ports.ErrConflict
	}
	return s.saveLocked(m)
}

func (s *memStore) saveLocked(m *domain.Match) error {
	current, exists := s.versions[m.ID]
	if m.Version == "" && exists {
		return ports.ErrConflict
	}
	if m.Version != "" && m.Version != strconv.Itoa(current) {
		return ports.ErrConflict
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	s.matches[m.ID] = data
	s.versions[m.ID] = current + 1
	m.Version = strconv.Itoa(current + 1)
	return nil
}

func (s *memStore) ListMatches(ctx context.Context, filter ports.MatchFilter) ([]*domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Match
	for id := range s.matches {
		m, err := s.loadLocked(id)
		if err != nil {
			return nil, err
		}
		if filter.Status != "" && m.Status != filter.Status {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memStore) LoadAccount(ctx context.Context, id string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return acc, nil
}

func (s *memStore) ApplyAccountDelta(ctx context.Context, delta domain.AccountDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[delta.AccountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	s.accounts[delta.AccountID] = acc.Apply(delta)
	return nil
}

func (s *memStore) CommitStakes(ctx context.Context, m *domain.Match, holds []domain.AccountDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range holds {
		acc, ok := s.accounts[h.AccountID]
		if !ok {
			return domain.ErrAccountNotFound
		}
		if acc.Balance+h.Balance < 0 {
			return fmt.Errorf("%w: %s", domain.ErrInsufficientBalance, h.AccountID)
		}
	}
	if err := s.saveLocked(m); err != nil {
		return err
	}
	for _, h := range holds {
		s.accounts[h.AccountID] = s.accounts[h.AccountID].Apply(h)
	}
	return nil
}

func (s *memStore) CommitSettlement(ctx context.Context, m *domain.Match, st domain.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled[st.MatchID] {
		return domain.ErrDoubleSettlement
	}
	for _, d := range st.Deltas {
		if _, ok := s.accounts[d.AccountID]; !ok {
			return domain.ErrAccountNotFound
		}
	}
	if err := s.saveLocked(m); err != nil {
		return err
	}
	for _, d := range st.Payouts() {
		s.accounts[d.AccountID] = s.accounts[d.AccountID].Apply(d)
	}
	s.settled[st.MatchID] = true
	return nil
}

func (s *memStore) account(id string) domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id]
}

func (s *memStore) version(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[id]
}

// put overwrites a stored match, bypassing version checks.
func (s *memStore) put(t *testing.T, m *domain.Match) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal match: %v", err)
	}
	s.matches[m.ID] = data
	s.versions[m.ID]++
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []Update
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, u Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates)
}

var testPolicy = domain.SettlementPolicy{CommissionRate: 0.05}

var t0 = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

func newTestService(seed int64) *Service {
	svc := NewService(rand.New(rand.NewSource(seed)), testPolicy)
	svc.SetClock(func() time.Time { return t0 })
	return svc
}

func newTestEngine(store *memStore, pub Publisher, opts EngineOptions) *Engine {
	e := NewEngine(EngineDeps{
		Service:     newTestService(11),
		Matches:     store,
		Accounts:    store,
		Settlements: store,
		Locker:      lock.NewLocal(),
		Publisher:   pub,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, opts)
	seq := 0
	e.newID = func() string {
		seq++
		return fmt.Sprintf("match-%d", seq)
	}
	return e
}

// c builds a card from a suit and a rank.
func c(suit domain.Suit, rank domain.Rank) domain.Card {
	return domain.NewCard(suit, rank)
}

// rigged builds a PLAYING match where a and b hold the given hands and a is to draw.
// The rest of the deck goes to one discard and the stock, so all 40 cards are accounted for.
func rigged(t *testing.T, handA, handB []domain.Card) *domain.Match {
	t.Helper()
	used := make(map[string]bool)
	for _, card := range append(append([]domain.Card(nil), handA...), handB...) {
		if used[card.ID] {
			t.Fatalf("card %s dealt twice", card.ID)
		}
		used[card.ID] = true
	}
	var rest []domain.Card
	for _, card := range domain.NewDeck() {
		if !used[card.ID] {
			rest = append(rest, card)
		}
	}
	m := &domain.Match{
		ID:           "rigged",
		HostID:       "a",
		TargetPoints: 100,
		StakeAmount:  100,
		Status:       domain.StatusPlaying,
		Players:      []string{"a", "b"},
		GameState: &domain.GameState{
			Discard:       rest[:1],
			Stock:         rest[1:],
			Hands:         map[string][]domain.Card{"a": handA, "b": handB},
			CurrentTurn:   "a",
			Phase:         domain.PhaseDraw,
			TurnStartTime: t0,
			TurnNumber:    1,
		},
		CreatedAt: t0,
	}
	if err := m.CheckInvariants(); err != nil {
		t.Fatalf("rigged match invalid: %v", err)
	}
	return m
}

// moveToStockFront puts cardID at the front of the stock.
func moveToStockFront(t *testing.T, m *domain.Match, cardID string) {
	t.Helper()
	gs := m.GameState
	i := domain.FindCard(gs.Stock, cardID)
	if i < 0 {
		t.Fatalf("%s not in stock", cardID)
	}
	gs.Stock[0], gs.Stock[i] = gs.Stock[i], gs.Stock[0]
}
