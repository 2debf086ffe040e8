package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chinchon/internal/config"
	"chinchon/internal/domain"
	"chinchon/internal/ports"

	"github.com/google/uuid"
)

// Update is the authoritative snapshot published after an accepted action.
type Update struct {
	MatchID string
	Match   *domain.Match
	Events  []Event
}

// Publisher delivers updates to the subscribers of a match. Delivery is fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, update Update) error
}

// EngineDeps are the collaborators of an Engine.
type EngineDeps struct {
	Service     *Service
	Matches     ports.MatchStore
	Accounts    ports.AccountPort
	Settlements ports.SettlementPort
	Locker      ports.Locker
	Publisher   Publisher
	Logger      *slog.Logger
}

// EngineOptions tune retries and the turn timeout policy.
type EngineOptions struct {
	MaxConflictRetries int
	TurnTimeout        time.Duration
	TimeoutAction      string
}

// Engine serializes actions per match, persists them and settles finished matches.
type Engine struct {
	svc         *Service
	matches     ports.MatchStore
	accounts    ports.AccountPort
	settlements ports.SettlementPort
	locker      ports.Locker
	publisher   Publisher
	logger      *slog.Logger
	opts        EngineOptions
	newID       func() string
}

// NewEngine wires an Engine. Publisher and Logger may be nil.
func NewEngine(deps EngineDeps, opts EngineOptions) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxConflictRetries < 0 {
		opts.MaxConflictRetries = 0
	}
	if opts.TimeoutAction == "" {
		opts.TimeoutAction = config.TimeoutActionAutoDiscard
	}
	return &Engine{
		svc:         deps.Service,
		matches:     deps.Matches,
		accounts:    deps.Accounts,
		settlements: deps.Settlements,
		locker:      deps.Locker,
		publisher:   deps.Publisher,
		logger:      logger,
		opts:        opts,
		newID:       uuid.NewString,
	}
}

// WithPublisher returns a copy of e that publishes through p.
func (e *Engine) WithPublisher(p Publisher) *Engine {
	cp := *e
	cp.publisher = p
	return &cp
}

// TurnTimeout returns how long a turn may last before the default action applies. Zero disables it.
func (e *Engine) TurnTimeout() time.Duration {
	return e.opts.TurnTimeout
}

// OptionsFromConfig maps the game config onto engine options.
func OptionsFromConfig(c config.GameConfig) EngineOptions {
	return EngineOptions{
		MaxConflictRetries: c.MaxConflictRetries,
		TurnTimeout:        c.TurnTimeout(),
		TimeoutAction:      c.TimeoutAction,
	}
}

// CreateMatch stores a new WAITING match hosted by req.HostID.
func (e *Engine) CreateMatch(ctx context.Context, req CreateMatchRequest) (*domain.Match, error) {
	if req.ID == "" {
		req.ID = e.newID()
	}
	host, err := e.accounts.LoadAccount(ctx, req.HostID)
	if err != nil {
		return nil, err
	}
	m, events, err := e.svc.CreateMatch(req, host.Balance)
	if err != nil {
		return nil, err
	}

	release, err := e.locker.Acquire(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	err = e.matches.SaveMatch(ctx, m)
	release()
	if errors.Is(err, ports.ErrConflict) {
		return nil, fmt.Errorf("%w: match %s already exists", domain.ErrIllegalAction, m.ID)
	}
	if err != nil {
		return nil, err
	}

	e.logger.Info("match created", "match_id", m.ID, "host_id", m.HostID, "stake", m.StakeAmount)
	e.publish(ctx, m, events)
	return m.Clone(), nil
}

// Join seats userID as the second player and starts the match.
// Both stakes are held in the same commit, so the payout at close can never overdraw.
func (e *Engine) Join(ctx context.Context, matchID, userID string) (*domain.Match, error) {
	return e.apply(ctx, matchID, "join", func(m *domain.Match) ([]Event, error) {
		var balance int64
		// Rejections that need no account lookup are reported first.
		if m.Status == domain.StatusWaiting && !m.HasPlayer(userID) && len(m.Players) < domain.PlayersPerMatch {
			acc, err := e.accounts.LoadAccount(ctx, userID)
			if err != nil {
				return nil, err
			}
			balance = acc.Balance
		}
		return e.svc.Join(m, userID, balance)
	})
}

// DrawStock draws the front stock card for userID.
func (e *Engine) DrawStock(ctx context.Context, matchID, userID string) (*domain.Match, error) {
	return e.apply(ctx, matchID, "draw_stock", func(m *domain.Match) ([]Event, error) {
		return e.svc.DrawStock(m, userID)
	})
}

// DrawDiscard draws the top discard for userID.
func (e *Engine) DrawDiscard(ctx context.Context, matchID, userID string) (*domain.Match, error) {
	return e.apply(ctx, matchID, "draw_discard", func(m *domain.Match) ([]Event, error) {
		return e.svc.DrawDiscard(m, userID)
	})
}

// Discard lays cardID down and passes the turn.
func (e *Engine) Discard(ctx context.Context, matchID, userID, cardID string) (*domain.Match, error) {
	return e.apply(ctx, matchID, "discard", func(m *domain.Match) ([]Event, error) {
		return e.svc.Discard(m, userID, cardID)
	})
}

// Close ends the match in favour of userID and settles it in the same commit.
func (e *Engine) Close(ctx context.Context, matchID, userID, discardCardID string) (*domain.Match, error) {
	return e.apply(ctx, matchID, "close", func(m *domain.Match) ([]Event, error) {
		return e.svc.Close(m, userID, discardCardID)
	})
}

// Settle reports the settlement state of a match. Settlement itself happens on close,
// so a FINISHED match always rejects with domain.ErrDoubleSettlement.
func (e *Engine) Settle(ctx context.Context, matchID string) error {
	m, err := e.matches.LoadMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if m.Status == domain.StatusFinished {
		return fmt.Errorf("%w: %s", domain.ErrDoubleSettlement, matchID)
	}
	return fmt.Errorf("%w: match is %s", domain.ErrIllegalAction, m.Status)
}

// ExpireTurn applies the default action when the current turn ran out at now.
// It reports whether an action was applied.
func (e *Engine) ExpireTurn(ctx context.Context, matchID string, now time.Time) (bool, error) {
	if e.opts.TurnTimeout <= 0 {
		return false, nil
	}
	applied := false
	_, err := e.apply(ctx, matchID, "expire_turn", func(m *domain.Match) ([]Event, error) {
		if !TurnExpired(m, now, e.opts.TurnTimeout) {
			return nil, nil
		}
		applied = true
		return e.defaultAction(m)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// ForceDefaultAction applies the configured timeout action to the current turn regardless of the clock.
func (e *Engine) ForceDefaultAction(ctx context.Context, matchID string) (*domain.Match, error) {
	return e.apply(ctx, matchID, "force_default_action", e.defaultAction)
}

func (e *Engine) defaultAction(m *domain.Match) ([]Event, error) {
	if m.Status != domain.StatusPlaying || m.GameState == nil {
		return nil, fmt.Errorf("%w: match is %s", domain.ErrIllegalAction, m.Status)
	}
	userID := m.GameState.CurrentTurn
	expired := Event{Kind: EventTurnExpired, Payload: TurnExpiredPayload{UserID: userID, Action: e.opts.TimeoutAction}}

	var (
		events []Event
		err    error
	)
	switch e.opts.TimeoutAction {
	case config.TimeoutActionForfeit:
		events, err = e.svc.Forfeit(m, userID)
	default:
		events, err = e.svc.AutoPlay(m)
	}
	if err != nil {
		return nil, err
	}
	return append([]Event{expired}, events...), nil
}

// Get returns the stored match.
func (e *Engine) Get(ctx context.Context, matchID string) (*domain.Match, error) {
	return e.matches.LoadMatch(ctx, matchID)
}

// List returns stored matches, optionally filtered by status.
func (e *Engine) List(ctx context.Context, filter ports.MatchFilter) ([]*domain.Match, error) {
	return e.matches.ListMatches(ctx, filter)
}

// ClearFault lifts the fault flag so the match accepts actions again.
func (e *Engine) ClearFault(ctx context.Context, matchID string) (*domain.Match, error) {
	release, err := e.locker.Acquire(ctx, matchID)
	if err != nil {
		return nil, err
	}
	defer release()

	m, err := e.matches.LoadMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !m.Faulted {
		return m, nil
	}
	if err := m.CheckInvariants(); err != nil {
		return nil, err
	}
	m.Faulted = false
	m.FaultReason = ""
	if err := e.matches.SaveMatch(ctx, m); err != nil {
		return nil, err
	}
	e.logger.Info("match fault cleared", "match_id", matchID)
	return m.Clone(), nil
}

type mutation func(m *domain.Match) ([]Event, error)

// apply runs fn against a fresh copy of the match under the match lock.
// A lost write race is retried from a fresh load, never against stale state.
func (e *Engine) apply(ctx context.Context, matchID, op string, fn mutation) (*domain.Match, error) {
	for attempt := 0; ; attempt++ {
		m, events, err := e.applyOnce(ctx, matchID, fn)
		// Published after the lock is released; a faulted match also reports here.
		if len(events) > 0 {
			e.publish(ctx, m, events)
		}
		if errors.Is(err, ports.ErrConflict) && attempt < e.opts.MaxConflictRetries {
			e.logger.Warn("match write conflict, retrying", "match_id", matchID, "op", op, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

func (e *Engine) applyOnce(ctx context.Context, matchID string, fn mutation) (*domain.Match, []Event, error) {
	release, err := e.locker.Acquire(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	stored, err := e.matches.LoadMatch(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	if stored.Faulted {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrMatchFaulted, stored.FaultReason)
	}

	next := stored.Clone()
	events, err := fn(next)
	if err != nil {
		return nil, nil, err
	}
	if len(events) == 0 {
		return stored, nil, nil
	}

	if err := next.CheckInvariants(); err != nil {
		if e.fault(ctx, stored, err) {
			return stored.Clone(), []Event{{Kind: EventMatchFaulted, Payload: MatchFaultedPayload{Reason: stored.FaultReason}}}, err
		}
		return nil, nil, err
	}

	switch {
	case next.Status == domain.StatusPlaying && stored.Status == domain.StatusWaiting:
		holds := domain.StakeHolds(next.StakeAmount, next.Players)
		if err := e.settlements.CommitStakes(ctx, next, holds); err != nil {
			return nil, nil, err
		}
		e.logger.Info("stakes held", "match_id", next.ID, "players", next.Players, "stake", next.StakeAmount)
	case next.Status == domain.StatusFinished && stored.Status != domain.StatusFinished:
		if next.Settlement == nil {
			return nil, nil, fmt.Errorf("%w: finished without settlement", domain.ErrInvariantViolated)
		}
		if err := e.settlements.CommitSettlement(ctx, next, *next.Settlement); err != nil {
			return nil, nil, err
		}
		e.logger.Info("match settled",
			"match_id", next.ID,
			"winner_id", next.WinnerID,
			"reason", next.EndReason,
			"payout", next.Settlement.WinnerPayout,
			"commission", next.Settlement.Commission,
		)
	default:
		if err := e.matches.SaveMatch(ctx, next); err != nil {
			return nil, nil, err
		}
	}
	return next.Clone(), events, nil
}

// fault flags the stored match so later actions are refused until an operator clears it.
// It reports whether the flag was persisted.
func (e *Engine) fault(ctx context.Context, stored *domain.Match, cause error) bool {
	e.logger.Error("match invariant violated", "match_id", stored.ID, "error", cause)
	stored.Faulted = true
	stored.FaultReason = cause.Error()
	if err := e.matches.SaveMatch(ctx, stored); err != nil {
		e.logger.Error("failed to flag faulted match", "match_id", stored.ID, "error", err)
		return false
	}
	return true
}

func (e *Engine) publish(ctx context.Context, m *domain.Match, events []Event) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, Update{MatchID: m.ID, Match: m.Clone(), Events: events}); err != nil {
		e.logger.Warn("publish failed", "match_id", m.ID, "error", err)
	}
}
