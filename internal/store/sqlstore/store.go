package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"chinchon/internal/domain"
	"chinchon/internal/ports"

	"github.com/google/uuid"
)

// Ledger row kinds. A match writes one stake row per player when it starts,
// then the winner's payout and the house take when it settles.
const (
	KindStake      = "stake"
	KindMatchWin   = "match_win"
	KindCommission = "commission"
)

// HouseAccountID owns the commission rows of the ledger.
const HouseAccountID = "house"

const defaultListLimit = 100

// LedgerEntry is one row of the transaction ledger.
type LedgerEntry struct {
	ID        string
	MatchID   string
	AccountID string
	Kind      string
	Amount    int64
	CreatedAt time.Time
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store implements the persistence ports on Postgres or SQLite.
type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// New binds a store to an open connection of the given driver.
func New(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver, now: time.Now}
}

func (s *Store) q(query string) string {
	return rebind(s.driver, query)
}

// LoadMatch reads a match document and its version.
func (s *Store) LoadMatch(ctx context.Context, matchID string) (*domain.Match, error) {
	const query = `
SELECT doc, version
FROM matches
WHERE id = $1`

	var (
		doc     string
		version int64
	)
	err := s.db.QueryRowContext(ctx, s.q(query), matchID).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load match %s: %w", matchID, err)
	}
	return decodeMatch(doc, version)
}

// SaveMatch inserts a new match or updates it if its version still matches.
func (s *Store) SaveMatch(ctx context.Context, m *domain.Match) error {
	return s.saveMatch(ctx, s.db, m)
}

func (s *Store) saveMatch(ctx context.Context, ex execer, m *domain.Match) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal match: %w", err)
	}

	if m.Version == "" {
		const insert = `
INSERT INTO matches (id, status, doc, version, created_at)
VALUES ($1, $2, $3, 1, $4)
ON CONFLICT (id) DO NOTHING`
		res, err := ex.ExecContext(ctx, s.q(insert), m.ID, string(m.Status), string(doc), m.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("insert match: %w", err)
		}
		if err := expectOneRow(res, ports.ErrConflict); err != nil {
			return err
		}
		m.Version = "1"
		return nil
	}

	version, err := strconv.ParseInt(m.Version, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad version %q", ports.ErrConflict, m.Version)
	}
	const update = `
UPDATE matches
SET status = $1, doc = $2, version = version + 1
WHERE id = $3 AND version = $4`
	res, err := ex.ExecContext(ctx, s.q(update), string(m.Status), string(doc), m.ID, version)
	if err != nil {
		return fmt.Errorf("update match: %w", err)
	}
	if err := expectOneRow(res, ports.ErrConflict); err != nil {
		return err
	}
	m.Version = strconv.FormatInt(version+1, 10)
	return nil
}

// ListMatches returns matches newest first, optionally filtered by status.
func (s *Store) ListMatches(ctx context.Context, filter ports.MatchFilter) ([]*domain.Match, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	if filter.Status != "" {
		const query = `
SELECT doc, version
FROM matches
WHERE status = $1
ORDER BY created_at DESC, id
LIMIT $2`
		rows, err = s.db.QueryContext(ctx, s.q(query), string(filter.Status), limit)
	} else {
		const query = `
SELECT doc, version
FROM matches
ORDER BY created_at DESC, id
LIMIT $1`
		rows, err = s.db.QueryContext(ctx, s.q(query), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Match
	for rows.Next() {
		var (
			doc     string
			version int64
		)
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, err
		}
		m, err := decodeMatch(doc, version)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateAccount opens an account with an initial balance. Existing accounts are left untouched.
func (s *Store) CreateAccount(ctx context.Context, accountID string, balance int64) error {
	const query = `
INSERT INTO accounts (id, balance)
VALUES ($1, $2)
ON CONFLICT (id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, s.q(query), accountID, balance)
	return err
}

// LoadAccount reads balance and stats.
func (s *Store) LoadAccount(ctx context.Context, accountID string) (domain.Account, error) {
	const query = `
SELECT balance, matches_played, wins, losses, total_staked, total_won
FROM accounts
WHERE id = $1`

	acc := domain.Account{ID: accountID}
	err := s.db.QueryRowContext(ctx, s.q(query), accountID).Scan(
		&acc.Balance,
		&acc.Stats.MatchesPlayed,
		&acc.Stats.Wins,
		&acc.Stats.Losses,
		&acc.Stats.TotalStaked,
		&acc.Stats.TotalWon,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("load account %s: %w", accountID, err)
	}
	return acc, nil
}

// ApplyAccountDelta increments balance and stats in place.
func (s *Store) ApplyAccountDelta(ctx context.Context, delta domain.AccountDelta) error {
	return s.applyDelta(ctx, s.db, delta)
}

func (s *Store) applyDelta(ctx context.Context, ex execer, d domain.AccountDelta) error {
	const query = `
UPDATE accounts
SET balance = balance + $1,
    matches_played = matches_played + $2,
    wins = wins + $3,
    losses = losses + $4,
    total_staked = total_staked + $5,
    total_won = total_won + $6
WHERE id = $7`
	res, err := ex.ExecContext(ctx, s.q(query),
		d.Balance,
		d.Stats.MatchesPlayed,
		d.Stats.Wins,
		d.Stats.Losses,
		d.Stats.TotalStaked,
		d.Stats.TotalWon,
		d.AccountID,
	)
	if err != nil {
		return fmt.Errorf("apply delta to %s: %w", d.AccountID, err)
	}
	return expectOneRow(res, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, d.AccountID))
}

// CommitStakes saves the started match and debits every hold in one transaction.
// A hold that would take a balance below zero aborts the whole commit.
func (s *Store) CommitStakes(ctx context.Context, m *domain.Match, holds []domain.AccountDelta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	version := m.Version
	if err := s.saveMatch(ctx, tx, m); err != nil {
		return err
	}
	now := s.now().UTC()
	for _, h := range holds {
		if err := s.hold(ctx, tx, h); err != nil {
			m.Version = version
			return err
		}
		if err := s.insertLedger(ctx, tx, m.ID, h.AccountID, KindStake, h.Balance, now); err != nil {
			m.Version = version
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		m.Version = version
		return fmt.Errorf("commit stakes: %w", err)
	}
	return nil
}

func (s *Store) hold(ctx context.Context, tx *sql.Tx, h domain.AccountDelta) error {
	const debit = `
UPDATE accounts
SET balance = balance + $1
WHERE id = $2 AND balance + $1 >= 0`
	res, err := tx.ExecContext(ctx, s.q(debit), h.Balance, h.AccountID)
	if err != nil {
		return fmt.Errorf("hold stake of %s: %w", h.AccountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var one int
	err = tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM accounts WHERE id = $1`), h.AccountID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, h.AccountID)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s cannot cover %d", domain.ErrInsufficientBalance, h.AccountID, -h.Balance)
}

// CommitSettlement records the settlement marker, saves the finished match,
// credits the payouts and writes the ledger in one transaction.
func (s *Store) CommitSettlement(ctx context.Context, m *domain.Match, st domain.Settlement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.now().UTC()

	const marker = `
INSERT INTO settlements (match_id, winner_id, loser_id, stake, pot, commission, winner_payout, perfect_closure, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (match_id) DO NOTHING`
	res, err := tx.ExecContext(ctx, s.q(marker),
		st.MatchID, st.WinnerID, st.LoserID, st.Stake, st.Pot, st.Commission, st.WinnerPayout, st.PerfectClosure, now.Unix())
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	if err := expectOneRow(res, fmt.Errorf("%w: %s", domain.ErrDoubleSettlement, st.MatchID)); err != nil {
		return err
	}

	version := m.Version
	if err := s.saveMatch(ctx, tx, m); err != nil {
		m.Version = version
		return err
	}

	for _, d := range st.Payouts() {
		if err := s.applyDelta(ctx, tx, d); err != nil {
			m.Version = version
			return err
		}
	}

	if err := s.insertLedger(ctx, tx, st.MatchID, st.WinnerID, KindMatchWin, st.WinnerPayout, now); err != nil {
		m.Version = version
		return err
	}
	if err := s.insertLedger(ctx, tx, st.MatchID, HouseAccountID, KindCommission, st.HouseTake(), now); err != nil {
		m.Version = version
		return err
	}

	if err := tx.Commit(); err != nil {
		m.Version = version
		return fmt.Errorf("commit settlement: %w", err)
	}
	return nil
}

func (s *Store) insertLedger(ctx context.Context, ex execer, matchID, accountID, kind string, amount int64, at time.Time) error {
	const query = `
INSERT INTO transactions (id, match_id, account_id, kind, amount, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := ex.ExecContext(ctx, s.q(query), uuid.NewString(), matchID, accountID, kind, amount, at.Unix()); err != nil {
		return fmt.Errorf("insert ledger row: %w", err)
	}
	return nil
}

// Ledger returns the transactions of one match.
func (s *Store) Ledger(ctx context.Context, matchID string) ([]LedgerEntry, error) {
	const query = `
SELECT id, match_id, account_id, kind, amount, created_at
FROM transactions
WHERE match_id = $1
ORDER BY kind`

	rows, err := s.db.QueryContext(ctx, s.q(query), matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var (
			e  LedgerEntry
			at int64
		)
		if err := rows.Scan(&e.ID, &e.MatchID, &e.AccountID, &e.Kind, &e.Amount, &at); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(at, 0).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeMatch(doc string, version int64) (*domain.Match, error) {
	var m domain.Match
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return nil, fmt.Errorf("decode match: %w", err)
	}
	m.Version = strconv.FormatInt(version, 10)
	return &m, nil
}

func expectOneRow(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}

var (
	_ ports.MatchStore     = (*Store)(nil)
	_ ports.AccountPort    = (*Store)(nil)
	_ ports.SettlementPort = (*Store)(nil)
)
