package nakama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chinchon/internal/domain"
	"chinchon/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// Wallet ledger reasons.
const (
	reasonStakeHold = "stake_hold"
	reasonMatchWin  = "match_win"
)

// settlementMarker is the per-match record that makes settlement happen at most once.
type settlementMarker struct {
	domain.Settlement
	HouseTake int64  `json:"house_take"`
	Currency  string `json:"currency"`
	SettledAt string `json:"settled_at"`
}

// NakamaEconomyAdapter implements ports.SettlementPort using Nakama's wallet and storage.
// The started match and both stake debits are one MultiUpdate. The finished match, the
// settlement marker, both stats objects and the payout credit are another.
type NakamaEconomyAdapter struct {
	nk       runtime.NakamaModule
	currency string
	now      func() time.Time
}

// NewNakamaEconomyAdapter creates a new economy adapter.
func NewNakamaEconomyAdapter(nk runtime.NakamaModule, currency string) *NakamaEconomyAdapter {
	return &NakamaEconomyAdapter{nk: nk, currency: currency, now: time.Now}
}

// CommitStakes saves the started match and debits every hold atomically.
func (a *NakamaEconomyAdapter) CommitStakes(ctx context.Context, m *domain.Match, holds []domain.AccountDelta) error {
	if err := a.checkHolds(ctx, holds); err != nil {
		return err
	}

	matchW, err := matchWrite(m)
	if err != nil {
		return err
	}
	wallets := make([]*runtime.WalletUpdate, 0, len(holds))
	for _, h := range holds {
		wallets = append(wallets, &runtime.WalletUpdate{
			UserID:    h.AccountID,
			Changeset: map[string]int64{a.currency: h.Balance},
			Metadata: map[string]interface{}{
				"match_id": m.ID,
				"reason":   reasonStakeHold,
				"stake":    -h.Balance,
			},
		})
	}

	acks, _, err := a.nk.MultiUpdate(ctx, nil, []*runtime.StorageWrite{matchW}, nil, wallets, true)
	if err != nil {
		if errors.Is(err, runtime.ErrStorageRejectedVersion) {
			return fmt.Errorf("%w: match %s", ports.ErrConflict, m.ID)
		}
		// A balance may have been spent between the check and the update.
		if herr := a.checkHolds(ctx, holds); herr != nil {
			return herr
		}
		return fmt.Errorf("failed to hold stakes of %s: %w", m.ID, err)
	}
	for _, ack := range acks {
		if ack.GetCollection() == matchCollection && ack.GetKey() == m.ID {
			m.Version = ack.GetVersion()
		}
	}
	return nil
}

func (a *NakamaEconomyAdapter) checkHolds(ctx context.Context, holds []domain.AccountDelta) error {
	accounts := NewNakamaAccountAdapter(a.nk, a.currency)
	for _, h := range holds {
		acc, err := accounts.LoadAccount(ctx, h.AccountID)
		if err != nil {
			return err
		}
		if acc.Balance+h.Balance < 0 {
			return fmt.Errorf("%w: %s cannot cover %d", domain.ErrInsufficientBalance, h.AccountID, -h.Balance)
		}
	}
	return nil
}

// CommitSettlement saves m and pays out s atomically.
func (a *NakamaEconomyAdapter) CommitSettlement(ctx context.Context, m *domain.Match, s domain.Settlement) error {
	var lastErr error
	for attempt := 0; attempt < statsWriteAttempts; attempt++ {
		err := a.commitOnce(ctx, m, s)
		if err == nil {
			return nil
		}
		if !errors.Is(err, runtime.ErrStorageRejectedVersion) {
			return err
		}
		lastErr = err

		// Find out which conditional write lost.
		settled, err := a.settled(ctx, s.MatchID)
		if err != nil {
			return err
		}
		if settled {
			return fmt.Errorf("%w: %s", domain.ErrDoubleSettlement, s.MatchID)
		}
		current, err := NewNakamaMatchStore(a.nk).LoadMatch(ctx, m.ID)
		if err != nil {
			return err
		}
		if current.Version != m.Version {
			return fmt.Errorf("%w: match %s", ports.ErrConflict, m.ID)
		}
		// Only a stats object moved; read it again.
	}
	return fmt.Errorf("%w: settlement of %s: %v", ports.ErrConflict, s.MatchID, lastErr)
}

func (a *NakamaEconomyAdapter) commitOnce(ctx context.Context, m *domain.Match, s domain.Settlement) error {
	matchW, err := matchWrite(m)
	if err != nil {
		return err
	}
	marker, err := json.Marshal(settlementMarker{
		Settlement: s,
		HouseTake:  s.HouseTake(),
		Currency:   a.currency,
		SettledAt:  a.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal settlement marker: %w", err)
	}

	writes := []*runtime.StorageWrite{
		matchW,
		{
			Collection:      settlementCollection,
			Key:             s.MatchID,
			UserID:          systemUserID,
			Value:           string(marker),
			Version:         "*",
			PermissionRead:  runtime.STORAGE_PERMISSION_NO_READ,
			PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
		},
	}

	payouts := s.Payouts()
	ids := make([]string, 0, len(payouts))
	for _, d := range payouts {
		ids = append(ids, d.AccountID)
	}
	stats, err := readStats(ctx, a.nk, ids...)
	if err != nil {
		return err
	}

	var wallets []*runtime.WalletUpdate
	for _, d := range payouts {
		w, err := statsWrite(d.AccountID, stats[d.AccountID], d.Stats)
		if err != nil {
			return err
		}
		writes = append(writes, w)

		// The loser paid with the stake hold.
		if d.Balance == 0 {
			continue
		}
		wallets = append(wallets, &runtime.WalletUpdate{
			UserID:    d.AccountID,
			Changeset: map[string]int64{a.currency: d.Balance},
			Metadata: map[string]interface{}{
				"match_id":        s.MatchID,
				"reason":          reasonMatchWin,
				"stake":           s.Stake,
				"commission":      s.Commission,
				"perfect_closure": s.PerfectClosure,
			},
		})
	}

	acks, _, err := a.nk.MultiUpdate(ctx, nil, writes, nil, wallets, true)
	if err != nil {
		if errors.Is(err, runtime.ErrStorageRejectedVersion) {
			return err
		}
		return fmt.Errorf("failed to commit settlement of %s: %w", s.MatchID, err)
	}
	for _, ack := range acks {
		if ack.GetCollection() == matchCollection && ack.GetKey() == m.ID {
			m.Version = ack.GetVersion()
		}
	}
	return nil
}

func (a *NakamaEconomyAdapter) settled(ctx context.Context, matchID string) (bool, error) {
	objects, err := a.nk.StorageRead(ctx, []*runtime.StorageRead{
		{Collection: settlementCollection, Key: matchID, UserID: systemUserID},
	})
	if err != nil {
		return false, fmt.Errorf("failed to read settlement marker: %w", err)
	}
	return len(objects) > 0, nil
}

var _ ports.SettlementPort = (*NakamaEconomyAdapter)(nil)
