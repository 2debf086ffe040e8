package nakama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"chinchon/internal/domain"
	"chinchon/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// statsWriteAttempts bounds retries on a stats object. A rejected write means another
// commit on the same account went through, so a burst of k concurrent commits needs k attempts.
const statsWriteAttempts = 10

// NakamaAccountAdapter implements ports.AccountPort on the Nakama wallet plus a per-user stats object.
type NakamaAccountAdapter struct {
	nk       runtime.NakamaModule
	currency string
}

// NewNakamaAccountAdapter creates a new account adapter for the given wallet currency.
func NewNakamaAccountAdapter(nk runtime.NakamaModule, currency string) *NakamaAccountAdapter {
	return &NakamaAccountAdapter{nk: nk, currency: currency}
}

// LoadAccount reads the wallet balance and stats of a user.
func (a *NakamaAccountAdapter) LoadAccount(ctx context.Context, userID string) (domain.Account, error) {
	account, err := a.nk.AccountGetId(ctx, userID)
	if err != nil {
		return domain.Account{}, fmt.Errorf("%w: %s: %v", domain.ErrAccountNotFound, userID, err)
	}

	var wallet map[string]int64
	if w := account.GetWallet(); w != "" {
		if err := json.Unmarshal([]byte(w), &wallet); err != nil {
			return domain.Account{}, fmt.Errorf("failed to unmarshal wallet: %w", err)
		}
	}

	stats, err := readStats(ctx, a.nk, userID)
	if err != nil {
		return domain.Account{}, err
	}
	return domain.Account{
		ID:      userID,
		Balance: wallet[a.currency],
		Stats:   stats[userID].Stats,
	}, nil
}

// ApplyAccountDelta adds delta to the wallet and stats of one user in a single MultiUpdate.
// The stats object is version checked and retried when another writer moved it.
func (a *NakamaAccountAdapter) ApplyAccountDelta(ctx context.Context, delta domain.AccountDelta) error {
	var lastErr error
	for attempt := 0; attempt < statsWriteAttempts; attempt++ {
		stats, err := readStats(ctx, a.nk, delta.AccountID)
		if err != nil {
			return err
		}
		write, err := statsWrite(delta.AccountID, stats[delta.AccountID], delta.Stats)
		if err != nil {
			return err
		}
		var wallets []*runtime.WalletUpdate
		if delta.Balance != 0 {
			wallets = append(wallets, &runtime.WalletUpdate{
				UserID:    delta.AccountID,
				Changeset: map[string]int64{a.currency: delta.Balance},
				Metadata:  map[string]interface{}{"reason": "account_delta"},
			})
		}

		_, _, err = a.nk.MultiUpdate(ctx, nil, []*runtime.StorageWrite{write}, nil, wallets, true)
		if err == nil {
			return nil
		}
		if !errors.Is(err, runtime.ErrStorageRejectedVersion) {
			return fmt.Errorf("failed to apply delta to %s: %w", delta.AccountID, err)
		}
		lastErr = err
	}
	return fmt.Errorf("%w: stats of %s: %v", ports.ErrConflict, delta.AccountID, lastErr)
}

// statsObject is a stats record with the storage version it was read at.
type statsObject struct {
	Stats   domain.AccountStats
	Version string
}

// readStats loads the stats objects of userIDs. Users without a record get zero stats and no version.
func readStats(ctx context.Context, nk runtime.NakamaModule, userIDs ...string) (map[string]statsObject, error) {
	reads := make([]*runtime.StorageRead, 0, len(userIDs))
	for _, id := range userIDs {
		reads = append(reads, &runtime.StorageRead{Collection: statsCollection, Key: statsKey, UserID: id})
	}
	objects, err := nk.StorageRead(ctx, reads)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	out := make(map[string]statsObject, len(userIDs))
	for _, id := range userIDs {
		out[id] = statsObject{}
	}
	for _, obj := range objects {
		var s domain.AccountStats
		if err := json.Unmarshal([]byte(obj.GetValue()), &s); err != nil {
			return nil, fmt.Errorf("failed to decode stats of %s: %w", obj.GetUserId(), err)
		}
		out[obj.GetUserId()] = statsObject{Stats: s, Version: obj.GetVersion()}
	}
	return out, nil
}

// statsWrite builds the conditional write of current plus d.
func statsWrite(userID string, current statsObject, d domain.StatsDelta) (*runtime.StorageWrite, error) {
	value, err := json.Marshal(current.Stats.Add(d))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stats: %w", err)
	}
	version := current.Version
	if version == "" {
		version = "*"
	}
	return &runtime.StorageWrite{
		Collection:      statsCollection,
		Key:             statsKey,
		UserID:          userID,
		Value:           string(value),
		Version:         version,
		PermissionRead:  runtime.STORAGE_PERMISSION_OWNER_READ,
		PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
	}, nil
}

var _ ports.AccountPort = (*NakamaAccountAdapter)(nil)
