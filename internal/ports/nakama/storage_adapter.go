package nakama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"chinchon/internal/domain"
	"chinchon/internal/ports"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	defaultListLimit = 100
	storagePageSize  = 100
	maxListPages     = 20
)

// NakamaMatchStore implements ports.MatchStore on Nakama storage objects owned by the system user.
type NakamaMatchStore struct {
	nk runtime.NakamaModule
}

// NewNakamaMatchStore creates a new match store.
func NewNakamaMatchStore(nk runtime.NakamaModule) *NakamaMatchStore {
	return &NakamaMatchStore{nk: nk}
}

// LoadMatch reads the match document and its storage version.
func (s *NakamaMatchStore) LoadMatch(ctx context.Context, matchID string) (*domain.Match, error) {
	objects, err := s.nk.StorageRead(ctx, []*runtime.StorageRead{
		{Collection: matchCollection, Key: matchID, UserID: systemUserID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read match %s: %w", matchID, err)
	}
	if len(objects) == 0 {
		return nil, domain.ErrMatchNotFound
	}
	return decodeMatchObject(objects[0])
}

// SaveMatch writes m conditioned on its version. An empty version requires the key to be absent.
func (s *NakamaMatchStore) SaveMatch(ctx context.Context, m *domain.Match) error {
	write, err := matchWrite(m)
	if err != nil {
		return err
	}
	acks, err := s.nk.StorageWrite(ctx, []*runtime.StorageWrite{write})
	if err != nil {
		if errors.Is(err, runtime.ErrStorageRejectedVersion) {
			return fmt.Errorf("%w: match %s", ports.ErrConflict, m.ID)
		}
		return fmt.Errorf("failed to write match %s: %w", m.ID, err)
	}
	if len(acks) > 0 {
		m.Version = acks[0].Version
	}
	return nil
}

// ListMatches pages through the match collection and returns matches newest first.
func (s *NakamaMatchStore) ListMatches(ctx context.Context, filter ports.MatchFilter) ([]*domain.Match, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var (
		out    []*domain.Match
		cursor string
	)
	for page := 0; page < maxListPages; page++ {
		objects, next, err := s.nk.StorageList(ctx, "", systemUserID, matchCollection, storagePageSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("failed to list matches: %w", err)
		}
		for _, obj := range objects {
			m, err := decodeMatchObject(obj)
			if err != nil {
				return nil, err
			}
			if filter.Status != "" && m.Status != filter.Status {
				continue
			}
			out = append(out, m)
		}
		if next == "" {
			break
		}
		cursor = next
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// matchWrite builds the conditional storage write for m.
func matchWrite(m *domain.Match) (*runtime.StorageWrite, error) {
	value, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal match %s: %w", m.ID, err)
	}
	version := m.Version
	if version == "" {
		version = "*"
	}
	return &runtime.StorageWrite{
		Collection:      matchCollection,
		Key:             m.ID,
		UserID:          systemUserID,
		Value:           string(value),
		Version:         version,
		PermissionRead:  runtime.STORAGE_PERMISSION_NO_READ,
		PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
	}, nil
}

func decodeMatchObject(obj *api.StorageObject) (*domain.Match, error) {
	var m domain.Match
	if err := json.Unmarshal([]byte(obj.GetValue()), &m); err != nil {
		return nil, fmt.Errorf("failed to decode match %s: %w", obj.GetKey(), err)
	}
	m.Version = obj.GetVersion()
	return &m, nil
}

var _ ports.MatchStore = (*NakamaMatchStore)(nil)
