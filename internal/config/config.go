package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"chinchon/internal/domain"
)

// Timeout actions applied when a turn runs out.
const (
	TimeoutActionAutoDiscard = "auto_discard"
	TimeoutActionForfeit     = "forfeit"
)

// Storage backends for match and account records.
const (
	StorageNakama = "nakama"
	StorageSQL    = "sql"
)

type StakeTier struct {
	ID          string `json:"id"`
	StakeAmount int64  `json:"stake_amount"`
}

type GameConfig struct {
	CommissionRate float64 `json:"commission_rate"`
	// PerfectClosureMultiplier scales the payout of a zero-point close. Zero leaves it unset.
	PerfectClosureMultiplier float64     `json:"perfect_closure_multiplier"`
	TurnTimeoutSeconds       int         `json:"turn_timeout_seconds"`
	TimeoutAction            string      `json:"timeout_action"`
	Currency                 string      `json:"currency"`
	DefaultTier              string      `json:"default_tier"`
	StakeTiers               []StakeTier `json:"stake_tiers"`
	DefaultTargetPoints      int         `json:"default_target_points"`
	MaxConflictRetries       int         `json:"max_conflict_retries"`
	StorageBackend           string      `json:"storage_backend"`
	// RedisAddr enables the distributed match lock and the external pub/sub channel when set.
	RedisAddr string `json:"redis_addr"`
	// LockTTLSeconds bounds how long a crashed holder keeps a match locked.
	LockTTLSeconds int `json:"lock_ttl_seconds"`
}

var (
	cfg      *GameConfig
	loadOnce sync.Once
	loadErr  error
)

// Default returns the configuration used when no file is loaded.
func Default() GameConfig {
	return GameConfig{
		CommissionRate:      domain.DefaultCommissionRate,
		TimeoutAction:       TimeoutActionAutoDiscard,
		Currency:            "gold",
		DefaultTier:         "casual",
		StakeTiers:          []StakeTier{{ID: "casual", StakeAmount: 100}},
		DefaultTargetPoints: 100,
		MaxConflictRetries:  3,
		StorageBackend:      StorageNakama,
		LockTTLSeconds:      10,
	}
}

// LoadGameConfig loads the game configuration from the given path.
// Fields missing from the file keep their defaults.
func LoadGameConfig(path string) error {
	loadOnce.Do(func() {
		data, err := os.ReadFile(path)
		if err != nil {
			loadErr = fmt.Errorf("failed to read game config: %w", err)
			return
		}

		c, err := Parse(data)
		if err != nil {
			loadErr = err
			return
		}
		cfg = &c
	})
	return loadErr
}

// Parse decodes a JSON game config on top of the defaults and validates it.
func Parse(data []byte) (GameConfig, error) {
	c := Default()
	if err := json.Unmarshal(data, &c); err != nil {
		return GameConfig{}, fmt.Errorf("failed to unmarshal game config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return GameConfig{}, err
	}
	return c, nil
}

// GetGameConfig returns the global game configuration, or the defaults if none was loaded.
func GetGameConfig() GameConfig {
	if cfg == nil {
		return Default()
	}
	return *cfg
}

// Validate rejects values the engine cannot run with.
func (c GameConfig) Validate() error {
	if c.CommissionRate < 0 || c.CommissionRate >= 1 {
		return fmt.Errorf("commission_rate must be in [0,1), got %v", c.CommissionRate)
	}
	if c.PerfectClosureMultiplier < 0 {
		return fmt.Errorf("perfect_closure_multiplier must not be negative, got %v", c.PerfectClosureMultiplier)
	}
	if c.TurnTimeoutSeconds < 0 {
		return fmt.Errorf("turn_timeout_seconds must not be negative, got %d", c.TurnTimeoutSeconds)
	}
	switch c.TimeoutAction {
	case TimeoutActionAutoDiscard, TimeoutActionForfeit:
	default:
		return fmt.Errorf("unknown timeout_action %q", c.TimeoutAction)
	}
	switch c.StorageBackend {
	case StorageNakama, StorageSQL:
	default:
		return fmt.Errorf("unknown storage_backend %q", c.StorageBackend)
	}
	if c.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	for _, tier := range c.StakeTiers {
		if tier.StakeAmount <= 0 {
			return fmt.Errorf("stake tier %q must have a positive stake", tier.ID)
		}
	}
	return nil
}

// Policy returns the settlement parameters.
func (c GameConfig) Policy() domain.SettlementPolicy {
	return domain.SettlementPolicy{
		CommissionRate:           c.CommissionRate,
		PerfectClosureMultiplier: c.PerfectClosureMultiplier,
	}
}

// TurnTimeout returns the turn duration, or zero when timeouts are disabled.
func (c GameConfig) TurnTimeout() time.Duration {
	return time.Duration(c.TurnTimeoutSeconds) * time.Second
}

// LockTTL returns the distributed lock lease.
func (c GameConfig) LockTTL() time.Duration {
	if c.LockTTLSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// StakeForTier returns the stake of the given tier, or of the default tier if tierID is unknown.
func (c GameConfig) StakeForTier(tierID string) (int64, bool) {
	target := tierID
	if target == "" {
		target = c.DefaultTier
	}

	for _, tier := range c.StakeTiers {
		if tier.ID == target {
			return tier.StakeAmount, true
		}
	}

	// Fallback to default tier if specific ID not found
	for _, tier := range c.StakeTiers {
		if tier.ID == c.DefaultTier {
			return tier.StakeAmount, true
		}
	}

	return 0, false
}
