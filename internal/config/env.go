package config

import "strconv"

// Runtime environment keys read from the Nakama env map.
const (
	EnvCommissionRate           = "chinchon_commission_rate"
	EnvPerfectClosureMultiplier = "chinchon_perfect_closure_multiplier"
	EnvTurnTimeoutSec           = "chinchon_turn_timeout_sec"
	EnvTimeoutAction            = "chinchon_timeout_action"
	EnvCurrency                 = "chinchon_currency"
	EnvStorageBackend           = "chinchon_storage_backend"
	EnvRedisAddr                = "chinchon_redis_addr"
	EnvMaxConflictRetries       = "chinchon_max_conflict_retries"
)

// ApplyEnv returns c with the overrides found in env. Unparseable values are ignored.
func (c GameConfig) ApplyEnv(env map[string]string) GameConfig {
	if val, ok := env[EnvCommissionRate]; ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			c.CommissionRate = f
		}
	}
	if val, ok := env[EnvPerfectClosureMultiplier]; ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			c.PerfectClosureMultiplier = f
		}
	}
	if val, ok := env[EnvTurnTimeoutSec]; ok {
		if i, err := strconv.Atoi(val); err == nil {
			c.TurnTimeoutSeconds = i
		}
	}
	if val, ok := env[EnvMaxConflictRetries]; ok {
		if i, err := strconv.Atoi(val); err == nil {
			c.MaxConflictRetries = i
		}
	}
	if val, ok := env[EnvTimeoutAction]; ok && val != "" {
		c.TimeoutAction = val
	}
	if val, ok := env[EnvCurrency]; ok && val != "" {
		c.Currency = val
	}
	if val, ok := env[EnvStorageBackend]; ok && val != "" {
		c.StorageBackend = val
	}
	if val, ok := env[EnvRedisAddr]; ok {
		c.RedisAddr = val
	}
	return c
}
