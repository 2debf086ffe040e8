package nakama

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"chinchon/internal/app"
	"chinchon/internal/broadcast"
	"chinchon/internal/config"
	"chinchon/internal/lock"
	"chinchon/internal/store/sqlstore"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/redis/go-redis/v9"
)

const (
	gameConfigPath = "data/game_config.json"

	redisLockRetries = 100
	redisLockBackoff = 50 * time.Millisecond
)

// InitModule wires RPCs and match handlers for Nakama runtime.
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	env, _ := ctx.Value(runtime.RUNTIME_CTX_ENV).(map[string]string)

	if err := config.LoadGameConfig(gameConfigPath); err != nil {
		logger.Warn("InitModule: Could not load game config, using defaults: %v", err)
	}
	cfg := config.GetGameConfig().ApplyEnv(env)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid game config: %w", err)
	}

	slogger := NewSlogLogger(logger, slog.LevelInfo)
	deps, external, err := buildEngineDeps(ctx, cfg, env, nk, slogger)
	if err != nil {
		return err
	}
	engine := app.NewEngine(deps, app.OptionsFromConfig(cfg))

	if err := RegisterRPCs(initializer, newRPCHandler(engine, cfg)); err != nil {
		return err
	}

	if err := initializer.RegisterMatch(MatchNameChinchon, func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule) (runtime.Match, error) {
		return newMatchHandler(engine, external), nil
	}); err != nil {
		return err
	}

	logger.Info("Chinchon Go module loaded (storage=%s, currency=%s, turn_timeout=%ds).",
		cfg.StorageBackend, cfg.Currency, cfg.TurnTimeoutSeconds)
	return nil
}

// buildEngineDeps picks the storage backend, the match lock and the publishers from cfg.
// external is the publisher for subscribers outside Nakama, nil when none is configured.
func buildEngineDeps(ctx context.Context, cfg config.GameConfig, env map[string]string, nk runtime.NakamaModule, logger *slog.Logger) (deps app.EngineDeps, external app.Publisher, err error) {
	deps = app.EngineDeps{
		Service: app.NewService(nil, cfg.Policy()),
		Logger:  logger,
	}

	switch cfg.StorageBackend {
	case config.StorageSQL:
		dbCfg := config.LoadDBFromRuntime(env)
		sqlDB, err := sqlstore.Open(dbCfg)
		if err != nil {
			return deps, nil, fmt.Errorf("open %s store: %w", dbCfg.Driver, err)
		}
		if err := sqlstore.Migrate(ctx, sqlDB); err != nil {
			return deps, nil, fmt.Errorf("migrate store: %w", err)
		}
		store := sqlstore.New(sqlDB, dbCfg.Driver)
		deps.Matches, deps.Accounts, deps.Settlements = store, store, store
	default:
		deps.Matches = NewNakamaMatchStore(nk)
		deps.Accounts = NewNakamaAccountAdapter(nk, cfg.Currency)
		deps.Settlements = NewNakamaEconomyAdapter(nk, cfg.Currency)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return deps, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		deps.Locker = lock.NewRedisLock(client, cfg.LockTTL(), redisLockRetries, redisLockBackoff)
		external = broadcast.NewRedisPublisher(client)
	} else {
		// Only safe while a single Nakama node runs the module.
		deps.Locker = lock.NewLocal()
	}
	deps.Publisher = broadcast.Fanout{NewSignalPublisher(nk), external}

	return deps, external, nil
}
