package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"chinchon/internal/config"
	"chinchon/internal/store/sqlstore"

	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	seed := flag.String("seed", "", "comma separated id=balance accounts to open, e.g. alice=1000,bob=1000")
	flag.Parse()

	envPath := os.Getenv("GO_DOTENV_PATH")
	if envPath == "" {
		envPath = ".env"
	}
	if err := godotenv.Overload(envPath); err != nil {
		logger.Warn("could not load .env", "path", envPath, "error", err)
	}

	cfg := config.LoadDB()
	db, err := sqlstore.Open(cfg)
	if err != nil {
		logger.Error("db connection failed", "driver", cfg.Driver, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sqlstore.Migrate(ctx, db); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("schema applied", "driver", cfg.Driver)

	if *seed == "" {
		return
	}
	store := sqlstore.New(db, cfg.Driver)
	for _, entry := range strings.Split(*seed, ",") {
		id, raw, ok := strings.Cut(strings.TrimSpace(entry), "=")
		balance, err := strconv.ParseInt(raw, 10, 64)
		if !ok || id == "" || err != nil {
			logger.Error("bad seed entry", "entry", entry)
			os.Exit(1)
		}
		if err := store.CreateAccount(ctx, id, balance); err != nil {
			logger.Error("seed account failed", "account_id", id, "error", err)
			os.Exit(1)
		}
		logger.Info("account opened", "account_id", id, "balance", balance)
	}
}
