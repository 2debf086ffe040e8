package config

import (
	"fmt"
	"os"
)

// Supported database/sql drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// DBConfig holds the SQL connection settings.
type DBConfig struct {
	Driver string
	DSN    string
}

// LoadDB reads DB settings from the process environment.
func LoadDB() DBConfig {
	driver := getEnv("DB_DRIVER", DriverPostgres)
	dsn := os.Getenv("DB_DSN")
	if dsn == "" && driver == DriverPostgres {
		dsn = buildDSN()
	}
	if dsn == "" && driver == DriverSQLite {
		dsn = "file:chinchon.db?_foreign_keys=on"
	}
	return DBConfig{Driver: driver, DSN: dsn}
}

// LoadDBFromRuntime reads DB settings from the Nakama runtime env map.
func LoadDBFromRuntime(env map[string]string) DBConfig {
	driver := env["chinchon_db_driver"]
	if driver == "" {
		driver = DriverPostgres
	}
	return DBConfig{Driver: driver, DSN: env["chinchon_db_dsn"]}
}

// getEnv returns fallback when the variable is unset.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func buildDSN() string {
	host := os.Getenv("DB_HOST")
	port := getEnv("DB_PORT", "5432")
	user := os.Getenv("DB_USER")
	password := os.Getenv("DB_PASSWORD")
	name := os.Getenv("DB_NAME")
	sslmode := getEnv("DB_SSLMODE", "require")
	if host == "" || user == "" || name == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)
}
