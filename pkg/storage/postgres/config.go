package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config describes the database and pool. Zero values get defaults:
// 10 max connections, 1 idle connection, 5 minute connection lifetime.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration

	// MigrateOnStart applies the embedded schema in New.
	MigrateOnStart bool
}

func (c Config) poolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	pc.MaxConns = cmpOr(c.MaxConns, 10)
	pc.MinConns = cmpOr(c.MinConns, 1)
	pc.MaxConnLifetime = cmpOr(c.MaxConnLifetime, 5*time.Minute)
	return pc, nil
}

func cmpOr[T int32 | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
