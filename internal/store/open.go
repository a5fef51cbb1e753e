package store

import (
	"database/sql"
	"fmt"
	"log"

	_ "modernc.org/sqlite"

	"github.com/lox/cityweather/internal/models"
)

// Backend is a closable string key-value store.
type Backend interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Close() error
}

// LookupLog records submitted searches. Implemented by every backend except File.
type LookupLog interface {
	RecordLookup(l models.Lookup) error
	RecentLookups(limit int) ([]models.Lookup, error)
}

// DefaultLookupLimit is how many lookups RecentLookups returns when asked
// for zero or fewer. The redis backend keeps no more than this.
const DefaultLookupLimit = 100

func lookupLimit(limit int) int {
	if limit <= 0 {
		return DefaultLookupLimit
	}
	return limit
}

type Config struct {
	Backend     string // sqlite, redis, file or memory
	DBPath      string
	RedisURL    string
	RedisPrefix string
	PrefsFile   string
}

// Open returns the backend named by cfg.Backend.
func Open(cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", "sqlite":
		st, err := OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis backend requires a redis url")
		}
		r, err := ConnectRedis(cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "file":
		if cfg.PrefsFile == "" {
			return nil, fmt.Errorf("file backend requires a preferences file path")
		}
		f, err := OpenFile(cfg.PrefsFile)
		if err != nil {
			return nil, err
		}
		return f, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// OpenSQLite opens and migrates the database at path.
func OpenSQLite(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Printf("store: opened %s", path)
	return st, nil
}
