package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"highscores/core"
	"highscores/engine"
)

// Driver selects the SQL dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Config holds database connection configuration.
type Config struct {
	Driver          Driver        `json:"driver" env:"HIGHSCORES_SQL_DRIVER"`
	DSN             string        `json:"dsn,omitempty" env:"HIGHSCORES_SQL_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" env:"HIGHSCORES_SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" env:"HIGHSCORES_SQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"HIGHSCORES_SQL_CONN_MAX_LIFETIME"`
	ConnectAttempts uint          `json:"connect_attempts" env:"HIGHSCORES_SQL_CONNECT_ATTEMPTS"`
	ConnectDelay    time.Duration `json:"connect_delay" env:"HIGHSCORES_SQL_CONNECT_DELAY"`
}

// DefaultConfig returns pool defaults for driver.
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectAttempts: 5,
		ConnectDelay:    500 * time.Millisecond,
	}
}

// Store implements engine.Store on three tables:
//   - hs_counters(name, value)
//   - hs_hashes(hkey, field, value)
//   - hs_zsets(zkey, member, score)
//
// Member ordering on ties relies on a byte-wise collation of hs_zsets.member,
// which Migrate sets up.
type Store struct {
	db     *sqlx.DB
	driver Driver
}

// New opens the database and pings it, retrying with backoff.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverMySQL {
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}
	if cfg.Driver == DriverMySQL {
		if err := checkMySQLDSN(cfg.DSN); err != nil {
			return nil, err
		}
	}
	db, err := sqlx.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, core.StoreError("open database", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	attempts := cfg.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}
	err = retry.Do(
		func() error { return db.PingContext(ctx) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(cfg.ConnectDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		_ = db.Close()
		return nil, core.StoreError("connect to database", err)
	}
	return NewWithDB(db, cfg.Driver), nil
}

// checkMySQLDSN rejects clientFoundRows: SetScoreIf relies on MySQL reporting
// zero affected rows when the conditional upsert keeps the old score.
func checkMySQLDSN(dsn string) error {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fmt.Errorf("parse mysql dsn: %w", err)
	}
	if mc.ClientFoundRows {
		return errors.New("mysql dsn must not enable clientFoundRows")
	}
	return nil
}

// NewWithDB wraps an existing handle (useful for testing).
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Close() error { return s.db.Close() }

var schema = map[Driver][]string{
	DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS hs_counters (name TEXT PRIMARY KEY, value BIGINT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS hs_hashes (hkey TEXT NOT NULL, field TEXT NOT NULL, value TEXT NOT NULL, PRIMARY KEY (hkey, field))`,
		`CREATE TABLE IF NOT EXISTS hs_zsets (zkey TEXT NOT NULL, member TEXT COLLATE "C" NOT NULL, score DOUBLE PRECISION NOT NULL, PRIMARY KEY (zkey, member))`,
		`CREATE INDEX IF NOT EXISTS hs_zsets_order ON hs_zsets (zkey, score, member)`,
	},
	DriverMySQL: {
		`CREATE TABLE IF NOT EXISTS hs_counters (name VARCHAR(255) PRIMARY KEY, value BIGINT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS hs_hashes (hkey VARCHAR(255) NOT NULL, field VARCHAR(64) NOT NULL, value TEXT NOT NULL, PRIMARY KEY (hkey, field))`,
		`CREATE TABLE IF NOT EXISTS hs_zsets (zkey VARCHAR(255) NOT NULL, member VARCHAR(255) COLLATE utf8mb4_bin NOT NULL, score DOUBLE NOT NULL, PRIMARY KEY (zkey, member), INDEX hs_zsets_order (zkey, score, member))`,
	},
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema[s.driver] {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return core.StoreError("migrate", err)
		}
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.StoreError(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return core.StoreError(op, err)
	}
	if err := tx.Commit(); err != nil {
		return core.StoreError(op, err)
	}
	return nil
}

func (s *Store) upsert(conflict, col string) string {
	if s.driver == DriverMySQL {
		return fmt.Sprintf(" ON DUPLICATE KEY UPDATE %s = VALUES(%s)", col, col)
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s", conflict, col, col)
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	var q string
	if s.driver == DriverMySQL {
		q = `INSERT INTO hs_counters (name, value) VALUES (?, 1) ON DUPLICATE KEY UPDATE value = value + 1`
	} else {
		q = `INSERT INTO hs_counters (name, value) VALUES (?, 1) ON CONFLICT (name) DO UPDATE SET value = hs_counters.value + 1`
	}
	var n int64
	err := s.withTx(ctx, "incr", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(q), key); err != nil {
			return err
		}
		return tx.GetContext(ctx, &n, tx.Rebind(`SELECT value FROM hs_counters WHERE name = ?`), key)
	})
	return n, err
}

func (s *Store) hsetTx(ctx context.Context, tx *sqlx.Tx, key string, fields map[string]string) error {
	q := tx.Rebind(`INSERT INTO hs_hashes (hkey, field, value) VALUES (?, ?, ?)` + s.upsert("hkey, field", "value"))
	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)
	for _, f := range names {
		if _, err := tx.ExecContext(ctx, q, key, f, fields[f]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.withTx(ctx, "hset", func(tx *sqlx.Tx) error {
		return s.hsetTx(ctx, tx, key, fields)
	})
}

func (s *Store) HGet(ctx context.Context, key string, fields ...string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	if len(fields) == 0 {
		return out, nil
	}
	q, args, err := sqlx.In(`SELECT field, value FROM hs_hashes WHERE hkey = ? AND field IN (?)`, key, fields)
	if err != nil {
		return nil, core.StoreError("hget", err)
	}
	var rows []struct {
		Field string `db:"field"`
		Value string `db:"value"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, core.StoreError("hget", err)
	}
	for _, r := range rows {
		out[r.Field] = r.Value
	}
	return out, nil
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	q, args, err := sqlx.In(`DELETE FROM hs_hashes WHERE hkey = ? AND field IN (?)`, key, fields)
	if err != nil {
		return core.StoreError("hdel", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...); err != nil {
		return core.StoreError("hdel", err)
	}
	return nil
}

// SetScoreIf uses a conditional upsert: the row is inserted, or updated only
// when the new score satisfies cond. The record is written in the same
// transaction when a row changed.
func (s *Store) SetScoreIf(ctx context.Context, key, member string, score float64, cond core.Condition, record engine.Record) (bool, error) {
	cmp := "<"
	if cond == core.GreaterThan {
		cmp = ">"
	}
	var q string
	if s.driver == DriverMySQL {
		q = fmt.Sprintf(`INSERT INTO hs_zsets (zkey, member, score) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE score = IF(VALUES(score) %s score, VALUES(score), score)`, cmp)
	} else {
		q = fmt.Sprintf(`INSERT INTO hs_zsets (zkey, member, score) VALUES (?, ?, ?) ON CONFLICT (zkey, member) DO UPDATE SET score = EXCLUDED.score WHERE EXCLUDED.score %s hs_zsets.score`, cmp)
	}
	var changed bool
	err := s.withTx(ctx, "set score", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(q), key, member, score)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if s.driver == DriverMySQL {
			// 1 for an insert, 2 for an update, 0 when the score was kept
			changed = n == 1 || n == 2
		} else {
			changed = n > 0
		}
		if !changed || record.Key == "" {
			return nil
		}
		return s.hsetTx(ctx, tx, record.Key, record.Fields)
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (s *Store) Rank(ctx context.Context, key, member string, order core.Order) (int64, bool, error) {
	var score float64
	err := s.db.GetContext(ctx, &score, s.db.Rebind(`SELECT score FROM hs_zsets WHERE zkey = ? AND member = ?`), key, member)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, core.StoreError("rank", err)
	}
	cmp := "<"
	if order == core.OrderDescending {
		cmp = ">"
	}
	q := fmt.Sprintf(`SELECT COUNT(*) FROM hs_zsets WHERE zkey = ? AND (score %s ? OR (score = ? AND member %s ?))`, cmp, cmp)
	var rank int64
	if err := s.db.GetContext(ctx, &rank, s.db.Rebind(q), key, score, score, member); err != nil {
		return 0, false, core.StoreError("rank", err)
	}
	return rank, true, nil
}

func (s *Store) Range(ctx context.Context, key string, skip, take int64, order core.Order) ([]string, error) {
	if skip < 0 {
		skip = 0
	}
	if take == 0 {
		return nil, nil
	}
	if take < 0 {
		take = math.MaxInt64
	}
	dir := "ASC"
	if order == core.OrderDescending {
		dir = "DESC"
	}
	q := fmt.Sprintf(`SELECT member FROM hs_zsets WHERE zkey = ? ORDER BY score %s, member %s LIMIT ? OFFSET ?`, dir, dir)
	var members []string
	if err := s.db.SelectContext(ctx, &members, s.db.Rebind(q), key, take, skip); err != nil {
		return nil, core.StoreError("range", err)
	}
	return members, nil
}

func (s *Store) Card(ctx context.Context, key string) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM hs_zsets WHERE zkey = ?`), key); err != nil {
		return 0, core.StoreError("card", err)
	}
	return n, nil
}

func (s *Store) Remove(ctx context.Context, key, member string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM hs_zsets WHERE zkey = ? AND member = ?`), key, member); err != nil {
		return core.StoreError("remove", err)
	}
	return nil
}

// Del removes key from every table, like a Redis DEL on a key of any type.
func (s *Store) Del(ctx context.Context, key string) error {
	return s.withTx(ctx, "del", func(tx *sqlx.Tx) error {
		for _, q := range []string{
			`DELETE FROM hs_zsets WHERE zkey = ?`,
			`DELETE FROM hs_hashes WHERE hkey = ?`,
			`DELETE FROM hs_counters WHERE name = ?`,
		} {
			if _, err := tx.ExecContext(ctx, tx.Rebind(q), key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return core.StoreError("ping", err)
	}
	return nil
}

var _ engine.Store = (*Store)(nil)
