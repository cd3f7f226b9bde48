package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophdine/internal/client/migrations"
	"github.com/dmitrijs2005/gophdine/internal/cryptox"
	"github.com/dmitrijs2005/gophdine/internal/dbx"
	"github.com/dmitrijs2005/gophdine/internal/logging"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

const (
	opTimeout = 5 * time.Second
	saltKey   = "salt"
)

// SQLiteStore persists values in a local SQLite database. When opened with
// a passphrase, values are sealed with AES-GCM before they hit the disk.
type SQLiteStore struct {
	db     *sql.DB
	sealer *cryptox.Sealer
	log    logging.Logger
}

var _ Store = (*SQLiteStore)(nil)

// RunMigrations applies the embedded goose migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.Migrations)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate session store: %w", err)
	}
	return nil
}

// OpenSQLite opens (creating if needed) the store at dsn and migrates it.
// A nil or empty passphrase stores values in the clear.
func OpenSQLite(ctx context.Context, dsn string, passphrase []byte, log logging.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer keeps SQLite from returning SQLITE_BUSY under concurrent Sets
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, log: log.With("component", "tokenstore")}

	if len(passphrase) > 0 {
		salt, err := s.loadSalt(ctx)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		sealer, err := cryptox.NewSealer(cryptox.DeriveKey(passphrase, salt))
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.sealer = sealer
	}

	return s, nil
}

func (s *SQLiteStore) loadSalt(ctx context.Context) ([]byte, error) {
	var salt []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, saltKey).Scan(&salt)
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read store salt: %w", err)
	}

	salt = cryptox.NewSalt()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO store_meta (key, value) VALUES (?, ?)`, saltKey, salt); err != nil {
		return nil, fmt.Errorf("failed to write store salt: %w", err)
	}
	return salt, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(key string) string {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM session_values WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return ""
	}
	if err != nil {
		s.log.Warn(ctx, "failed to read session value", "key", key, "err", err)
		return ""
	}

	if s.sealer != nil {
		plain, err := s.sealer.Open(value)
		if err != nil {
			s.log.Warn(ctx, "failed to unseal session value", "key", key, "err", err)
			return ""
		}
		value = plain
	}
	return string(value)
}

func (s *SQLiteStore) Set(key, value string) {
	s.SetAll(map[string]string{key: value})
}

func (s *SQLiteStore) SetAll(values map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for k, v := range values {
			if v == "" {
				if _, err := tx.ExecContext(ctx, `DELETE FROM session_values WHERE key = ?`, k); err != nil {
					return fmt.Errorf("failed to delete session value[%s]: %w", k, err)
				}
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO session_values (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value
			`, k, s.seal(v)); err != nil {
				return fmt.Errorf("failed to set session value[%s]: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		s.log.Warn(ctx, "session store write dropped", "err", err)
	}
}

func (s *SQLiteStore) seal(v string) []byte {
	if s.sealer == nil {
		return []byte(v)
	}
	return s.sealer.Seal([]byte(v))
}

func (s *SQLiteStore) Clear(key string) {
	s.ClearKeys(key)
}

func (s *SQLiteStore) ClearKeys(keys ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, `DELETE FROM session_values WHERE key = ?`, k); err != nil {
				return fmt.Errorf("failed to delete session value[%s]: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		s.log.Warn(ctx, "session store delete dropped", "err", err)
	}
}

func (s *SQLiteStore) ClearAll() {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_values`); err != nil {
		s.log.Warn(ctx, "failed to clear session store", "err", err)
	}
}

// Keys lists the stored keys.
func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM session_values ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list session keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan session key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session keys: %w", err)
	}
	return keys, nil
}
