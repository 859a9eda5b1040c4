package store

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gmsas95/medtrack/internal/config"
)

const kvPrefix = "kv:"

// Store provides unified access to the relational database and BadgerDB
type Store struct {
	db     *gorm.DB
	badger *badger.DB
	driver string
}

func gormConfig(prepareStmt bool) *gorm.Config {
	return &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		PrepareStmt:            prepareStmt,
		NowFunc:                func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

// New opens the database selected by cfg.Storage.Driver plus BadgerDB
func New(cfg *config.Config) (*Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return OpenMemory()
	case "postgres":
		db, err := gorm.Open(postgres.Open(cfg.Storage.PostgresDSN), gormConfig(true))
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
		return withBadger(db, "postgres", cfg)
	default:
		return openSQLite(cfg)
	}
}

func openSQLite(cfg *config.Config) (*Store, error) {
	sqlitePath := cfg.Storage.SQLitePath
	if sqlitePath == "" {
		sqlitePath = filepath.Join(cfg.Storage.DataDir, "medtrack.db")
	}

	sqliteDB, err := sql.Open("sqlite", sqlitePath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// SQLite has one writer; more connections only add lock contention.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetConnMaxLifetime(time.Hour)

	db, err := gorm.Open(sqlite.Dialector{Conn: sqliteDB}, gormConfig(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	return withBadger(db, "sqlite", cfg)
}

func withBadger(db *gorm.DB, driver string, cfg *config.Config) (*Store, error) {
	badgerPath := cfg.Storage.BadgerPath
	if badgerPath == "" {
		badgerPath = filepath.Join(cfg.Storage.DataDir, "badger")
	}

	badgerOpts := badger.DefaultOptions(badgerPath).
		WithLogger(nil).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithValueLogFileSize(16 << 20).
		WithMemTableSize(16 << 20)

	badgerDB, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{db: db, badger: badgerDB, driver: driver}, nil
}

// OpenMemory returns a Store backed by an in-memory SQLite database and an
// in-memory Badger instance. Nothing survives Close.
func OpenMemory() (*Store, error) {
	sqliteDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// Each connection to :memory: is a separate database.
	sqliteDB.SetMaxOpenConns(1)

	db, err := gorm.Open(sqlite.Dialector{Conn: sqliteDB}, gormConfig(false))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	badgerDB, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{db: db, badger: badgerDB, driver: "memory"}, nil
}

// Close closes all database connections
func (s *Store) Close() error {
	var errs []error
	if sqlDB, err := s.db.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	errs = append(errs, s.badger.Close())
	return stderrors.Join(errs...)
}

// DB returns the GORM database instance
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Badger returns the BadgerDB instance
func (s *Store) Badger() *badger.DB {
	return s.badger
}

func (s *Store) Driver() string {
	return s.driver
}

// Ping checks that both backends answer
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if s.badger.IsClosed() {
		return fmt.Errorf("badger: closed")
	}
	return nil
}

// ==================== KV Methods (BadgerDB) ====================

// SetKV stores a key-value pair
func (s *Store) SetKV(key string, value []byte) error {
	return s.badger.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(kvPrefix+key), value)
	})
}

// GetKV retrieves a value by key. A missing key returns nil, nil.
func (s *Store) GetKV(key string) ([]byte, error) {
	var val []byte
	err := s.badger.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(kvPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			val = append([]byte{}, v...)
			return nil
		})
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return val, err
}

// DeleteKV removes a key; deleting a missing key is not an error
func (s *Store) DeleteKV(key string) error {
	return s.badger.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(kvPrefix + key))
	})
}

// ScanKV returns every key under prefix with the kv namespace stripped
func (s *Store) ScanKV(prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	full := []byte(kvPrefix + prefix)

	err := s.badger.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(full); it.ValidForPrefix(full); it.Next() {
			item := it.Item()
			key := strings.TrimPrefix(string(item.Key()), kvPrefix)
			if err := item.Value(func(v []byte) error {
				out[key] = append([]byte{}, v...)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}
