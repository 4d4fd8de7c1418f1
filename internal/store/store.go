// Package store persists the local identity, saved sessions and one-time
// prekeys of a cryptobox.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gwillem/cryptobox-go/internal/ratchet"
)

// Store is the persistence contract of a cryptobox. Lookups return nil, nil
// when the record does not exist. Every failure is a *Error.
type Store interface {
	LoadIdentity() (*ratchet.Identity, error)
	SaveIdentity(id ratchet.Identity) error
	LoadSession(ident *ratchet.IdentityKeyPair, sid string) (*ratchet.Session, error)
	SaveSession(sid string, s *ratchet.Session) error
	DeleteSession(sid string) error
	AddPreKey(pk *ratchet.PreKey) error
	PreKey(id ratchet.PreKeyID) (*ratchet.PreKey, error)
	RemovePreKey(id ratchet.PreKeyID) error
	Close() error
}

// Committer is implemented by stores that can save a session and drop the
// prekeys it consumed in one atomic step.
type Committer interface {
	CommitSession(sid string, s *ratchet.Session, consumed []ratchet.PreKeyID) error
}

// Error is returned by every Store operation that fails.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	return &Error{Op: op, Err: err}
}

// DBName is the SQLite file created inside a store directory.
const DBName = "cbox.db"

// Options tune the SQLite connection.
type Options struct {
	JournalMode string
	BusyTimeout time.Duration
}

// DefaultOptions are used for zero-valued fields of Options.
var DefaultOptions = Options{
	JournalMode: "WAL",
	BusyTimeout: 5 * time.Second,
}

// FileStore is a Store backed by a SQLite database in a directory.
type FileStore struct {
	db   *sql.DB
	path string
}

// Compile-time interface checks.
var (
	_ Store     = (*FileStore)(nil)
	_ Committer = (*FileStore)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS identity (
	id INTEGER PRIMARY KEY CHECK (id = 0),
	record BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS session (
	sid TEXT PRIMARY KEY,
	record BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS prekey (
	id INTEGER PRIMARY KEY,
	record BLOB NOT NULL
);
`

// Open opens or creates the store in dir.
func Open(dir string, opts Options) (*FileStore, error) {
	if opts.JournalMode == "" {
		opts.JournalMode = DefaultOptions.JournalMode
	}
	if opts.BusyTimeout == 0 {
		opts.BusyTimeout = DefaultOptions.BusyTimeout
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, storeErr("create dir", err)
	}

	path := filepath.Join(dir, DBName)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storeErr("open db", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", opts.BusyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, storeErr("set busy timeout", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=" + opts.JournalMode); err != nil {
		db.Close()
		return nil, storeErr("set journal mode", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storeErr("create schema", err)
	}

	return &FileStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *FileStore) Path() string { return s.path }

// Close closes the database connection.
func (s *FileStore) Close() error {
	if err := s.db.Close(); err != nil {
		return storeErr("close", err)
	}
	return nil
}
