package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/gwillem/cryptobox-go/internal/ratchet"
)

// LoadSession loads the session saved under sid for ident.
// Returns nil, nil if no session exists.
func (s *FileStore) LoadSession(ident *ratchet.IdentityKeyPair, sid string) (*ratchet.Session, error) {
	var record []byte
	err := s.db.QueryRow("SELECT record FROM session WHERE sid = ?", sid).Scan(&record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr("load session", err)
	}
	sess, err := ratchet.DeserializeSession(ident, record)
	if err != nil {
		return nil, storeErr("load session", err)
	}
	return sess, nil
}

// SaveSession stores the session under sid, replacing any previous record.
func (s *FileStore) SaveSession(sid string, sess *ratchet.Session) error {
	data, err := sess.Serialize()
	if err != nil {
		return storeErr("save session", err)
	}
	if _, err := s.db.Exec("INSERT OR REPLACE INTO session (sid, record) VALUES (?, ?)", sid, data); err != nil {
		return storeErr("save session", err)
	}
	return nil
}

// DeleteSession removes the session saved under sid. Deleting a missing
// session is not an error.
func (s *FileStore) DeleteSession(sid string) error {
	if _, err := s.db.Exec("DELETE FROM session WHERE sid = ?", sid); err != nil {
		return storeErr("delete session", err)
	}
	return nil
}

// CommitSession saves sess and removes the consumed prekeys in a single
// transaction.
func (s *FileStore) CommitSession(sid string, sess *ratchet.Session, consumed []ratchet.PreKeyID) (err error) {
	data, err := sess.Serialize()
	if err != nil {
		return storeErr("commit session", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("commit session", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec("INSERT OR REPLACE INTO session (sid, record) VALUES (?, ?)", sid, data); err != nil {
		return storeErr("commit session", err)
	}
	for _, id := range consumed {
		if _, err = tx.Exec("DELETE FROM prekey WHERE id = ?", int64(id)); err != nil {
			return storeErr("commit session", fmt.Errorf("remove prekey %d: %w", id, err))
		}
	}
	if err = tx.Commit(); err != nil {
		return storeErr("commit session", err)
	}
	return nil
}
