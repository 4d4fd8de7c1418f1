package store

import (
	"database/sql"
	"errors"

	"github.com/gwillem/cryptobox-go/internal/ratchet"
)

// AddPreKey stores a one-time prekey, replacing any prekey with the same id.
func (s *FileStore) AddPreKey(pk *ratchet.PreKey) error {
	data, err := pk.Serialize()
	if err != nil {
		return storeErr("add prekey", err)
	}
	_, err = s.db.Exec("INSERT OR REPLACE INTO prekey (id, record) VALUES (?, ?)", int64(pk.ID), data)
	if err != nil {
		return storeErr("add prekey", err)
	}
	return nil
}

// PreKey loads a prekey by id. Returns nil, nil if it does not exist.
func (s *FileStore) PreKey(id ratchet.PreKeyID) (*ratchet.PreKey, error) {
	var record []byte
	err := s.db.QueryRow("SELECT record FROM prekey WHERE id = ?", int64(id)).Scan(&record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr("load prekey", err)
	}
	pk, err := ratchet.DeserializePreKey(record)
	if err != nil {
		return nil, storeErr("load prekey", err)
	}
	return pk, nil
}

// RemovePreKey deletes a prekey. Removing a missing prekey is not an error.
func (s *FileStore) RemovePreKey(id ratchet.PreKeyID) error {
	if _, err := s.db.Exec("DELETE FROM prekey WHERE id = ?", int64(id)); err != nil {
		return storeErr("remove prekey", err)
	}
	return nil
}
