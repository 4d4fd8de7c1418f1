package store

import (
	"database/sql"
	"errors"

	"github.com/gwillem/cryptobox-go/internal/ratchet"
)

// LoadIdentity returns the stored identity, or nil if none exists yet.
func (s *FileStore) LoadIdentity() (*ratchet.Identity, error) {
	var record []byte
	err := s.db.QueryRow("SELECT record FROM identity WHERE id = 0").Scan(&record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr("load identity", err)
	}
	id, err := ratchet.DeserializeIdentity(record)
	if err != nil {
		return nil, storeErr("load identity", err)
	}
	return &id, nil
}

// SaveIdentity replaces the stored identity. There is only ever one row.
func (s *FileStore) SaveIdentity(id ratchet.Identity) error {
	data, err := id.Serialize()
	if err != nil {
		return storeErr("save identity", err)
	}
	_, err = s.db.Exec("INSERT OR REPLACE INTO identity (id, record) VALUES (0, ?)", data)
	if err != nil {
		return storeErr("save identity", err)
	}
	return nil
}
