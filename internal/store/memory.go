package store

import (
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/gwillem/cryptobox-go/internal/ratchet"
)

// ErrClosed is wrapped by MemoryStore operations after Close.
var ErrClosed = errors.New("store closed")

// MemoryStore is an in-memory Store. Records are kept serialized so callers
// never share state with the store.
type MemoryStore struct {
	mu       sync.Mutex
	identity []byte
	sessions map[string][]byte
	prekeys  map[ratchet.PreKeyID][]byte
	closed   bool
}

var (
	_ Store     = (*MemoryStore)(nil)
	_ Committer = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string][]byte{},
		prekeys:  map[ratchet.PreKeyID][]byte{},
	}
}

func (m *MemoryStore) check(op string) error {
	if m.closed {
		return storeErr(op, ErrClosed)
	}
	return nil
}

func (m *MemoryStore) LoadIdentity() (*ratchet.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("load identity"); err != nil {
		return nil, err
	}
	if m.identity == nil {
		return nil, nil
	}
	id, err := ratchet.DeserializeIdentity(m.identity)
	if err != nil {
		return nil, storeErr("load identity", err)
	}
	return &id, nil
}

func (m *MemoryStore) SaveIdentity(id ratchet.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("save identity"); err != nil {
		return err
	}
	data, err := id.Serialize()
	if err != nil {
		return storeErr("save identity", err)
	}
	m.identity = data
	return nil
}

func (m *MemoryStore) LoadSession(ident *ratchet.IdentityKeyPair, sid string) (*ratchet.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("load session"); err != nil {
		return nil, err
	}
	data, ok := m.sessions[sid]
	if !ok {
		return nil, nil
	}
	sess, err := ratchet.DeserializeSession(ident, data)
	if err != nil {
		return nil, storeErr("load session", err)
	}
	return sess, nil
}

func (m *MemoryStore) SaveSession(sid string, s *ratchet.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("save session"); err != nil {
		return err
	}
	data, err := s.Serialize()
	if err != nil {
		return storeErr("save session", err)
	}
	m.sessions[sid] = data
	return nil
}

func (m *MemoryStore) DeleteSession(sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("delete session"); err != nil {
		return err
	}
	delete(m.sessions, sid)
	return nil
}

func (m *MemoryStore) CommitSession(sid string, s *ratchet.Session, consumed []ratchet.PreKeyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("commit session"); err != nil {
		return err
	}
	data, err := s.Serialize()
	if err != nil {
		return storeErr("commit session", err)
	}
	m.sessions[sid] = data
	for _, id := range consumed {
		delete(m.prekeys, id)
	}
	return nil
}

func (m *MemoryStore) AddPreKey(pk *ratchet.PreKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("add prekey"); err != nil {
		return err
	}
	data, err := pk.Serialize()
	if err != nil {
		return storeErr("add prekey", err)
	}
	m.prekeys[pk.ID] = data
	return nil
}

func (m *MemoryStore) PreKey(id ratchet.PreKeyID) (*ratchet.PreKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("load prekey"); err != nil {
		return nil, err
	}
	data, ok := m.prekeys[id]
	if !ok {
		return nil, nil
	}
	pk, err := ratchet.DeserializePreKey(data)
	if err != nil {
		return nil, storeErr("load prekey", err)
	}
	return pk, nil
}

func (m *MemoryStore) RemovePreKey(id ratchet.PreKeyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("remove prekey"); err != nil {
		return err
	}
	delete(m.prekeys, id)
	return nil
}

// PreKeyIDs lists the stored prekey ids in ascending order.
func (m *MemoryStore) PreKeyIDs() []ratchet.PreKeyID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.prekeys))
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
