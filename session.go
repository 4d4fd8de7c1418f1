package cryptobox

import (
	"sync"

	"github.com/gwillem/cryptobox-go/internal/ratchet"
)

// Session is a ratchet session bound to an id. It borrows the Box it was
// derived from and serializes its own operations.
type Session struct {
	mu     sync.Mutex
	box    *Box
	id     string
	sess   *ratchet.Session
	pstore *deferredPreKeys
	closed bool
}

// ID returns the session id. It never changes.
func (s *Session) ID() string { return s.id }

// Save persists the session and then commits the prekey removals staged
// since the last save. Saving twice in a row writes the same state.
func (s *Session) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	b := s.box
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	n, err := s.pstore.commit(s.id, s.sess)
	if err != nil {
		return err
	}
	b.logger.Debug("saved session", "sid", s.id, "prekeys_removed", n)
	return nil
}

// Close releases the session. Unsaved state, including staged prekey
// removals, is discarded. Closing twice is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.sess = nil
	s.pstore = nil
	s.box.releaseSession()
}

// Encrypt encrypts plain and returns the serialized envelope.
func (s *Session) Encrypt(plain []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	env, err := s.sess.Encrypt(plain)
	if err != nil {
		return nil, err
	}
	return env.Serialize()
}

// Decrypt decrypts a serialized envelope. Prekeys consumed on the way are
// staged until the next Save.
func (s *Session) Decrypt(cipher []byte) ([]byte, error) {
	env, err := ratchet.DeserializeEnvelope(cipher)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	b := s.box
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return s.sess.Decrypt(s.pstore, env)
}

// RemoteFingerprint returns the fingerprint of the remote identity.
func (s *Session) RemoteFingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return ""
	}
	return s.sess.RemoteIdentity().Fingerprint()
}
