// Package cryptobox manages long-lived cryptographic boxes: a store holding
// one local identity, the prekeys published for it and the ratchet sessions
// derived from it. It is the Go side of the libcbox C library.
package cryptobox

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gwillem/cryptobox-go/internal/config"
	"github.com/gwillem/cryptobox-go/internal/ratchet"
	"github.com/gwillem/cryptobox-go/internal/store"
)

// LastPrekeyID is the reserved last-resort prekey id. A session started from
// it does not consume the prekey.
const LastPrekeyID = uint16(ratchet.MaxPreKeyID)

// Box owns a Store and the local identity key pair. Every Session derived
// from a Box borrows it: the Box must not be closed while its sessions are
// still in use.
type Box struct {
	mu       sync.Mutex
	store    store.Store
	ident    *ratchet.IdentityKeyPair
	logger   *slog.Logger
	sessions int
	closed   bool
}

func newBox(st store.Store, opts []Option) *Box {
	b := &Box{
		store:  st,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func openFileStore(dir string) (*store.FileStore, error) {
	if err := checkText(dir); err != nil {
		return nil, err
	}
	cfg, err := config.LoadDir(dir)
	if err != nil {
		return nil, &store.Error{Op: "load config", Err: err}
	}
	return store.Open(dir, cfg.Store.Options())
}

// Open opens or creates the file store in dir and loads its identity,
// generating a new one for an empty store. A store that only holds a public
// identity cannot be opened this way; use OpenWith.
func Open(dir string, opts ...Option) (*Box, error) {
	ratchet.Init()
	st, err := openFileStore(dir)
	if err != nil {
		return nil, err
	}
	b, err := New(st, opts...)
	if err != nil {
		st.Close()
		return nil, err
	}
	b.logger.Debug("opened box", "path", st.Path())
	return b, nil
}

// OpenWith opens the file store in dir using an externally supplied,
// serialized identity. See IdentityMode for what is persisted.
func OpenWith(dir string, identity []byte, mode IdentityMode, opts ...Option) (*Box, error) {
	ratchet.Init()
	st, err := openFileStore(dir)
	if err != nil {
		return nil, err
	}
	b, err := NewWith(st, identity, mode, opts...)
	if err != nil {
		st.Close()
		return nil, err
	}
	b.logger.Debug("opened box", "path", st.Path(), "mode", mode)
	return b, nil
}

// New creates a Box on top of an open store, loading or generating the
// identity. On success the Box owns st.
func New(st store.Store, opts ...Option) (*Box, error) {
	ratchet.Init()
	b := newBox(st, opts)
	ident, err := loadIdentity(st, b.logger)
	if err != nil {
		return nil, err
	}
	b.ident = ident
	return b, nil
}

// NewWith is OpenWith for an arbitrary store. On success the Box owns st.
func NewWith(st store.Store, identity []byte, mode IdentityMode, opts ...Option) (*Box, error) {
	ratchet.Init()
	b := newBox(st, opts)
	ident, err := reconcileIdentity(st, identity, mode, b.logger)
	if err != nil {
		return nil, err
	}
	b.ident = ident
	return b, nil
}

// CopyIdentity returns the serialized local key pair.
func (b *Box) CopyIdentity() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return ratchet.SecretIdentity(b.ident).Serialize()
}

// NewPrekey generates and stores the prekey id and returns its serialized
// bundle. An existing prekey with the same id is replaced.
func (b *Box) NewPrekey(id uint16) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	pk, err := ratchet.NewPreKey(ratchet.PreKeyID(id))
	if err != nil {
		return nil, err
	}
	if err := b.store.AddPreKey(pk); err != nil {
		return nil, err
	}
	b.logger.Debug("generated prekey", "id", id)
	return ratchet.NewPreKeyBundle(b.ident.Public, pk).Serialize()
}

// Fingerprint returns the fingerprint of the local identity.
func (b *Box) Fingerprint() string {
	return b.ident.Public.Fingerprint()
}

// Close releases the store. Sessions derived from b must not be used
// afterwards; their store operations fail with ErrClosed.
func (b *Box) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.sessions > 0 {
		b.logger.Warn("closing box with open sessions", "sessions", b.sessions)
	}
	return b.store.Close()
}

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) []byte {
	ratchet.Init()
	return ratchet.RandomBytes(n)
}

// SessionFromPrekey starts a new session with the owner of a serialized
// prekey bundle. The store is not touched; call Save to persist it.
func (b *Box) SessionFromPrekey(sid string, bundle []byte) (*Session, error) {
	if err := checkText(sid); err != nil {
		return nil, err
	}
	pkb, err := ratchet.DeserializePreKeyBundle(bundle)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sess, err := ratchet.InitFromPreKey(b.ident, pkb)
	if err != nil {
		return nil, err
	}
	return b.newSession(sid, sess, newDeferredPreKeys(b.store)), nil
}

// SessionFromMessage creates a session from the first message a remote party
// sent us and returns it with the decrypted plaintext. The prekey the message
// used is only removed from the store once the session is saved.
func (b *Box) SessionFromMessage(sid string, cipher []byte) (*Session, []byte, error) {
	if err := checkText(sid); err != nil {
		return nil, nil, err
	}
	env, err := ratchet.DeserializeEnvelope(cipher)
	if err != nil {
		return nil, nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrClosed
	}
	pstore := newDeferredPreKeys(b.store)
	sess, plain, err := ratchet.InitFromMessage(b.ident, pstore, env)
	if err != nil {
		return nil, nil, err
	}
	return b.newSession(sid, sess, pstore), plain, nil
}

// Session loads the session saved under sid.
func (b *Box) Session(sid string) (*Session, error) {
	if err := checkText(sid); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sess, err := b.store.LoadSession(b.ident, sid)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, sid)
	}
	return b.newSession(sid, sess, newDeferredPreKeys(b.store)), nil
}

// DeleteSession removes the session saved under sid. Open Session values
// for sid are unaffected.
func (b *Box) DeleteSession(sid string) error {
	if err := checkText(sid); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return b.store.DeleteSession(sid)
}

// newSession must be called with b.mu held.
func (b *Box) newSession(sid string, sess *ratchet.Session, pstore *deferredPreKeys) *Session {
	b.sessions++
	return &Session{box: b, id: sid, sess: sess, pstore: pstore}
}

func (b *Box) releaseSession() {
	b.mu.Lock()
	b.sessions--
	b.mu.Unlock()
}
