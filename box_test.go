package cryptobox

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/gwillem/cryptobox-go/internal/config"
	"github.com/gwillem/cryptobox-go/internal/ratchet"
	"github.com/gwillem/cryptobox-go/internal/store"
)

func openBox(t *testing.T) *Box {
	t.Helper()
	b, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func memBox(t *testing.T) (*Box, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	b, err := New(st)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, st
}

// handshake has alice start a session from one of bob's prekeys and bob
// accept it. Neither session is saved.
func handshake(t *testing.T, alice, bob *Box, id uint16) (as, bs *Session) {
	t.Helper()
	bundle, err := bob.NewPrekey(id)
	require.NoError(t, err)
	as, err = alice.SessionFromPrekey("bob", bundle)
	require.NoError(t, err)
	cipher, err := as.Encrypt([]byte("hello bob"))
	require.NoError(t, err)
	bs, plain, err := bob.SessionFromMessage("alice", cipher)
	require.NoError(t, err)
	require.Equal(t, "hello bob", string(plain))
	return as, bs
}

func TestOpenGeneratesAndReloadsIdentity(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(dir)
	require.NoError(t, err)
	fp := b.Fingerprint()
	ident, err := b.CopyIdentity()
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = Open(dir)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, fp, b.Fingerprint())
	again, err := b.CopyIdentity()
	require.NoError(t, err)
	assert.Equal(t, ident, again)
}

func TestOpenPublicOnlyStoreFails(t *testing.T) {
	dir := t.TempDir()
	donor := openBox(t)
	ident, err := donor.CopyIdentity()
	require.NoError(t, err)

	b, err := OpenWith(dir, ident, IdentityPublic)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = Open(dir)
	require.ErrorIs(t, err, ErrIdentity)
	assert.Equal(t, IdentityError, ResultOf(err))
}

func TestOpenRejectsBadPath(t *testing.T) {
	_, err := Open("bad\x00path")
	assert.Equal(t, NulError, ResultOf(err))
	_, err = Open(string([]byte{0xff, 0xfe}))
	assert.Equal(t, Utf8Error, ResultOf(err))
}

func TestOpenWithBootstrapTable(t *testing.T) {
	type stored int
	const (
		none stored = iota
		pairSame
		pairOther
		publicSame
		publicOther
	)
	tests := []struct {
		name    string
		stored  stored
		mode    IdentityMode
		wantErr bool
		// wantSecret is the kind of record left in the store.
		wantSecret bool
	}{
		{"none/complete", none, IdentityComplete, false, true},
		{"none/public", none, IdentityPublic, false, false},
		{"pair same/complete", pairSame, IdentityComplete, false, true},
		{"pair same/public", pairSame, IdentityPublic, false, false},
		{"pair other/complete", pairOther, IdentityComplete, true, true},
		{"pair other/public", pairOther, IdentityPublic, true, true},
		{"public same/complete", publicSame, IdentityComplete, false, true},
		{"public same/public", publicSame, IdentityPublic, false, false},
		{"public other/complete", publicOther, IdentityComplete, true, false},
		{"public other/public", publicOther, IdentityPublic, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := ratchet.GenerateIdentityKeyPair()
			require.NoError(t, err)
			other, err := ratchet.GenerateIdentityKeyPair()
			require.NoError(t, err)
			extBytes, err := ratchet.SecretIdentity(ext).Serialize()
			require.NoError(t, err)

			st := store.NewMemoryStore()
			switch tt.stored {
			case pairSame:
				require.NoError(t, st.SaveIdentity(ratchet.SecretIdentity(ext)))
			case pairOther:
				require.NoError(t, st.SaveIdentity(ratchet.SecretIdentity(other)))
			case publicSame:
				require.NoError(t, st.SaveIdentity(ratchet.PublicIdentity(ext.Public)))
			case publicOther:
				require.NoError(t, st.SaveIdentity(ratchet.PublicIdentity(other.Public)))
			}

			b, err := NewWith(st, extBytes, tt.mode)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrIdentity)
				assert.Equal(t, IdentityError, ResultOf(err))
			} else {
				require.NoError(t, err)
				assert.Equal(t, ext.Public.Fingerprint(), b.Fingerprint())
				got, err := b.CopyIdentity()
				require.NoError(t, err)
				assert.Equal(t, extBytes, got, "box always holds the full key pair")
			}

			id, err := st.LoadIdentity()
			require.NoError(t, err)
			require.NotNil(t, id)
			assert.Equal(t, tt.wantSecret, id.Secret != nil)
			if !tt.wantErr {
				assert.Equal(t, ext.Public, id.PublicKey())
			}
		})
	}
}

func TestOpenWithRejectsPublicIdentity(t *testing.T) {
	kp, err := ratchet.GenerateIdentityKeyPair()
	require.NoError(t, err)
	pub, err := ratchet.PublicIdentity(kp.Public).Serialize()
	require.NoError(t, err)

	_, err = NewWith(store.NewMemoryStore(), pub, IdentityComplete)
	require.ErrorIs(t, err, ErrIdentity)
}

func TestOpenWithGarbageIdentity(t *testing.T) {
	_, err := OpenWith(t.TempDir(), []byte("garbage"), IdentityComplete)
	assert.Equal(t, DecodeError, ResultOf(err))
}

func TestOpenWithUnknownMode(t *testing.T) {
	ident, err := openBox(t).CopyIdentity()
	require.NoError(t, err)
	_, err = NewWith(store.NewMemoryStore(), ident, IdentityMode(7))
	assert.Equal(t, IdentityError, ResultOf(err))
}

func TestRoundTrip(t *testing.T) {
	alice, bob := openBox(t), openBox(t)
	as, bs := handshake(t, alice, bob, 1)
	defer as.Close()
	defer bs.Close()

	for _, plain := range [][]byte{{}, {7}, bytes.Repeat([]byte("cryptobox"), 1024)} {
		cipher, err := bs.Encrypt(plain)
		require.NoError(t, err)
		got, err := as.Decrypt(cipher)
		require.NoError(t, err)
		assert.Equal(t, plain, got)

		cipher, err = as.Encrypt(plain)
		require.NoError(t, err)
		got, err = bs.Decrypt(cipher)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	}

	assert.Equal(t, alice.Fingerprint(), bs.RemoteFingerprint())
	assert.Equal(t, bob.Fingerprint(), as.RemoteFingerprint())
}

func TestSaveAndReload(t *testing.T) {
	alice, bob := openBox(t), openBox(t)
	as, bs := handshake(t, alice, bob, 1)
	require.NoError(t, as.Save())
	require.NoError(t, bs.Save())
	as.Close()
	bs.Close()

	as, err := alice.Session("bob")
	require.NoError(t, err)
	defer as.Close()
	assert.Equal(t, "bob", as.ID())
	bs, err = bob.Session("alice")
	require.NoError(t, err)
	defer bs.Close()

	cipher, err := bs.Encrypt([]byte("reloaded"))
	require.NoError(t, err)
	got, err := as.Decrypt(cipher)
	require.NoError(t, err)
	assert.Equal(t, "reloaded", string(got))
}

func TestSessionNotFound(t *testing.T) {
	b := openBox(t)
	_, err := b.Session("nobody")
	require.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, SessionNotFound, ResultOf(err))
}

func TestDeleteSession(t *testing.T) {
	alice, bob := openBox(t), openBox(t)
	as, _ := handshake(t, alice, bob, 1)
	require.NoError(t, as.Save())

	require.NoError(t, alice.DeleteSession("bob"))
	_, err := alice.Session("bob")
	require.ErrorIs(t, err, ErrSessionNotFound)

	// The live session is not affected.
	_, err = as.Encrypt([]byte("still here"))
	assert.NoError(t, err)
}

func TestSaveCommitsPreKeyRemoval(t *testing.T) {
	alice, _ := memBox(t)
	bob, bobStore := memBox(t)
	_, bs := handshake(t, alice, bob, 5)

	assert.Equal(t, []ratchet.PreKeyID{5}, bobStore.PreKeyIDs(), "prekey kept until save")
	require.NoError(t, bs.Save())
	assert.Empty(t, bobStore.PreKeyIDs())
}

func TestLastResortPreKeySurvivesSave(t *testing.T) {
	alice, _ := memBox(t)
	bob, bobStore := memBox(t)
	_, bs := handshake(t, alice, bob, LastPrekeyID)
	require.NoError(t, bs.Save())
	assert.Equal(t, []ratchet.PreKeyID{ratchet.MaxPreKeyID}, bobStore.PreKeyIDs())
}

func TestUnsavedSessionLeavesPreKey(t *testing.T) {
	alice, bob := openBox(t), openBox(t)
	bundle, err := bob.NewPrekey(3)
	require.NoError(t, err)
	as, err := alice.SessionFromPrekey("bob", bundle)
	require.NoError(t, err)
	cipher, err := as.Encrypt([]byte("replay me"))
	require.NoError(t, err)

	bs, _, err := bob.SessionFromMessage("alice", cipher)
	require.NoError(t, err)
	bs.Close()

	// Nothing was saved, so the same message can establish the session again.
	bs, plain, err := bob.SessionFromMessage("alice", cipher)
	require.NoError(t, err)
	defer bs.Close()
	assert.Equal(t, "replay me", string(plain))
}

func TestDuplicateMessage(t *testing.T) {
	alice, bob := openBox(t), openBox(t)
	as, bs := handshake(t, alice, bob, 1)
	cipher, err := as.Encrypt([]byte("once"))
	require.NoError(t, err)
	_, err = bs.Decrypt(cipher)
	require.NoError(t, err)

	_, err = bs.Decrypt(cipher)
	require.ErrorIs(t, err, ratchet.ErrDuplicateMessage)
	assert.Equal(t, DuplicateMessage, ResultOf(err))
}

func TestSaveIdempotent(t *testing.T) {
	alice, _ := memBox(t)
	bob, bobStore := memBox(t)
	_, bs := handshake(t, alice, bob, 2)

	snapshot := func() []byte {
		sess, err := bobStore.LoadSession(bob.ident, "alice")
		require.NoError(t, err)
		require.NotNil(t, sess)
		data, err := sess.Serialize()
		require.NoError(t, err)
		return data
	}

	require.NoError(t, bs.Save())
	first := snapshot()
	assert.Empty(t, bs.pstore.pending)

	require.NoError(t, bs.Save())
	assert.Equal(t, first, snapshot())
	assert.Empty(t, bs.pstore.pending)
}

// spyStore counts calls and hides the Committer implementation of the
// wrapped store.
type spyStore struct {
	store.Store
	calls      int
	failRemove int
}

func (s *spyStore) LoadSession(ident *ratchet.IdentityKeyPair, sid string) (*ratchet.Session, error) {
	s.calls++
	return s.Store.LoadSession(ident, sid)
}

func (s *spyStore) SaveSession(sid string, sess *ratchet.Session) error {
	s.calls++
	return s.Store.SaveSession(sid, sess)
}

func (s *spyStore) DeleteSession(sid string) error {
	s.calls++
	return s.Store.DeleteSession(sid)
}

func (s *spyStore) PreKey(id ratchet.PreKeyID) (*ratchet.PreKey, error) {
	s.calls++
	return s.Store.PreKey(id)
}

func (s *spyStore) RemovePreKey(id ratchet.PreKeyID) error {
	s.calls++
	if s.failRemove > 0 {
		s.failRemove--
		return &store.Error{Op: "remove prekey", Err: errors.New("injected")}
	}
	return s.Store.RemovePreKey(id)
}

func TestNulSessionIDRejectedBeforeStore(t *testing.T) {
	spy := &spyStore{Store: store.NewMemoryStore()}
	b, err := New(spy)
	require.NoError(t, err)
	defer b.Close()
	spy.calls = 0

	const sid = "ali\x00ce"
	_, err = b.Session(sid)
	var nul *NulByteError
	require.ErrorAs(t, err, &nul)
	assert.Equal(t, 3, nul.Pos)
	assert.Equal(t, NulError, ResultOf(err))

	assert.Equal(t, NulError, ResultOf(b.DeleteSession(sid)))
	_, _, err = b.SessionFromMessage(sid, []byte("irrelevant"))
	assert.Equal(t, NulError, ResultOf(err))
	_, err = b.SessionFromPrekey(sid, []byte("irrelevant"))
	assert.Equal(t, NulError, ResultOf(err))

	assert.Zero(t, spy.calls, "store must not be touched")
}

func TestInvalidUTF8SessionID(t *testing.T) {
	b := openBox(t)
	_, err := b.Session(string([]byte{'a', 0xC0}))
	require.ErrorIs(t, err, ErrInvalidUTF8)
	assert.Equal(t, Utf8Error, ResultOf(err))
}

func TestSaveWithoutCommitterRetries(t *testing.T) {
	alice, _ := memBox(t)
	mem := store.NewMemoryStore()
	spy := &spyStore{Store: mem}
	bob, err := New(spy)
	require.NoError(t, err)
	defer bob.Close()

	_, bs := handshake(t, alice, bob, 4)
	spy.failRemove = 1

	err = bs.Save()
	assert.Equal(t, StorageError, ResultOf(err))
	// The session is durable even though the prekey is still there.
	sess, err := mem.LoadSession(bob.ident, "alice")
	require.NoError(t, err)
	assert.NotNil(t, sess)
	assert.Equal(t, []ratchet.PreKeyID{4}, mem.PreKeyIDs())
	assert.Equal(t, []ratchet.PreKeyID{4}, bs.pstore.pending)

	require.NoError(t, bs.Save())
	assert.Empty(t, mem.PreKeyIDs())
	assert.Empty(t, bs.pstore.pending)
}

func TestClosedBox(t *testing.T) {
	alice, bob := openBox(t), openBox(t)
	as, _ := handshake(t, alice, bob, 1)

	require.NoError(t, alice.Close())
	require.NoError(t, alice.Close())

	err := as.Save()
	require.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, StorageError, ResultOf(err))
	_, err = alice.NewPrekey(1)
	assert.ErrorIs(t, err, ErrClosed)
	as.Close()
}

func TestClosedSession(t *testing.T) {
	alice, bob := openBox(t), openBox(t)
	as, _ := handshake(t, alice, bob, 1)
	as.Close()
	as.Close()

	_, err := as.Encrypt([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, as.Save(), ErrClosed)
	assert.Equal(t, 0, alice.sessions)
}

func TestDecryptGarbage(t *testing.T) {
	alice, bob := openBox(t), openBox(t)
	_, bs := handshake(t, alice, bob, 1)
	_, err := bs.Decrypt([]byte{1, 2, 3})
	assert.Equal(t, DecodeError, ResultOf(err))

	_, err = bob.SessionFromPrekey("x", []byte("no bundle"))
	assert.Equal(t, DecodeError, ResultOf(err))
}

func TestPreKeyNotFound(t *testing.T) {
	alice, bob := openBox(t), openBox(t)
	bundle, err := bob.NewPrekey(8)
	require.NoError(t, err)
	as, err := alice.SessionFromPrekey("bob", bundle)
	require.NoError(t, err)
	cipher, err := as.Encrypt([]byte("x"))
	require.NoError(t, err)

	bs, _, err := bob.SessionFromMessage("alice", cipher)
	require.NoError(t, err)
	require.NoError(t, bs.Save())

	// The prekey is gone once the first session was saved.
	_, _, err = bob.SessionFromMessage("alice2", cipher)
	assert.Equal(t, PreKeyNotFound, ResultOf(err))
}

func TestRandomBytes(t *testing.T) {
	a, b := RandomBytes(32), RandomBytes(32)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	assert.Empty(t, RandomBytes(0))
}

func TestOpenCreatesNestedDir(t *testing.T) {
	b, err := Open(filepath.Join(t.TempDir(), "nested", "box"))
	require.NoError(t, err)
	require.NoError(t, b.Close())
}

func TestOpenBadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte("store:\n  busy_timeout: never\n"), 0600))
	_, err := Open(dir)
	var se *store.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StorageError, ResultOf(err))
}

func TestLowOrderBundleKey(t *testing.T) {
	alice, bob := openBox(t), openBox(t)
	bundle, err := bob.NewPrekey(2)
	require.NoError(t, err)
	pkb, err := ratchet.DeserializePreKeyBundle(bundle)
	require.NoError(t, err)
	pkb.PublicKey = ratchet.PublicKey{}
	forged, err := pkb.Serialize()
	require.NoError(t, err)

	_, err = alice.SessionFromPrekey("bob", forged)
	assert.Equal(t, DecodeError, ResultOf(err))
	assert.Equal(t, 0, alice.sessions)
}

// cipherEnvelope encodes a cipher message envelope under tag with the given
// ratchet key and an all-zero MAC.
func cipherEnvelope(tag ratchet.SessionTag, key ratchet.PublicKey) []byte {
	var m []byte
	m = protowire.AppendTag(m, 1, protowire.BytesType)
	m = protowire.AppendBytes(m, tag[:])
	m = protowire.AppendTag(m, 2, protowire.VarintType)
	m = protowire.AppendVarint(m, 0)
	m = protowire.AppendTag(m, 3, protowire.VarintType)
	m = protowire.AppendVarint(m, 0)
	m = protowire.AppendTag(m, 4, protowire.BytesType)
	m = protowire.AppendBytes(m, key[:])
	m = protowire.AppendTag(m, 5, protowire.BytesType)
	m = protowire.AppendBytes(m, []byte("x"))

	var msg []byte
	msg = protowire.AppendTag(msg, 1, protowire.BytesType)
	msg = protowire.AppendBytes(msg, m)

	var env []byte
	env = protowire.AppendTag(env, 1, protowire.VarintType)
	env = protowire.AppendVarint(env, 1)
	env = protowire.AppendTag(env, 2, protowire.BytesType)
	env = protowire.AppendBytes(env, make([]byte, 32))
	env = protowire.AppendTag(env, 3, protowire.BytesType)
	env = protowire.AppendBytes(env, msg)
	return env
}

func TestLowOrderRatchetKey(t *testing.T) {
	alice, bob := openBox(t), openBox(t)
	as, bs := handshake(t, alice, bob, 1)
	cipher, err := as.Encrypt([]byte("still here"))
	require.NoError(t, err)
	env, err := ratchet.DeserializeEnvelope(cipher)
	require.NoError(t, err)
	require.NotNil(t, env.PreKey)

	_, err = bs.Decrypt(cipherEnvelope(env.PreKey.Message.SessionTag, ratchet.PublicKey{}))
	assert.Equal(t, InvalidMessage, ResultOf(err))

	plain, err := bs.Decrypt(cipher)
	require.NoError(t, err)
	assert.Equal(t, "still here", string(plain))
}
