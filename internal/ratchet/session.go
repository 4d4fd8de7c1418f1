package ratchet

import (
	"cmp"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const (
	maxRecvChains    = 5
	maxCounterGap    = 1000
	maxSessionStates = 100
)

var (
	infoHandshake   = []byte("cryptobox:handshake")
	infoDHRatchet   = []byte("cryptobox:dh_ratchet")
	infoMessageKeys = []byte("cryptobox:message_keys")
)

func hmacSHA256(key, msg []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(msg)
	return m.Sum(nil)
}

func expand(secret, salt, info []byte, n int) []byte {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out); err != nil {
		panic(fmt.Sprintf("ratchet: hkdf: %v", err))
	}
	return out
}

// messageKeys encrypt and authenticate a single message.
type messageKeys struct {
	cipher  [32]byte
	mac     [32]byte
	counter uint32
}

func (mk *messageKeys) xor(in []byte) []byte {
	var nonce [chacha20.NonceSize]byte
	binary.BigEndian.PutUint32(nonce[len(nonce)-4:], mk.counter)
	c, err := chacha20.NewUnauthenticatedCipher(mk.cipher[:], nonce[:])
	if err != nil {
		panic(fmt.Sprintf("ratchet: chacha20: %v", err))
	}
	out := make([]byte, len(in))
	c.XORKeyStream(out, in)
	return out
}

func (mk *messageKeys) sign(msg []byte) [32]byte {
	var out [32]byte
	copy(out[:], hmacSHA256(mk.mac[:], msg))
	return out
}

func (mk *messageKeys) verify(env *Envelope) bool {
	want := mk.sign(env.message)
	return hmac.Equal(want[:], env.MAC[:])
}

type chainKey struct {
	key [32]byte
	idx uint32
}

func (ck chainKey) next() chainKey {
	var n chainKey
	copy(n.key[:], hmacSHA256(ck.key[:], []byte{1}))
	n.idx = ck.idx + 1
	return n
}

func (ck chainKey) messageKeys() messageKeys {
	seed := hmacSHA256(ck.key[:], []byte{0})
	okm := expand(seed, nil, infoMessageKeys, 64)
	var mk messageKeys
	copy(mk.cipher[:], okm[:32])
	copy(mk.mac[:], okm[32:])
	mk.counter = ck.idx
	return mk
}

type rootKey [32]byte

// dhRatchet mixes a fresh agreement into the root key and derives the next
// chain key.
func (rk rootKey) dhRatchet(ours KeyPair, theirs PublicKey) (rootKey, chainKey, error) {
	var (
		nrk rootKey
		ck  chainKey
	)
	secret, err := ours.dh(theirs)
	if err != nil {
		return nrk, ck, err
	}
	okm := expand(secret, rk[:], infoDHRatchet, 64)
	copy(nrk[:], okm[:32])
	copy(ck.key[:], okm[32:])
	return nrk, ck, nil
}

type sendChain struct {
	chainKey   chainKey
	ratchetKey KeyPair
}

type recvChain struct {
	chainKey   chainKey
	ratchetKey PublicKey
	skipped    []messageKeys // ascending by counter
}

// tryMessageKeys decrypts a message older than the chain head from the
// retained skipped keys.
func (rc *recvChain) tryMessageKeys(env *Envelope, m *CipherMessage) ([]byte, error) {
	if len(rc.skipped) == 0 {
		return nil, ErrDuplicateMessage
	}
	if m.Counter < rc.skipped[0].counter {
		return nil, ErrOutdatedMessage
	}
	i := slices.IndexFunc(rc.skipped, func(mk messageKeys) bool { return mk.counter == m.Counter })
	if i < 0 {
		return nil, ErrDuplicateMessage
	}
	mk := rc.skipped[i]
	if !mk.verify(env) {
		return nil, ErrInvalidSignature
	}
	rc.skipped = slices.Delete(rc.skipped, i, i+1)
	return mk.xor(m.CipherText), nil
}

// stageMessageKeys derives the keys up to m.Counter without touching the
// chain. It returns the chain key at m.Counter, its message keys and the
// keys skipped on the way.
func (rc *recvChain) stageMessageKeys(m *CipherMessage) (chainKey, messageKeys, []messageKeys) {
	ck := rc.chainKey
	var skipped []messageKeys
	for ck.idx < m.Counter {
		skipped = append(skipped, ck.messageKeys())
		ck = ck.next()
	}
	return ck, ck.messageKeys(), skipped
}

func (rc *recvChain) commitMessageKeys(keys []messageKeys) {
	rc.skipped = append(rc.skipped, keys...)
	if excess := len(rc.skipped) - maxCounterGap; excess > 0 {
		rc.skipped = slices.Delete(rc.skipped, 0, excess)
	}
}

// sessionState is one ratchet, identified by a SessionTag inside a Session.
type sessionState struct {
	recvChains  []recvChain // newest first
	sendChain   sendChain
	rootKey     rootKey
	prevCounter uint32
}

func (s *sessionState) clone() *sessionState {
	c := *s
	c.recvChains = make([]recvChain, len(s.recvChains))
	for i, rc := range s.recvChains {
		rc.skipped = slices.Clone(rc.skipped)
		c.recvChains[i] = rc
	}
	return &c
}

// initAsAlice runs the initiator side of the handshake against bundle.
func initAsAlice(local *IdentityKeyPair, base KeyPair, bundle *PreKeyBundle) (*sessionState, error) {
	remoteDH, err := bundle.IdentityKey.dhPublic()
	if err != nil {
		return nil, err
	}
	var master []byte
	for _, step := range []func() ([]byte, error){
		func() ([]byte, error) { return local.dh(bundle.PublicKey) },
		func() ([]byte, error) { return base.dh(remoteDH) },
		func() ([]byte, error) { return base.dh(bundle.PublicKey) },
	} {
		s, err := step()
		if err != nil {
			return nil, &DecodeError{What: "prekey bundle", Err: err}
		}
		master = append(master, s...)
	}
	rk, ck := deriveHandshake(master)

	ratchetKey, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	rk2, sendCK, err := rk.dhRatchet(ratchetKey, bundle.PublicKey)
	if err != nil {
		return nil, &DecodeError{What: "prekey bundle", Err: err}
	}
	return &sessionState{
		recvChains: []recvChain{{chainKey: ck, ratchetKey: bundle.PublicKey}},
		sendChain:  sendChain{chainKey: sendCK, ratchetKey: ratchetKey},
		rootKey:    rk2,
	}, nil
}

// initAsBob runs the responder side of the handshake for a prekey message.
func initAsBob(local *IdentityKeyPair, prekey *PreKey, m *PreKeyMessage) (*sessionState, error) {
	remoteDH, err := m.IdentityKey.dhPublic()
	if err != nil {
		return nil, err
	}
	var master []byte
	for _, step := range []func() ([]byte, error){
		func() ([]byte, error) { return prekey.KeyPair.dh(remoteDH) },
		func() ([]byte, error) { return local.dh(m.BaseKey) },
		func() ([]byte, error) { return prekey.KeyPair.dh(m.BaseKey) },
	} {
		s, err := step()
		if err != nil {
			return nil, &DecodeError{What: "prekey message", Err: err}
		}
		master = append(master, s...)
	}
	rk, ck := deriveHandshake(master)
	return &sessionState{
		sendChain: sendChain{chainKey: ck, ratchetKey: prekey.KeyPair},
		rootKey:   rk,
	}, nil
}

func deriveHandshake(master []byte) (rootKey, chainKey) {
	okm := expand(master, nil, infoHandshake, 64)
	var (
		rk rootKey
		ck chainKey
	)
	copy(rk[:], okm[:32])
	copy(ck.key[:], okm[32:])
	return rk, ck
}

// ratchet performs a DH ratchet step for a new remote ratchet key. It runs
// before the MAC is checked, so a key X25519 rejects is an invalid message.
func (s *sessionState) ratchet(theirs PublicKey) error {
	rk, recvCK, err := s.rootKey.dhRatchet(s.sendChain.ratchetKey, theirs)
	if err != nil {
		return fmt.Errorf("%w: ratchet key: %v", ErrInvalidMessage, err)
	}
	ours, err := GenerateKeyPair()
	if err != nil {
		return err
	}
	rk2, sendCK, err := rk.dhRatchet(ours, theirs)
	if err != nil {
		return fmt.Errorf("%w: ratchet key: %v", ErrInvalidMessage, err)
	}
	s.recvChains = slices.Insert(s.recvChains, 0, recvChain{chainKey: recvCK, ratchetKey: theirs})
	if len(s.recvChains) > maxRecvChains {
		s.recvChains = s.recvChains[:maxRecvChains]
	}
	s.prevCounter = s.sendChain.chainKey.idx
	s.sendChain = sendChain{chainKey: sendCK, ratchetKey: ours}
	s.rootKey = rk2
	return nil
}

func (s *sessionState) encrypt(tag SessionTag, plain []byte) (*CipherMessage, messageKeys) {
	mk := s.sendChain.chainKey.messageKeys()
	m := &CipherMessage{
		SessionTag:  tag,
		Counter:     s.sendChain.chainKey.idx,
		PrevCounter: s.prevCounter,
		RatchetKey:  s.sendChain.ratchetKey.Public,
		CipherText:  mk.xor(plain),
	}
	s.sendChain.chainKey = s.sendChain.chainKey.next()
	return m, mk
}

func (s *sessionState) decrypt(env *Envelope, m *CipherMessage) ([]byte, error) {
	i := slices.IndexFunc(s.recvChains, func(rc recvChain) bool { return rc.ratchetKey == m.RatchetKey })
	if i < 0 {
		if err := s.ratchet(m.RatchetKey); err != nil {
			return nil, err
		}
		i = 0
	}
	rc := &s.recvChains[i]
	switch {
	case m.Counter < rc.chainKey.idx:
		return rc.tryMessageKeys(env, m)
	case m.Counter-rc.chainKey.idx > maxCounterGap:
		return nil, ErrTooDistantFuture
	}
	ck, mk, skipped := rc.stageMessageKeys(m)
	if !mk.verify(env) {
		return nil, ErrInvalidSignature
	}
	plain := mk.xor(m.CipherText)
	if len(skipped) > 0 {
		rc.commitMessageKeys(skipped)
	}
	rc.chainKey = ck.next()
	return plain, nil
}

type pendingPreKey struct {
	id      PreKeyID
	baseKey PublicKey
}

type stateEntry struct {
	state *sessionState
	seq   uint64
}

// Session is a ratchet session with one remote identity. It may hold several
// states when both sides initiated concurrently.
type Session struct {
	local   *IdentityKeyPair
	remote  IdentityKey
	tag     SessionTag
	pending *pendingPreKey
	states  map[SessionTag]*stateEntry
	seq     uint64
}

// newTag returns a random (version 4 UUID) session tag.
func newTag() (SessionTag, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return SessionTag{}, fmt.Errorf("ratchet: session tag: %w", err)
	}
	return SessionTag(id), nil
}

// InitFromPreKey starts a session as initiator. Messages are sent as prekey
// messages until the first reply is decrypted.
func InitFromPreKey(local *IdentityKeyPair, bundle *PreKeyBundle) (*Session, error) {
	base, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	st, err := initAsAlice(local, base, bundle)
	if err != nil {
		return nil, err
	}
	tag, err := newTag()
	if err != nil {
		return nil, err
	}
	s := &Session{
		local:   local,
		remote:  bundle.IdentityKey,
		pending: &pendingPreKey{id: bundle.PreKeyID, baseKey: base.Public},
		states:  map[SessionTag]*stateEntry{},
	}
	s.insert(tag, st)
	return s, nil
}

// InitFromMessage creates a responder session from an incoming prekey
// message and returns it with the decrypted plaintext. The prekey is looked
// up in, and removed through, store.
func InitFromMessage(local *IdentityKeyPair, store PreKeyStore, env *Envelope) (*Session, []byte, error) {
	if env.PreKey == nil {
		return nil, nil, ErrInvalidMessage
	}
	s := &Session{
		local:  local,
		remote: env.PreKey.IdentityKey,
		states: map[SessionTag]*stateEntry{},
	}
	plain, err := s.Decrypt(store, env)
	if err != nil {
		return nil, nil, err
	}
	return s, plain, nil
}

// LocalIdentity returns the public key of the local identity.
func (s *Session) LocalIdentity() IdentityKey { return s.local.Public }

// RemoteIdentity returns the public key of the remote party.
func (s *Session) RemoteIdentity() IdentityKey { return s.remote }

func (s *Session) insert(tag SessionTag, st *sessionState) {
	s.seq++
	s.states[tag] = &stateEntry{state: st, seq: s.seq}
	s.tag = tag
	for len(s.states) > maxSessionStates {
		var (
			oldest    SessionTag
			oldestSeq uint64
			found     bool
		)
		for t, e := range s.states {
			if t != s.tag && (!found || e.seq < oldestSeq) {
				oldest, oldestSeq, found = t, e.seq, true
			}
		}
		delete(s.states, oldest)
	}
}

// Encrypt advances the sending chain of the current state.
func (s *Session) Encrypt(plain []byte) (*Envelope, error) {
	e, ok := s.states[s.tag]
	if !ok {
		return nil, &EncodeError{What: "message", Err: fmt.Errorf("no current session state")}
	}
	m, mk := e.state.encrypt(s.tag, plain)
	if s.pending == nil {
		return newEnvelope(&mk, m, nil), nil
	}
	return newEnvelope(&mk, nil, &PreKeyMessage{
		PreKeyID:    s.pending.id,
		BaseKey:     s.pending.baseKey,
		IdentityKey: s.local.Public,
		Message:     m,
	}), nil
}

// Decrypt decrypts env. The session is only modified when decryption
// succeeds.
func (s *Session) Decrypt(store PreKeyStore, env *Envelope) ([]byte, error) {
	m := env.cipherMessage()
	if m == nil {
		return nil, ErrInvalidMessage
	}
	if pkm := env.PreKey; pkm != nil {
		if pkm.IdentityKey != s.remote {
			return nil, ErrRemoteIdentityChanged
		}
		if _, ok := s.states[m.SessionTag]; !ok {
			return s.decryptNewState(store, env, pkm)
		}
	}
	e, ok := s.states[m.SessionTag]
	if !ok {
		return nil, ErrInvalidMessage
	}
	st := e.state.clone()
	plain, err := st.decrypt(env, m)
	if err != nil {
		return nil, err
	}
	e.state = st
	s.tag = m.SessionTag
	s.pending = nil
	return plain, nil
}

func (s *Session) decryptNewState(store PreKeyStore, env *Envelope, pkm *PreKeyMessage) ([]byte, error) {
	prekey, err := store.PreKey(pkm.PreKeyID)
	if err != nil {
		return nil, &PreKeyStoreError{Err: err}
	}
	if prekey == nil {
		return nil, &PreKeyNotFoundError{ID: pkm.PreKeyID}
	}
	st, err := initAsBob(s.local, prekey, pkm)
	if err != nil {
		return nil, err
	}
	plain, err := st.decrypt(env, pkm.Message)
	if err != nil {
		return nil, err
	}
	if pkm.PreKeyID != MaxPreKeyID {
		if err := store.RemovePreKey(pkm.PreKeyID); err != nil {
			return nil, &PreKeyStoreError{Err: err}
		}
	}
	s.insert(pkm.Message.SessionTag, st)
	s.pending = nil
	return plain, nil
}

// Serialize encodes the whole session including every retained state.
func (s *Session) Serialize() ([]byte, error) {
	var e encoder
	e.bytes(1, s.local.Public[:])
	e.bytes(2, s.remote[:])
	e.bytes(3, s.tag[:])
	if s.pending != nil {
		var p encoder
		p.uint(1, uint64(s.pending.id))
		p.bytes(2, s.pending.baseKey[:])
		e.bytes(4, p.b)
	}
	tags := make([]SessionTag, 0, len(s.states))
	for t := range s.states {
		tags = append(tags, t)
	}
	slices.SortFunc(tags, func(a, b SessionTag) int {
		return cmp.Compare(s.states[a].seq, s.states[b].seq)
	})
	for _, t := range tags {
		var se encoder
		se.bytes(1, t[:])
		se.bytes(2, encodeState(s.states[t].state))
		e.bytes(5, se.b)
	}
	return e.b, nil
}

func encodeState(st *sessionState) []byte {
	var e encoder
	e.bytes(1, st.rootKey[:])
	e.uint(2, uint64(st.prevCounter))
	var sc encoder
	sc.bytes(1, st.sendChain.chainKey.key[:])
	sc.uint(2, uint64(st.sendChain.chainKey.idx))
	sc.bytes(3, st.sendChain.ratchetKey.Secret[:])
	sc.bytes(4, st.sendChain.ratchetKey.Public[:])
	e.bytes(3, sc.b)
	for _, rc := range st.recvChains {
		var re encoder
		re.bytes(1, rc.chainKey.key[:])
		re.uint(2, uint64(rc.chainKey.idx))
		re.bytes(3, rc.ratchetKey[:])
		for _, mk := range rc.skipped {
			var me encoder
			me.bytes(1, mk.cipher[:])
			me.bytes(2, mk.mac[:])
			me.uint(3, uint64(mk.counter))
			re.bytes(4, me.b)
		}
		e.bytes(4, re.b)
	}
	return e.b
}

// DeserializeSession decodes a session produced by Serialize. The session
// must belong to local.
func DeserializeSession(local *IdentityKeyPair, b []byte) (*Session, error) {
	const what = "session"
	s := &Session{local: local, states: map[SessionTag]*stateEntry{}}
	var (
		owner IdentityKey
		seen  int
	)
	err := decodeFields(what, b, func(f field) error {
		switch f.num {
		case 1:
			seen |= 1
			return f.key32(what, (*[32]byte)(&owner))
		case 2:
			seen |= 2
			return f.key32(what, (*[32]byte)(&s.remote))
		case 3:
			if len(f.bytes) != len(s.tag) {
				return &DecodeError{What: what, Err: fmt.Errorf("session tag length %d", len(f.bytes))}
			}
			copy(s.tag[:], f.bytes)
			seen |= 4
		case 4:
			p := &pendingPreKey{}
			err := decodeFields(what, f.bytes, func(f field) error {
				switch f.num {
				case 1:
					id, err := f.asUint16(what)
					p.id = PreKeyID(id)
					return err
				case 2:
					return f.key32(what, (*[32]byte)(&p.baseKey))
				}
				return nil
			})
			s.pending = p
			return err
		case 5:
			var (
				tag SessionTag
				st  *sessionState
			)
			err := decodeFields(what, f.bytes, func(f field) error {
				switch f.num {
				case 1:
					if len(f.bytes) != len(tag) {
						return &DecodeError{What: what, Err: fmt.Errorf("session tag length %d", len(f.bytes))}
					}
					copy(tag[:], f.bytes)
				case 2:
					var err error
					st, err = decodeState(f.bytes)
					return err
				}
				return nil
			})
			if err != nil {
				return err
			}
			if st == nil {
				return missing(what, "state")
			}
			s.seq++
			s.states[tag] = &stateEntry{state: st, seq: s.seq}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if seen != 7 {
		return nil, missing(what, "fields")
	}
	if owner != local.Public {
		return nil, &DecodeError{What: what, Err: fmt.Errorf("session belongs to another identity")}
	}
	if _, ok := s.states[s.tag]; !ok {
		return nil, &DecodeError{What: what, Err: fmt.Errorf("current state missing")}
	}
	return s, nil
}

func decodeState(b []byte) (*sessionState, error) {
	const what = "session state"
	st := &sessionState{}
	err := decodeFields(what, b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			err = f.key32(what, (*[32]byte)(&st.rootKey))
		case 2:
			st.prevCounter, err = f.asUint32(what)
		case 3:
			err = decodeFields(what, f.bytes, func(f field) error {
				sc := &st.sendChain
				switch f.num {
				case 1:
					return f.key32(what, &sc.chainKey.key)
				case 2:
					var err error
					sc.chainKey.idx, err = f.asUint32(what)
					return err
				case 3:
					return f.key32(what, (*[32]byte)(&sc.ratchetKey.Secret))
				case 4:
					return f.key32(what, (*[32]byte)(&sc.ratchetKey.Public))
				}
				return nil
			})
		case 4:
			var rc recvChain
			err = decodeFields(what, f.bytes, func(f field) error {
				switch f.num {
				case 1:
					return f.key32(what, &rc.chainKey.key)
				case 2:
					var err error
					rc.chainKey.idx, err = f.asUint32(what)
					return err
				case 3:
					return f.key32(what, (*[32]byte)(&rc.ratchetKey))
				case 4:
					mk, err := decodeMessageKeys(f.bytes)
					if err != nil {
						return err
					}
					rc.skipped = append(rc.skipped, mk)
				}
				return nil
			})
			st.recvChains = append(st.recvChains, rc)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func decodeMessageKeys(b []byte) (messageKeys, error) {
	const what = "message keys"
	var mk messageKeys
	err := decodeFields(what, b, func(f field) error {
		switch f.num {
		case 1:
			return f.key32(what, &mk.cipher)
		case 2:
			return f.key32(what, &mk.mac)
		case 3:
			var err error
			mk.counter, err = f.asUint32(what)
			return err
		}
		return nil
	})
	return mk, err
}
