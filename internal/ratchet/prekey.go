package ratchet

// PreKeyID identifies a one-time prekey.
type PreKeyID uint16

// MaxPreKeyID is reserved for the last-resort prekey, which is never removed
// after use.
const MaxPreKeyID PreKeyID = 0xFFFF

// PreKey is a one-time X25519 key pair published in a bundle.
type PreKey struct {
	ID      PreKeyID
	KeyPair KeyPair
}

// NewPreKey generates a prekey with the given id.
func NewPreKey(id PreKeyID) (*PreKey, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &PreKey{ID: id, KeyPair: kp}, nil
}

// Serialize encodes the prekey including its secret half.
func (pk *PreKey) Serialize() ([]byte, error) {
	var e encoder
	e.uint(1, uint64(pk.ID))
	e.bytes(2, pk.KeyPair.Secret[:])
	e.bytes(3, pk.KeyPair.Public[:])
	return e.b, nil
}

// DeserializePreKey decodes a prekey produced by Serialize.
func DeserializePreKey(b []byte) (*PreKey, error) {
	const what = "prekey"
	var (
		pk   PreKey
		seen int
	)
	err := decodeFields(what, b, func(f field) error {
		switch f.num {
		case 1:
			id, err := f.asUint16(what)
			pk.ID = PreKeyID(id)
			seen |= 1
			return err
		case 2:
			seen |= 2
			return f.key32(what, (*[32]byte)(&pk.KeyPair.Secret))
		case 3:
			seen |= 4
			return f.key32(what, (*[32]byte)(&pk.KeyPair.Public))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if seen != 7 {
		return nil, missing(what, "fields")
	}
	return &pk, nil
}

// PreKeyBundle is what a remote party needs to start a session with us: our
// identity key and one prekey.
type PreKeyBundle struct {
	PreKeyID    PreKeyID
	PublicKey   PublicKey
	IdentityKey IdentityKey
}

// NewPreKeyBundle builds the bundle for pk under identity.
func NewPreKeyBundle(identity IdentityKey, pk *PreKey) *PreKeyBundle {
	return &PreKeyBundle{
		PreKeyID:    pk.ID,
		PublicKey:   pk.KeyPair.Public,
		IdentityKey: identity,
	}
}

// Serialize encodes the bundle.
func (b *PreKeyBundle) Serialize() ([]byte, error) {
	var e encoder
	e.uint(1, uint64(b.PreKeyID))
	e.bytes(2, b.PublicKey[:])
	e.bytes(3, b.IdentityKey[:])
	return e.b, nil
}

// DeserializePreKeyBundle decodes a bundle produced by Serialize.
func DeserializePreKeyBundle(data []byte) (*PreKeyBundle, error) {
	const what = "prekey bundle"
	var (
		b    PreKeyBundle
		seen int
	)
	err := decodeFields(what, data, func(f field) error {
		switch f.num {
		case 1:
			id, err := f.asUint16(what)
			b.PreKeyID = PreKeyID(id)
			seen |= 1
			return err
		case 2:
			seen |= 2
			return f.key32(what, (*[32]byte)(&b.PublicKey))
		case 3:
			seen |= 4
			return f.key32(what, (*[32]byte)(&b.IdentityKey))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if seen != 7 {
		return nil, missing(what, "fields")
	}
	if _, err := b.IdentityKey.dhPublic(); err != nil {
		return nil, err
	}
	return &b, nil
}

// PreKeyStore is the prekey capability a Session needs while decrypting.
// PreKey returns nil, nil when the id is unknown.
type PreKeyStore interface {
	PreKey(id PreKeyID) (*PreKey, error)
	RemovePreKey(id PreKeyID) error
}
