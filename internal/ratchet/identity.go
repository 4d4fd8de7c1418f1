package ratchet

import (
	"bytes"
	"errors"
	"fmt"
)

// Identity is the persisted form of the local identity: either the full key
// pair or only its public key. Exactly one of Secret and Public is set.
type Identity struct {
	Secret *IdentityKeyPair
	Public *IdentityKey
}

// SecretIdentity wraps a full key pair.
func SecretIdentity(kp *IdentityKeyPair) Identity {
	return Identity{Secret: kp}
}

// PublicIdentity wraps a public key only.
func PublicIdentity(k IdentityKey) Identity {
	return Identity{Public: &k}
}

// PublicKey returns the public key of either variant.
func (id Identity) PublicKey() IdentityKey {
	if id.Secret != nil {
		return id.Secret.Public
	}
	if id.Public != nil {
		return *id.Public
	}
	return IdentityKey{}
}

// Serialize encodes the identity.
//
//	1: secret key (64 bytes, seed || public), secret variant only
//	2: public key (32 bytes)
func (id Identity) Serialize() ([]byte, error) {
	var e encoder
	switch {
	case id.Secret != nil && id.Public == nil:
		e.bytes(1, id.Secret.Secret)
		e.bytes(2, id.Secret.Public[:])
	case id.Public != nil && id.Secret == nil:
		e.bytes(2, id.Public[:])
	default:
		return nil, &EncodeError{What: "identity", Err: errors.New("exactly one variant must be set")}
	}
	return e.b, nil
}

// DeserializeIdentity decodes an identity produced by Serialize.
func DeserializeIdentity(b []byte) (Identity, error) {
	const what = "identity"
	var (
		secret []byte
		pub    IdentityKey
		hasPub bool
	)
	err := decodeFields(what, b, func(f field) error {
		switch f.num {
		case 1:
			secret = bytes.Clone(f.bytes)
		case 2:
			hasPub = true
			return f.key32(what, (*[32]byte)(&pub))
		}
		return nil
	})
	if err != nil {
		return Identity{}, err
	}
	if !hasPub {
		return Identity{}, missing(what, "public key")
	}
	if secret == nil {
		return PublicIdentity(pub), nil
	}
	kp, err := identityFromSecret(secret)
	if err != nil {
		return Identity{}, err
	}
	if kp.Public != pub {
		return Identity{}, &DecodeError{What: what, Err: fmt.Errorf("public key does not match secret")}
	}
	return SecretIdentity(kp), nil
}
