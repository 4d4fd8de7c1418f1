package ratchet

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"sync"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
)

// PublicKey is an X25519 public key.
type PublicKey [32]byte

// SecretKey is a clamped X25519 scalar.
type SecretKey [32]byte

// KeyPair is an ephemeral or prekey X25519 key pair.
type KeyPair struct {
	Secret SecretKey
	Public PublicKey
}

// GenerateKeyPair returns a fresh X25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Secret[:]); err != nil {
		return kp, fmt.Errorf("ratchet: generate key pair: %w", err)
	}
	clamp(&kp.Secret)
	pub, err := curve25519.X25519(kp.Secret[:], curve25519.Basepoint)
	if err != nil {
		return kp, fmt.Errorf("ratchet: generate key pair: %w", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

func (kp KeyPair) dh(pub PublicKey) ([]byte, error) {
	return diffieHellman(kp.Secret, pub)
}

func diffieHellman(sec SecretKey, pub PublicKey) ([]byte, error) {
	out, err := curve25519.X25519(sec[:], pub[:])
	if err != nil {
		return nil, fmt.Errorf("ratchet: x25519: %w", err)
	}
	return out, nil
}

func clamp(k *SecretKey) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}

// IdentityKey is the Ed25519 public half of a long-term identity.
type IdentityKey [32]byte

// Fingerprint returns the lowercase hex encoding of the public key, suitable
// for out-of-band comparison.
func (k IdentityKey) Fingerprint() string {
	return hex.EncodeToString(k[:])
}

// dhPublic maps the Edwards point onto its Montgomery form so the identity
// can take part in X25519 agreements.
func (k IdentityKey) dhPublic() (PublicKey, error) {
	var out PublicKey
	p, err := new(edwards25519.Point).SetBytes(k[:])
	if err != nil {
		return out, &DecodeError{What: "identity key", Err: err}
	}
	copy(out[:], p.BytesMontgomery())
	return out, nil
}

// IdentityKeyPair is a long-term Ed25519 identity.
type IdentityKeyPair struct {
	Secret ed25519.PrivateKey
	Public IdentityKey
}

// GenerateIdentityKeyPair creates a new random identity.
func GenerateIdentityKeyPair() (*IdentityKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ratchet: generate identity: %w", err)
	}
	kp := &IdentityKeyPair{Secret: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

func identityFromSecret(secret []byte) (*IdentityKeyPair, error) {
	if len(secret) != ed25519.PrivateKeySize {
		return nil, &DecodeError{What: "identity secret", Err: fmt.Errorf("length %d", len(secret))}
	}
	priv := ed25519.NewKeyFromSeed(secret[:ed25519.SeedSize])
	kp := &IdentityKeyPair{Secret: priv}
	copy(kp.Public[:], priv.Public().(ed25519.PublicKey))
	return kp, nil
}

// dhSecret derives the X25519 scalar matching dhPublic of the public key.
func (kp *IdentityKeyPair) dhSecret() SecretKey {
	var out SecretKey
	h := sha512.Sum512(kp.Secret.Seed())
	copy(out[:], h[:32])
	clamp(&out)
	return out
}

func (kp *IdentityKeyPair) dh(pub PublicKey) ([]byte, error) {
	return diffieHellman(kp.dhSecret(), pub)
}

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("ratchet: read random: %v", err))
	}
	return b
}

var initOnce sync.Once

// Init performs the one-time process-wide self test of the identity key
// conversion. It is safe to call any number of times.
func Init() {
	initOnce.Do(func() {
		kp, err := GenerateIdentityKeyPair()
		if err != nil {
			panic(err)
		}
		sec := kp.dhSecret()
		want, err := curve25519.X25519(sec[:], curve25519.Basepoint)
		if err != nil {
			panic(err)
		}
		got, err := kp.Public.dhPublic()
		if err != nil {
			panic(err)
		}
		if string(want) != string(got[:]) {
			panic("ratchet: identity key conversion self test failed")
		}
	})
}
