package ratchet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Init()
		Init()
	})
}

func TestIdentitySerialize(t *testing.T) {
	kp, err := GenerateIdentityKeyPair()
	require.NoError(t, err)

	data, err := SecretIdentity(kp).Serialize()
	require.NoError(t, err)
	got, err := DeserializeIdentity(data)
	require.NoError(t, err)
	require.NotNil(t, got.Secret, "expected secret variant")
	assert.Nil(t, got.Public)
	assert.Equal(t, kp.Public, got.Secret.Public)
	assert.Equal(t, kp.Secret, got.Secret.Secret)

	data, err = PublicIdentity(kp.Public).Serialize()
	require.NoError(t, err)
	got, err = DeserializeIdentity(data)
	require.NoError(t, err)
	assert.Nil(t, got.Secret)
	require.NotNil(t, got.Public)
	assert.Equal(t, kp.Public, *got.Public)
	assert.Equal(t, kp.Public, got.PublicKey())
}

func TestIdentitySerializeEmpty(t *testing.T) {
	_, err := Identity{}.Serialize()
	var ee *EncodeError
	assert.ErrorAs(t, err, &ee)
}

func TestDeserializeIdentityMismatchedPublic(t *testing.T) {
	a, err := GenerateIdentityKeyPair()
	require.NoError(t, err)
	b, err := GenerateIdentityKeyPair()
	require.NoError(t, err)
	var e encoder
	e.bytes(1, a.Secret)
	e.bytes(2, b.Public[:])
	_, err = DeserializeIdentity(e.b)
	var de *DecodeError
	assert.ErrorAs(t, err, &de)
}

func TestPreKeyBundleSerialize(t *testing.T) {
	kp, err := GenerateIdentityKeyPair()
	require.NoError(t, err)
	pk, err := NewPreKey(MaxPreKeyID)
	require.NoError(t, err)
	data, err := NewPreKeyBundle(kp.Public, pk).Serialize()
	require.NoError(t, err)

	b, err := DeserializePreKeyBundle(data)
	require.NoError(t, err)
	assert.Equal(t, MaxPreKeyID, b.PreKeyID)
	assert.Equal(t, pk.KeyPair.Public, b.PublicKey)
	assert.Equal(t, kp.Public, b.IdentityKey)

	_, err = DeserializePreKeyBundle(data[:len(data)-3])
	assert.Error(t, err, "truncated bundle")
}

func TestPreKeySerialize(t *testing.T) {
	pk, err := NewPreKey(42)
	require.NoError(t, err)
	data, err := pk.Serialize()
	require.NoError(t, err)
	got, err := DeserializePreKey(data)
	require.NoError(t, err)
	assert.Equal(t, *pk, *got)
}

func TestFingerprint(t *testing.T) {
	var k IdentityKey
	k[0], k[31] = 0xAB, 0x01
	fp := k.Fingerprint()
	require.Len(t, fp, 64)
	assert.Equal(t, "ab", fp[:2])
	assert.Equal(t, "01", fp[62:])
}
