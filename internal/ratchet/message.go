package ratchet

import (
	"bytes"
	"fmt"
)

const envelopeVersion = 1

// SessionTag identifies one session state within a Session.
type SessionTag [16]byte

// CipherMessage carries one ratchet-encrypted payload.
type CipherMessage struct {
	SessionTag  SessionTag
	Counter     uint32
	PrevCounter uint32
	RatchetKey  PublicKey
	CipherText  []byte
}

// PreKeyMessage wraps the first messages of an initiator until it has seen a
// reply, so the responder can run the handshake.
type PreKeyMessage struct {
	PreKeyID    PreKeyID
	BaseKey     PublicKey
	IdentityKey IdentityKey
	Message     *CipherMessage
}

// Envelope is the serialized form of one encrypted message. The MAC covers
// the encoded message bytes and is keyed by the message keys of the ratchet
// step that produced it.
type Envelope struct {
	Version uint16
	MAC     [32]byte
	Cipher  *CipherMessage
	PreKey  *PreKeyMessage

	message []byte
}

func newEnvelope(mk *messageKeys, cm *CipherMessage, pkm *PreKeyMessage) *Envelope {
	env := &Envelope{Version: envelopeVersion, Cipher: cm, PreKey: pkm}
	var e encoder
	if pkm != nil {
		e.bytes(2, encodePreKeyMessage(pkm))
		env.Cipher = nil
	} else {
		e.bytes(1, encodeCipherMessage(cm))
	}
	env.message = e.b
	env.MAC = mk.sign(env.message)
	return env
}

// cipherMessage returns the ratchet message regardless of wrapping.
func (env *Envelope) cipherMessage() *CipherMessage {
	if env.PreKey != nil {
		return env.PreKey.Message
	}
	return env.Cipher
}

// Serialize encodes the envelope.
func (env *Envelope) Serialize() ([]byte, error) {
	if env.message == nil {
		return nil, &EncodeError{What: "envelope", Err: fmt.Errorf("no message")}
	}
	var e encoder
	e.uint(1, uint64(env.Version))
	e.bytes(2, env.MAC[:])
	e.bytes(3, env.message)
	return e.b, nil
}

// DeserializeEnvelope decodes an envelope. The MAC is not checked here.
func DeserializeEnvelope(b []byte) (*Envelope, error) {
	const what = "envelope"
	env := &Envelope{}
	var hasMAC bool
	err := decodeFields(what, b, func(f field) error {
		switch f.num {
		case 1:
			v, err := f.asUint16(what)
			env.Version = v
			return err
		case 2:
			hasMAC = true
			return f.key32(what, &env.MAC)
		case 3:
			env.message = bytes.Clone(f.bytes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if env.Version != envelopeVersion {
		return nil, &DecodeError{What: what, Err: fmt.Errorf("unsupported version %d", env.Version)}
	}
	if !hasMAC || env.message == nil {
		return nil, missing(what, "mac or message")
	}
	err = decodeFields("message", env.message, func(f field) error {
		var err error
		switch f.num {
		case 1:
			env.Cipher, err = decodeCipherMessage(f.bytes)
		case 2:
			env.PreKey, err = decodePreKeyMessage(f.bytes)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if (env.Cipher == nil) == (env.PreKey == nil) {
		return nil, &DecodeError{What: "message", Err: fmt.Errorf("want exactly one message variant")}
	}
	return env, nil
}

func encodeCipherMessage(m *CipherMessage) []byte {
	var e encoder
	e.bytes(1, m.SessionTag[:])
	e.uint(2, uint64(m.Counter))
	e.uint(3, uint64(m.PrevCounter))
	e.bytes(4, m.RatchetKey[:])
	e.bytes(5, m.CipherText)
	return e.b
}

func decodeCipherMessage(b []byte) (*CipherMessage, error) {
	const what = "cipher message"
	var (
		m    CipherMessage
		seen int
	)
	err := decodeFields(what, b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			if len(f.bytes) != len(m.SessionTag) {
				return &DecodeError{What: what, Err: fmt.Errorf("session tag length %d", len(f.bytes))}
			}
			copy(m.SessionTag[:], f.bytes)
			seen |= 1
		case 2:
			m.Counter, err = f.asUint32(what)
			seen |= 2
		case 3:
			m.PrevCounter, err = f.asUint32(what)
			seen |= 4
		case 4:
			err = f.key32(what, (*[32]byte)(&m.RatchetKey))
			seen |= 8
		case 5:
			m.CipherText = bytes.Clone(f.bytes)
			seen |= 16
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if seen != 31 {
		return nil, missing(what, "fields")
	}
	return &m, nil
}

func encodePreKeyMessage(m *PreKeyMessage) []byte {
	var e encoder
	e.uint(1, uint64(m.PreKeyID))
	e.bytes(2, m.BaseKey[:])
	e.bytes(3, m.IdentityKey[:])
	e.bytes(4, encodeCipherMessage(m.Message))
	return e.b
}

func decodePreKeyMessage(b []byte) (*PreKeyMessage, error) {
	const what = "prekey message"
	var (
		m    PreKeyMessage
		seen int
	)
	err := decodeFields(what, b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var id uint16
			id, err = f.asUint16(what)
			m.PreKeyID = PreKeyID(id)
			seen |= 1
		case 2:
			err = f.key32(what, (*[32]byte)(&m.BaseKey))
			seen |= 2
		case 3:
			err = f.key32(what, (*[32]byte)(&m.IdentityKey))
			seen |= 4
		case 4:
			m.Message, err = decodeCipherMessage(f.bytes)
			seen |= 8
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if seen != 15 {
		return nil, missing(what, "fields")
	}
	return &m, nil
}
