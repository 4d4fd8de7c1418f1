package cryptobox

import (
	"fmt"
	"log/slog"

	"github.com/gwillem/cryptobox-go/internal/ratchet"
	"github.com/gwillem/cryptobox-go/internal/store"
)

// IdentityMode selects what OpenWith keeps in the store.
type IdentityMode int

const (
	// IdentityComplete stores the full key pair.
	IdentityComplete IdentityMode = 0
	// IdentityPublic stores only the public key; the secret stays with the
	// caller and must be handed in on every open.
	IdentityPublic IdentityMode = 1
)

func (m IdentityMode) String() string {
	switch m {
	case IdentityComplete:
		return "complete"
	case IdentityPublic:
		return "public"
	}
	return fmt.Sprintf("IdentityMode(%d)", int(m))
}

// loadIdentity returns the stored key pair, creating and saving one when
// the store is empty.
func loadIdentity(st store.Store, log *slog.Logger) (*ratchet.IdentityKeyPair, error) {
	id, err := st.LoadIdentity()
	if err != nil {
		return nil, err
	}
	switch {
	case id == nil:
		kp, err := ratchet.GenerateIdentityKeyPair()
		if err != nil {
			return nil, err
		}
		if err := st.SaveIdentity(ratchet.SecretIdentity(kp)); err != nil {
			return nil, err
		}
		log.Debug("generated identity", "fingerprint", kp.Public.Fingerprint())
		return kp, nil
	case id.Secret != nil:
		return id.Secret, nil
	default:
		return nil, fmt.Errorf("%w: store holds a public identity only", ErrIdentity)
	}
}

// reconcileIdentity checks an externally supplied identity against the
// store and persists it in the form mode asks for.
//
//	stored      complete            public
//	none        save key pair       save public key
//	pair        keep                downgrade to public key
//	public      upgrade to pair     keep
//
// A stored identity with a different public key is always an error.
func reconcileIdentity(st store.Store, external []byte, mode IdentityMode, log *slog.Logger) (*ratchet.IdentityKeyPair, error) {
	if mode != IdentityComplete && mode != IdentityPublic {
		return nil, fmt.Errorf("%w: unknown mode %d", ErrIdentity, int(mode))
	}
	ext, err := ratchet.DeserializeIdentity(external)
	if err != nil {
		return nil, err
	}
	if ext.Secret == nil {
		return nil, fmt.Errorf("%w: external identity has no secret key", ErrIdentity)
	}
	kp := ext.Secret

	local, err := st.LoadIdentity()
	if err != nil {
		return nil, err
	}

	var save *ratchet.Identity
	switch {
	case local == nil:
		id := ratchet.SecretIdentity(kp)
		if mode == IdentityPublic {
			id = ratchet.PublicIdentity(kp.Public)
		}
		save = &id
	case local.PublicKey() != kp.Public:
		return nil, fmt.Errorf("%w: stored identity %s does not match %s",
			ErrIdentity, local.PublicKey().Fingerprint(), kp.Public.Fingerprint())
	case local.Secret != nil && mode == IdentityPublic:
		log.Warn("downgrading stored identity to public key only", "fingerprint", kp.Public.Fingerprint())
		id := ratchet.PublicIdentity(kp.Public)
		save = &id
	case local.Secret == nil && mode == IdentityComplete:
		id := ratchet.SecretIdentity(kp)
		save = &id
	}

	if save != nil {
		if err := st.SaveIdentity(*save); err != nil {
			return nil, err
		}
		log.Debug("saved identity", "mode", mode, "fingerprint", kp.Public.Fingerprint())
	}
	return kp, nil
}
