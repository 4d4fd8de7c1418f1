package cryptobox

import (
	"slices"

	"github.com/gwillem/cryptobox-go/internal/ratchet"
	"github.com/gwillem/cryptobox-go/internal/store"
)

// deferredPreKeys is the PreKeyStore handed to the ratchet. Removals are
// only staged; a staged prekey looks absent to later lookups but stays in
// the store until the owning session is saved.
type deferredPreKeys struct {
	store   store.Store
	pending []ratchet.PreKeyID
}

var _ ratchet.PreKeyStore = (*deferredPreKeys)(nil)

func newDeferredPreKeys(st store.Store) *deferredPreKeys {
	return &deferredPreKeys{store: st}
}

func (d *deferredPreKeys) PreKey(id ratchet.PreKeyID) (*ratchet.PreKey, error) {
	if slices.Contains(d.pending, id) {
		return nil, nil
	}
	return d.store.PreKey(id)
}

func (d *deferredPreKeys) RemovePreKey(id ratchet.PreKeyID) error {
	d.pending = append(d.pending, id)
	return nil
}

// commit saves sess under sid and then drops the staged prekeys. Stores
// that implement store.Committer do both atomically. Otherwise the session
// is written first, so a crash never leaves a consumed prekey gone without
// the session that consumed it; removals that already succeeded are not
// repeated when commit is retried.
func (d *deferredPreKeys) commit(sid string, sess *ratchet.Session) (int, error) {
	n := len(d.pending)
	if c, ok := d.store.(store.Committer); ok {
		if err := c.CommitSession(sid, sess, d.pending); err != nil {
			return 0, err
		}
		d.pending = nil
		return n, nil
	}

	if err := d.store.SaveSession(sid, sess); err != nil {
		return 0, err
	}
	for len(d.pending) > 0 {
		if err := d.store.RemovePreKey(d.pending[0]); err != nil {
			return n - len(d.pending), err
		}
		d.pending = d.pending[1:]
	}
	d.pending = nil
	return n, nil
}
