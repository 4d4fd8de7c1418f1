package ffi

import (
	cryptobox "github.com/gwillem/cryptobox-go"
	"github.com/gwillem/cryptobox-go/internal/handle"
)

// Open opens the box stored in dir.
func (l *Lib) Open(dir string) (handle.Handle, cryptobox.Result) {
	b, err := cryptobox.Open(dir, cryptobox.WithLogger(l.logger))
	if err != nil {
		return 0, l.fail("file_open", err)
	}
	return l.boxes.Insert(b), cryptobox.Success
}

// OpenWith opens the box stored in dir with an external identity.
func (l *Lib) OpenWith(dir string, identity []byte, mode cryptobox.IdentityMode) (handle.Handle, cryptobox.Result) {
	b, err := cryptobox.OpenWith(dir, identity, mode, cryptobox.WithLogger(l.logger))
	if err != nil {
		return 0, l.fail("file_open_with", err)
	}
	return l.boxes.Insert(b), cryptobox.Success
}

// CloseBox releases the box. Sessions derived from it keep their handles,
// but their store operations fail from now on.
func (l *Lib) CloseBox(h handle.Handle) {
	b, ok := l.boxes.Remove(h)
	if !ok {
		l.badHandle("close", "box", h)
		return
	}
	open := 0
	l.sessions.Each(func(_ handle.Handle, e *sessionEntry) {
		if e.box == h {
			open++
		}
	})
	if open > 0 {
		l.logger.Warn("box closed before its sessions", "sessions", open)
	}
	if err := b.Close(); err != nil {
		l.fail("close", err)
	}
}

func (l *Lib) CopyIdentity(h handle.Handle) (handle.Handle, cryptobox.Result) {
	b, r := l.box("identity_copy", h)
	if r != cryptobox.Success {
		return 0, r
	}
	ident, err := b.CopyIdentity()
	if err != nil {
		return 0, l.fail("identity_copy", err)
	}
	return l.newVec(ident), cryptobox.Success
}

// NewPrekey returns the serialized bundle of a newly stored prekey.
func (l *Lib) NewPrekey(h handle.Handle, id uint16) (handle.Handle, cryptobox.Result) {
	b, r := l.box("new_prekey", h)
	if r != cryptobox.Success {
		return 0, r
	}
	bundle, err := b.NewPrekey(id)
	if err != nil {
		return 0, l.fail("new_prekey", err)
	}
	return l.newVec(bundle), cryptobox.Success
}

func (l *Lib) Fingerprint(h handle.Handle) (handle.Handle, cryptobox.Result) {
	b, r := l.box("fingerprint_local", h)
	if r != cryptobox.Success {
		return 0, r
	}
	return l.newVec([]byte(b.Fingerprint())), cryptobox.Success
}

// RandomBytes needs no box.
func (l *Lib) RandomBytes(n int) (handle.Handle, cryptobox.Result) {
	return l.newVec(cryptobox.RandomBytes(n)), cryptobox.Success
}
