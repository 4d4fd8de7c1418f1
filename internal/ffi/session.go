package ffi

import (
	"unsafe"

	cryptobox "github.com/gwillem/cryptobox-go"
	"github.com/gwillem/cryptobox-go/internal/handle"
)

func (l *Lib) addSession(box handle.Handle, s *cryptobox.Session) handle.Handle {
	return l.sessions.Insert(&sessionEntry{sess: s, box: box})
}

func (l *Lib) SessionFromPrekey(box handle.Handle, sid string, bundle []byte) (handle.Handle, cryptobox.Result) {
	const op = "session_init_from_prekey"
	b, r := l.box(op, box)
	if r != cryptobox.Success {
		return 0, r
	}
	s, err := b.SessionFromPrekey(sid, bundle)
	if err != nil {
		return 0, l.fail(op, err)
	}
	return l.addSession(box, s), cryptobox.Success
}

// SessionFromMessage returns the new session and a buffer with the first
// plaintext.
func (l *Lib) SessionFromMessage(box handle.Handle, sid string, cipher []byte) (handle.Handle, handle.Handle, cryptobox.Result) {
	const op = "session_init_from_message"
	b, r := l.box(op, box)
	if r != cryptobox.Success {
		return 0, 0, r
	}
	s, plain, err := b.SessionFromMessage(sid, cipher)
	if err != nil {
		return 0, 0, l.fail(op, err)
	}
	return l.addSession(box, s), l.newVec(plain), cryptobox.Success
}

func (l *Lib) Session(box handle.Handle, sid string) (handle.Handle, cryptobox.Result) {
	b, r := l.box("session_get", box)
	if r != cryptobox.Success {
		return 0, r
	}
	s, err := b.Session(sid)
	if err != nil {
		return 0, l.fail("session_get", err)
	}
	return l.addSession(box, s), cryptobox.Success
}

// SessionID returns the session id as a NUL-terminated string owned by the
// session handle. It is freed by CloseSession.
func (l *Lib) SessionID(h handle.Handle) (unsafe.Pointer, cryptobox.Result) {
	e, r := l.session("session_id", h)
	if r != cryptobox.Success {
		return nil, r
	}
	p, ok := e.cString(l.alloc)
	if !ok {
		return nil, l.badHandle("session_id", "session", h)
	}
	return p, cryptobox.Success
}

func (l *Lib) SaveSession(h handle.Handle) cryptobox.Result {
	e, r := l.session("session_save", h)
	if r != cryptobox.Success {
		return r
	}
	if err := e.sess.Save(); err != nil {
		return l.fail("session_save", err)
	}
	return cryptobox.Success
}

// CloseSession releases the session and discards unsaved state.
func (l *Lib) CloseSession(h handle.Handle) {
	e, ok := l.sessions.Remove(h)
	if !ok {
		l.badHandle("session_close", "session", h)
		return
	}
	e.release(l.alloc)
	e.sess.Close()
}

func (l *Lib) DeleteSession(box handle.Handle, sid string) cryptobox.Result {
	b, r := l.box("session_delete", box)
	if r != cryptobox.Success {
		return r
	}
	if err := b.DeleteSession(sid); err != nil {
		return l.fail("session_delete", err)
	}
	return cryptobox.Success
}

func (l *Lib) Encrypt(h handle.Handle, plain []byte) (handle.Handle, cryptobox.Result) {
	e, r := l.session("encrypt", h)
	if r != cryptobox.Success {
		return 0, r
	}
	cipher, err := e.sess.Encrypt(plain)
	if err != nil {
		return 0, l.fail("encrypt", err)
	}
	return l.newVec(cipher), cryptobox.Success
}

func (l *Lib) Decrypt(h handle.Handle, cipher []byte) (handle.Handle, cryptobox.Result) {
	e, r := l.session("decrypt", h)
	if r != cryptobox.Success {
		return 0, r
	}
	plain, err := e.sess.Decrypt(cipher)
	if err != nil {
		return 0, l.fail("decrypt", err)
	}
	return l.newVec(plain), cryptobox.Success
}

func (l *Lib) RemoteFingerprint(h handle.Handle) (handle.Handle, cryptobox.Result) {
	e, r := l.session("fingerprint_remote", h)
	if r != cryptobox.Success {
		return 0, r
	}
	return l.newVec([]byte(e.sess.RemoteFingerprint())), cryptobox.Success
}
