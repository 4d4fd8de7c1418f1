// Package ratchet implements the asymmetric ratchet used by cryptobox sessions:
// long-term Ed25519 identities, one-time X25519 prekeys, a three-way
// Diffie-Hellman handshake and a double ratchet with per-chain skipped-key
// windows. Every value that crosses a process boundary has a compact
// protowire encoding.
package ratchet
