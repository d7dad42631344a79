// SPDX-License-Identifier: AGPL-3.0-or-later
package transport

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const handshakeInfo = "sgraph-transport-handshake"

// Handshake authenticates both ends of rw against a shared pre-shared key
// before any §4.12 frames are exchanged: each side contributes a random
// nonce, both derive a session tag via HKDF-SHA256 over the combined
// nonces, and they exchange and compare tags. A mismatch means the peer
// doesn't hold the same key and the connection is abandoned before a
// single data frame crosses it.
func Handshake(rw io.ReadWriter, psk string) error {
	if psk == "" {
		return nil
	}

	local := make([]byte, 16)
	if _, err := rand.Read(local); err != nil {
		return fmt.Errorf("transport: generating handshake nonce: %w", err)
	}
	// Each write runs alongside the matching read, so two peers that both
	// write first do not block each other on an unbuffered conn.
	writeErr := make(chan error, 1)
	go func() { _, err := rw.Write(local); writeErr <- err }()

	peer := make([]byte, 16)
	if _, err := io.ReadFull(rw, peer); err != nil {
		return fmt.Errorf("transport: reading peer handshake nonce: %w", err)
	}
	if err := <-writeErr; err != nil {
		return fmt.Errorf("transport: writing handshake nonce: %w", err)
	}

	tag := sessionTag(psk, local, peer)
	go func() { _, err := rw.Write(tag); writeErr <- err }()

	peerTag := make([]byte, len(tag))
	if _, err := io.ReadFull(rw, peerTag); err != nil {
		return fmt.Errorf("transport: reading peer handshake tag: %w", err)
	}
	if err := <-writeErr; err != nil {
		return fmt.Errorf("transport: writing handshake tag: %w", err)
	}
	if !hmac.Equal(tag, peerTag) {
		return fmt.Errorf("transport: handshake tag mismatch, peer does not hold the configured PSK")
	}
	return nil
}

// sessionTag derives a symmetric tag from the two nonces in a fixed,
// role-independent order so both peers compute the same value regardless
// of which one initiated.
func sessionTag(psk string, a, b []byte) []byte {
	first, second := a, b
	if bytes.Compare(a, b) > 0 {
		first, second = b, a
	}
	salt := append(append([]byte{}, first...), second...)

	kdf := hkdf.New(sha256.New, []byte(psk), salt, []byte(handshakeInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		panic(fmt.Sprintf("transport: hkdf expand: %v", err))
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(handshakeInfo))
	return mac.Sum(nil)
}
