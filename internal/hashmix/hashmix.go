// Package hashmix implements the pure hashing primitives for the commit-reveal
// protocol: commitment derivation at commit time, and hybrid entropy mixing at
// settlement time. All functions are deterministic and side-effect free.
//
// Every field written into a hash is a fixed width, so two different input
// tuples can never serialise to the same byte stream. Variable-length fields
// (the participant identity, the salt components) are digested to 32 bytes
// before being mixed in.
package hashmix

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"math/big"

	"github.com/google/uuid"
)

// Salt binds commitments and entropy to a single deployed instance so that a
// commitment captured on one deployment can never be replayed on another.
type Salt struct {
	// Instance identifies this deployment (e.g. the engine's account or
	// service ID).
	Instance string

	// Network identifies the environment the instance runs on
	// (e.g. "mainnet", "staging").
	Network string
}

// Digest returns the fixed-width form of the salt.
func (s Salt) Digest() [32]byte {
	h := sha256.New()
	writeString(h, s.Instance)
	writeString(h, s.Network)
	return sum32(h)
}

// DeriveCommitment computes the commitment hash for a hidden guess. The
// sequence number is the participant's per-identity game counter; including it
// prevents a stale commitment from an earlier game being replayed verbatim.
func DeriveCommitment(identity string, guess uint8, secret [32]byte, salt Salt, sequence uint64) [32]byte {
	saltDigest := salt.Digest()
	idDigest := sha256.Sum256([]byte(identity))

	h := sha256.New()
	h.Write([]byte("fairdice/commitment/v1"))
	h.Write(saltDigest[:])
	h.Write(idDigest[:])
	writeUint64(h, sequence)
	writeUint64(h, uint64(guess))
	h.Write(secret[:])
	return sum32(h)
}

// MixRandomness folds the externally supplied random value together with the
// participant's revealed secret. The result is unpredictable to any party that
// holds only one of the two entropy sources: the randomness service never saw
// the secret, and the participant fixed the secret before the random value
// existed.
//
// The secret keys the HMAC; the external value, the identity, the request
// handle and the salt are the message.
func MixRandomness(external [32]byte, secret [32]byte, identity string, handle uuid.UUID, salt Salt) [32]byte {
	saltDigest := salt.Digest()
	idDigest := sha256.Sum256([]byte(identity))

	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte("fairdice/entropy/v1"))
	mac.Write(external[:])
	mac.Write(idDigest[:])
	mac.Write(handle[:])
	mac.Write(saltDigest[:])
	return sum32(mac)
}

// Outcome maps 256 bits of entropy onto a die face in [1, sides]. The full
// digest is reduced, not a truncated word, so the mapping generalises to any
// number of sides without truncation artifacts.
func Outcome(entropy [32]byte, sides uint8) uint8 {
	n := new(big.Int).SetBytes(entropy[:])
	n.Mod(n, big.NewInt(int64(sides)))
	return uint8(n.Uint64()) + 1
}

type byteWriter interface {
	Write(p []byte) (int, error)
	Sum(b []byte) []byte
}

func sum32(h byteWriter) [32]byte {
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func writeUint64(h byteWriter, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}

// writeString writes a length-prefixed string, keeping multi-field digests
// unambiguous even though the field itself is variable length.
func writeString(h byteWriter, s string) {
	writeUint64(h, uint64(len(s)))
	h.Write([]byte(s))
}
