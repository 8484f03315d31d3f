package hashmix

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSalt = Salt{Instance: "engine-1", Network: "testnet"}

func testSecret(fill byte) [32]byte {
	var s [32]byte
	for i := range s {
		s[i] = fill
	}
	return s
}

func TestDeriveCommitmentDeterministic(t *testing.T) {
	a := DeriveCommitment("alice", 3, testSecret(0xAA), testSalt, 1)
	b := DeriveCommitment("alice", 3, testSecret(0xAA), testSalt, 1)
	require.Equal(t, a, b)
	require.NotEqual(t, [32]byte{}, a)
}

func TestDeriveCommitmentBinding(t *testing.T) {
	base := DeriveCommitment("alice", 3, testSecret(0xAA), testSalt, 1)

	tests := []struct {
		name string
		got  [32]byte
	}{
		{"different identity", DeriveCommitment("bob", 3, testSecret(0xAA), testSalt, 1)},
		{"different guess", DeriveCommitment("alice", 4, testSecret(0xAA), testSalt, 1)},
		{"different secret", DeriveCommitment("alice", 3, testSecret(0xAB), testSalt, 1)},
		{"different sequence", DeriveCommitment("alice", 3, testSecret(0xAA), testSalt, 2)},
		{"different instance", DeriveCommitment("alice", 3, testSecret(0xAA), Salt{Instance: "engine-2", Network: "testnet"}, 1)},
		{"different network", DeriveCommitment("alice", 3, testSecret(0xAA), Salt{Instance: "engine-1", Network: "mainnet"}, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, tt.got)
		})
	}
}

func TestSaltDigestFieldBoundaries(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must not collide; fields are length-prefixed.
	a := Salt{Instance: "ab", Network: "c"}.Digest()
	b := Salt{Instance: "a", Network: "bc"}.Digest()
	assert.NotEqual(t, a, b)
}

func TestMixRandomnessDependsOnAllInputs(t *testing.T) {
	external := testSecret(0x01)
	secret := testSecret(0x02)
	handle := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	base := MixRandomness(external, secret, "alice", handle, testSalt)
	assert.Equal(t, base, MixRandomness(external, secret, "alice", handle, testSalt))

	assert.NotEqual(t, base, MixRandomness(testSecret(0x03), secret, "alice", handle, testSalt))
	assert.NotEqual(t, base, MixRandomness(external, testSecret(0x03), "alice", handle, testSalt))
	assert.NotEqual(t, base, MixRandomness(external, secret, "bob", handle, testSalt))
	assert.NotEqual(t, base, MixRandomness(external, secret, "alice", uuid.New(), testSalt))
}

func TestOutcomeRange(t *testing.T) {
	for i := 0; i < 256; i++ {
		var entropy [32]byte
		entropy[31] = byte(i)
		got := Outcome(entropy, 6)
		require.GreaterOrEqual(t, got, uint8(1))
		require.LessOrEqual(t, got, uint8(6))
	}

	// Spot checks: the digest is reduced as a big-endian integer.
	var entropy [32]byte
	assert.Equal(t, uint8(1), Outcome(entropy, 6)) // 0 mod 6 + 1
	entropy[31] = 7
	assert.Equal(t, uint8(2), Outcome(entropy, 6)) // 7 mod 6 + 1
	entropy[31] = 11
	assert.Equal(t, uint8(6), Outcome(entropy, 6)) // 11 mod 6 + 1
}
