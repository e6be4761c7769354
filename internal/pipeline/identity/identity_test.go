package identity

import (
	"testing"

	"github.com/emperorhan/wallet-history/internal/domain/model"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalHash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected string
	}{
		{"0xABCDEF", "0xabcdef"},
		{"abcdef", "0xabcdef"},
		{"  0Xabc  ", "0xabc"},
		{"0x", ""},
		{"", ""},
		{"not-hex", "not-hex"},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.expected, CanonicalHash(tc.input))
		})
	}
}

func TestSameAddress(t *testing.T) {
	t.Parallel()

	assert.True(t, SameAddress("15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5", " 15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5 "))
	assert.False(t, SameAddress("15oF4uVJwmo4", "15of4uvjwmo4"))
	assert.False(t, SameAddress("", ""))
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	fp := NewFingerprint(" alice ", model.ChainPolkadot, 3)
	assert.Equal(t, "alice@polkadot#3", fp.String())
	assert.True(t, fp.Matches("alice@polkadot#3"))
	assert.False(t, fp.Matches("alice@polkadot#2"))
	assert.False(t, fp.Matches("bob@polkadot#3"))
	assert.False(t, fp.IsZero())

	var zero Fingerprint
	assert.True(t, zero.IsZero())
	assert.False(t, zero.Matches(zero.String()))
}

func TestFingerprint_SubjectSwitchBackStillStale(t *testing.T) {
	t.Parallel()

	first := NewFingerprint("alice", model.ChainKusama, 1)
	again := NewFingerprint("alice", model.ChainKusama, 3)
	assert.False(t, again.Matches(first.String()))
}

func TestCacheKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "history:polkadot:alice", CacheKey(" alice", model.ChainPolkadot))
}
