package identity

import (
	"fmt"
	"strings"

	"github.com/emperorhan/wallet-history/internal/domain/model"
)

// CanonicalHash normalises an extrinsic hash so that mixed-case hex and a
// missing 0x prefix compare as equal.
func CanonicalHash(hash string) string {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return ""
	}
	withoutPrefix := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if withoutPrefix == "" {
		return ""
	}
	if IsHexString(withoutPrefix) {
		return "0x" + strings.ToLower(withoutPrefix)
	}
	return trimmed
}

// CanonicalAddress trims an SS58 address. SS58 is case sensitive, so the
// value is otherwise returned as-is.
func CanonicalAddress(address string) string {
	return strings.TrimSpace(address)
}

// SameAddress reports whether two addresses refer to the same account.
func SameAddress(a, b string) bool {
	ca := CanonicalAddress(a)
	return ca != "" && ca == CanonicalAddress(b)
}

// IsHexString reports whether v consists solely of hexadecimal characters.
func IsHexString(v string) bool {
	for _, ch := range v {
		switch {
		case ch >= '0' && ch <= '9':
		case ch >= 'a' && ch <= 'f':
		case ch >= 'A' && ch <= 'F':
		default:
			return false
		}
	}
	return true
}

// Fingerprint identifies the subject a request was issued for. Epoch is
// bumped on every subject change so that switching A -> B -> A still
// rejects responses issued for the first A.
type Fingerprint struct {
	Account string
	Chain   model.Chain
	Epoch   uint64
}

// NewFingerprint builds a fingerprint from a canonicalised account.
func NewFingerprint(account string, chain model.Chain, epoch uint64) Fingerprint {
	return Fingerprint{
		Account: CanonicalAddress(account),
		Chain:   chain,
		Epoch:   epoch,
	}
}

// String is the token remote sources echo back in their results.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%s@%s#%d", f.Account, f.Chain, f.Epoch)
}

// IsZero reports whether no subject has been bound yet.
func (f Fingerprint) IsZero() bool {
	return f.Account == "" && f.Chain == ""
}

// Matches reports whether an echoed token belongs to this fingerprint.
func (f Fingerprint) Matches(token string) bool {
	return !f.IsZero() && token == f.String()
}

// CacheKey is the account+chain key used by persisted history caches.
// It carries no epoch; the cache outlives sessions.
func CacheKey(account string, chain model.Chain) string {
	return "history:" + chain.String() + ":" + CanonicalAddress(account)
}
