// Package merger combines cached and freshly fetched records into the
// single hash-unique history list, newest first.
package merger

import (
	"slices"

	"github.com/emperorhan/wallet-history/internal/domain/model"
)

// Merge drops cached records superseded by a fresh record with the same
// hash, concatenates cache, transfers and governance in that order, keeps
// the first occurrence of any hash repeated within the fresh sets, and
// stable-sorts by timestamp descending. Records without a hash have no
// identity to compare and are always kept. Inputs are not modified.
func Merge(cached, transfers, governance []model.TransactionRecord) []model.TransactionRecord {
	fresh := make(map[string]struct{}, len(transfers)+len(governance))
	for _, set := range [][]model.TransactionRecord{transfers, governance} {
		for i := range set {
			if set[i].Hash != "" {
				fresh[set[i].Hash] = struct{}{}
			}
		}
	}

	out := make([]model.TransactionRecord, 0, len(cached)+len(transfers)+len(governance))
	seen := make(map[string]struct{}, cap(out))
	add := func(r model.TransactionRecord) {
		if r.Hash == "" {
			out = append(out, r)
			return
		}
		if _, dup := seen[r.Hash]; dup {
			return
		}
		seen[r.Hash] = struct{}{}
		out = append(out, r)
	}

	for _, r := range cached {
		if _, superseded := fresh[r.Hash]; superseded {
			continue
		}
		add(r)
	}
	for _, r := range transfers {
		add(r)
	}
	for _, r := range governance {
		add(r)
	}

	slices.SortStableFunc(out, func(a, b model.TransactionRecord) int {
		switch {
		case a.TimestampMillis > b.TimestampMillis:
			return -1
		case a.TimestampMillis < b.TimestampMillis:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Newest returns at most n records from the head of a merged list.
func Newest(records []model.TransactionRecord, n int) []model.TransactionRecord {
	if n < 0 {
		n = 0
	}
	if len(records) > n {
		records = records[:n]
	}
	return slices.Clone(records)
}
