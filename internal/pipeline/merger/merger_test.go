package merger

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/wallet-history/internal/domain/model"
)

func rec(hash string, ts int64, origin model.SourceKind) model.TransactionRecord {
	return model.TransactionRecord{Hash: hash, TimestampMillis: ts, Origin: origin}
}

func hashes(records []model.TransactionRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Hash
	}
	return out
}

func TestMerge_FreshTransferWinsOverCache(t *testing.T) {
	cached := rec("0xabc", 1000, model.SourceTransfers)
	cached.Fee = decimal.RequireFromString("0.5")
	fresh := rec("0xabc", 1000, model.SourceTransfers)
	fresh.Fee = decimal.RequireFromString("0.0156")

	out := Merge([]model.TransactionRecord{cached}, []model.TransactionRecord{fresh}, nil)

	require.Len(t, out, 1)
	assert.Equal(t, "0xabc", out[0].Hash)
	assert.True(t, out[0].Fee.Equal(decimal.RequireFromString("0.0156")))
}

func TestMerge_FreshGovernanceWinsOverCache(t *testing.T) {
	cached := rec("0xgov", 10, model.SourceGovernance)
	cached.Category = model.CategoryOther
	fresh := rec("0xgov", 10, model.SourceGovernance)
	fresh.Category = model.CategoryGovernanceVote

	out := Merge([]model.TransactionRecord{cached}, nil, []model.TransactionRecord{fresh})

	require.Len(t, out, 1)
	assert.Equal(t, model.CategoryGovernanceVote, out[0].Category)
}

func TestMerge_DuplicatesWithinFreshKeepFirst(t *testing.T) {
	first := rec("0x1", 10, model.SourceTransfers)
	first.Token = "first"
	again := rec("0x1", 10, model.SourceTransfers)
	again.Token = "again"

	out := Merge(nil, []model.TransactionRecord{first, again}, []model.TransactionRecord{rec("0x1", 10, model.SourceGovernance)})

	require.Len(t, out, 1)
	assert.Equal(t, "first", out[0].Token)
}

func TestMerge_HashlessRecordsAreKept(t *testing.T) {
	degraded := func(ts int64) model.TransactionRecord {
		r := rec("", ts, model.SourceTransfers)
		r.Category = model.CategoryOther
		return r
	}
	cached := []model.TransactionRecord{degraded(50)}
	fresh := []model.TransactionRecord{degraded(30), degraded(20), degraded(10)}

	out := Merge(cached, fresh, []model.TransactionRecord{rec("", 40, model.SourceGovernance)})

	require.Len(t, out, 5)
	stamps := make([]int64, len(out))
	for i, r := range out {
		stamps[i] = r.TimestampMillis
	}
	assert.Equal(t, []int64{50, 40, 30, 20, 10}, stamps)
}

func TestMerge_OrderDescendingAndStable(t *testing.T) {
	cached := []model.TransactionRecord{rec("c1", 50, model.SourceTransfers), rec("c2", 10, model.SourceTransfers)}
	transfers := []model.TransactionRecord{rec("t1", 30, model.SourceTransfers), rec("t2", 50, model.SourceTransfers)}
	governance := []model.TransactionRecord{rec("g1", 30, model.SourceGovernance), rec("g2", 70, model.SourceGovernance)}

	out := Merge(cached, transfers, governance)

	assert.Equal(t, []string{"g2", "c1", "t2", "t1", "g1", "c2"}, hashes(out))
}

func TestMerge_EmptyInputs(t *testing.T) {
	out := Merge(nil, nil, nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestMerge_InputsUntouched(t *testing.T) {
	transfers := []model.TransactionRecord{rec("a", 1, model.SourceTransfers), rec("b", 2, model.SourceTransfers)}
	_ = Merge(nil, transfers, nil)
	assert.Equal(t, []string{"a", "b"}, hashes(transfers))
}

func TestMerge_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	gen := func(prefix string, n int, origin model.SourceKind) []model.TransactionRecord {
		out := make([]model.TransactionRecord, n)
		for i := range out {
			out[i] = rec(fmt.Sprintf("%s%d", prefix, r.Intn(n*2)), int64(r.Intn(20)), origin)
		}
		return out
	}

	for round := 0; round < 50; round++ {
		cached := gen("h", 15, model.SourceTransfers)
		transfers := gen("h", 10, model.SourceTransfers)
		governance := gen("h", 5, model.SourceGovernance)

		first := Merge(cached, transfers, governance)
		second := Merge(cached, transfers, governance)
		require.Equal(t, first, second, "merge is idempotent")

		seen := map[string]bool{}
		for i, m := range first {
			require.False(t, seen[m.Hash], "hash %s appears twice", m.Hash)
			seen[m.Hash] = true
			if i > 0 {
				require.GreaterOrEqual(t, first[i-1].TimestampMillis, m.TimestampMillis)
			}
		}
	}
}

func TestNewest(t *testing.T) {
	in := []model.TransactionRecord{rec("a", 3, ""), rec("b", 2, ""), rec("c", 1, "")}

	assert.Equal(t, []string{"a", "b"}, hashes(Newest(in, 2)))
	assert.Equal(t, []string{"a", "b", "c"}, hashes(Newest(in, 10)))
	assert.Empty(t, Newest(in, 0))
	assert.Empty(t, Newest(in, -1))

	out := Newest(in, 1)
	out[0].Hash = "mutated"
	assert.Equal(t, "a", in[0].Hash)
}
