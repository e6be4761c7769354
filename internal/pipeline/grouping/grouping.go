// Package grouping buckets the merged history by calendar day and applies
// the category filter, yielding a Loading/Empty/Ready view.
package grouping

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/emperorhan/wallet-history/internal/domain/model"
)

// DateLayout renders bucket labels such as "12 Mar 2025".
const DateLayout = "2 Jan 2006"

type State int

const (
	// StateLoading means more data may still arrive; keep a spinner up.
	StateLoading State = iota
	// StateEmpty means loading finished and nothing matched.
	StateEmpty
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateEmpty:
		return "empty"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Filter selects categories. A nil Filter, or one with every flag set,
// passes everything including CategoryOther.
type Filter struct {
	Transfers  bool `json:"transfers"`
	Governance bool `json:"governance"`
	Staking    bool `json:"staking"`
}

func (f *Filter) active() bool {
	return f != nil && !(f.Transfers && f.Governance && f.Staking)
}

func (f *Filter) Allows(c model.Category) bool {
	if !f.active() {
		return true
	}
	return (f.Transfers && c.IsTransfer()) ||
		(f.Governance && c.IsGovernance()) ||
		(f.Staking && c.IsStaking())
}

// Progress is what the view needs to know about loading besides records.
type Progress struct {
	CacheLoaded bool
	// Pending is true while any source is fetching or has more pages.
	Pending bool
}

type DateGroup struct {
	Date    string                    `json:"date"`
	Records []model.TransactionRecord `json:"records"`
}

type Result struct {
	State  State       `json:"state"`
	Groups []DateGroup `json:"groups,omitempty"`
}

// Records flattens the groups back into one ordered list.
func (r Result) Records() []model.TransactionRecord {
	var out []model.TransactionRecord
	for _, g := range r.Groups {
		out = append(out, g.Records...)
	}
	return out
}

// Group filters records, which must already be ordered newest first, and
// partitions them into consecutive day buckets in loc.
func Group(records []model.TransactionRecord, filter *Filter, progress Progress, loc *time.Location) Result {
	if !progress.CacheLoaded {
		return Result{State: StateLoading}
	}
	if loc == nil {
		loc = time.UTC
	}

	var groups []DateGroup
	for _, r := range records {
		if !filter.Allows(r.Category) {
			continue
		}
		label := time.UnixMilli(r.TimestampMillis).In(loc).Format(DateLayout)
		if n := len(groups); n > 0 && groups[n-1].Date == label {
			groups[n-1].Records = append(groups[n-1].Records, r)
			continue
		}
		groups = append(groups, DateGroup{Date: label, Records: []model.TransactionRecord{r}})
	}

	switch {
	case len(groups) > 0:
		return Result{State: StateReady, Groups: groups}
	case progress.Pending:
		return Result{State: StateLoading}
	default:
		return Result{State: StateEmpty}
	}
}
