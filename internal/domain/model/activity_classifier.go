package model

import (
	"regexp"
	"strings"
)

// PoolRole is the nomination-pool account role encoded in a display name.
type PoolRole string

const (
	PoolRoleNone   PoolRole = ""
	PoolRoleMember PoolRole = "pool"
	PoolRoleStash  PoolRole = "stash"
	PoolRoleReward PoolRole = "reward"
)

var poolNamePattern = regexp.MustCompile(`^Pool#(\d+)(?:\s*\((Stash|Reward)\))?$`)

// ParsePoolName reports which pool account role a counterparty display name
// refers to, e.g. "Pool#12(Reward)" -> (PoolRoleReward, "12").
func ParsePoolName(displayName string) (PoolRole, string) {
	m := poolNamePattern.FindStringSubmatch(strings.TrimSpace(displayName))
	if m == nil {
		return PoolRoleNone, ""
	}
	switch m[2] {
	case "Stash":
		return PoolRoleStash, m[1]
	case "Reward":
		return PoolRoleReward, m[1]
	default:
		return PoolRoleMember, m[1]
	}
}

// ClassifyTransfer maps a transfer's counterparties and the account's side
// of it into a canonical Category.
func ClassifyTransfer(from, to Counterparty, accountIsSender bool) Category {
	if accountIsSender {
		if role, _ := ParsePoolName(to.DisplayName); role == PoolRoleMember || role == PoolRoleStash {
			return CategoryPoolStake
		}
		return CategoryTransferSend
	}

	switch role, _ := ParsePoolName(from.DisplayName); role {
	case PoolRoleReward:
		return CategoryPoolWithdrawRewards
	case PoolRoleStash:
		return CategoryPoolRedeem
	default:
		return CategoryTransferReceive
	}
}

// ClassifyGovernance maps a governance call function into a canonical Category.
func ClassifyGovernance(callFunction string) Category {
	switch NormalizeCallName(callFunction) {
	case "vote", "remove_vote", "remove_other_vote", "delegate", "undelegate":
		return CategoryGovernanceVote
	case "unlock":
		return CategoryGovernanceUnlock
	default:
		return CategoryOther
	}
}

// NormalizeCallName folds "removeVote" and "remove_vote" into one form.
func NormalizeCallName(name string) string {
	trimmed := strings.TrimSpace(name)
	var b strings.Builder
	for i, r := range trimmed {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
