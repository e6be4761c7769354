package model

import "github.com/shopspring/decimal"

// Category is the canonical classification of a history record.
type Category string

const (
	CategoryTransferSend        Category = "transfer-send"
	CategoryTransferReceive     Category = "transfer-receive"
	CategoryPoolStake           Category = "pool-stake"
	CategoryPoolWithdrawRewards Category = "pool-withdraw-rewards"
	CategoryPoolRedeem          Category = "pool-redeem"
	CategoryGovernanceVote      Category = "governance-vote"
	CategoryGovernanceUnlock    Category = "governance-unlock"
	CategoryOther               Category = "other"
)

func (c Category) IsTransfer() bool {
	return c == CategoryTransferSend || c == CategoryTransferReceive
}

func (c Category) IsStaking() bool {
	switch c {
	case CategoryPoolStake, CategoryPoolWithdrawRewards, CategoryPoolRedeem:
		return true
	}
	return false
}

func (c Category) IsGovernance() bool {
	return c == CategoryGovernanceVote || c == CategoryGovernanceUnlock
}

type Counterparty struct {
	Address     string `json:"address"`
	DisplayName string `json:"displayName,omitempty"`
}

// GovernanceDetail carries the governance-only fields of a record.
type GovernanceDetail struct {
	Action       string  `json:"action"`
	ReferendumID *uint32 `json:"referendumId,omitempty"`
	Class        *uint16 `json:"class,omitempty"`
	Conviction   string  `json:"conviction,omitempty"`
	VoteType     string  `json:"voteType,omitempty"`
	Delegatee    string  `json:"delegatee,omitempty"`
}

// TransactionRecord is the canonical history entry, independent of the
// source it was fetched from. Hash is unique within an account+chain scope.
type TransactionRecord struct {
	Hash            string            `json:"hash"`
	TimestampMillis int64             `json:"timestamp"`
	BlockNumber     int64             `json:"block,omitempty"`
	ExtrinsicIndex  string            `json:"extrinsicIndex,omitempty"`
	From            Counterparty      `json:"from"`
	To              Counterparty      `json:"to"`
	Category        Category          `json:"category"`
	Amount          decimal.Decimal   `json:"amount"`
	Fee             decimal.Decimal   `json:"fee"`
	Token           string            `json:"token,omitempty"`
	Succeeded       bool              `json:"success"`
	Origin          SourceKind        `json:"origin"`
	Governance      *GovernanceDetail `json:"governance,omitempty"`
}
