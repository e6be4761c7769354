// Package source defines the remote history providers consumed by the
// synchronization engine and the raw record shapes they return.
package source

import (
	"context"
	"encoding/json"

	"github.com/emperorhan/wallet-history/internal/domain/event"
)

//go:generate mockgen -destination=mocks/mock_source.go -package=mocks . TransferSource,GovernanceSource

// TransferSource returns one page of asset transfers for an account.
// Implementations must echo req.For in the result.
type TransferSource interface {
	FetchTransfers(ctx context.Context, req event.PageRequest) (event.PageResult[RawTransfer], error)
}

// GovernanceSource returns one page of governance extrinsics for an account.
// Implementations must echo req.For in the result.
type GovernanceSource interface {
	FetchGovernance(ctx context.Context, req event.PageRequest) (event.PageResult[RawExtrinsic], error)
}

// AccountDisplay is the provider's rendering of an account.
type AccountDisplay struct {
	Address string `json:"address"`
	Display string `json:"display"`
}

// RawTransfer is one transfer as returned by the transfer endpoint.
// Amount is already scaled to token units; Fee is in planck.
type RawTransfer struct {
	From               string          `json:"from"`
	To                 string          `json:"to"`
	FromAccountDisplay *AccountDisplay `json:"from_account_display"`
	ToAccountDisplay   *AccountDisplay `json:"to_account_display"`
	Success            bool            `json:"success"`
	Hash               string          `json:"hash"`
	BlockNum           int64           `json:"block_num"`
	BlockTimestamp     int64           `json:"block_timestamp"`
	ExtrinsicIndex     string          `json:"extrinsic_index"`
	Amount             string          `json:"amount"`
	Fee                string          `json:"fee"`
	AssetSymbol        string          `json:"asset_symbol"`
}

// RawExtrinsic is one governance extrinsic as returned by the extrinsics
// endpoint. Params is either a JSON array of {name, type, value} or a JSON
// string holding that array.
type RawExtrinsic struct {
	ExtrinsicHash      string          `json:"extrinsic_hash"`
	ExtrinsicIndex     string          `json:"extrinsic_index"`
	BlockNum           int64           `json:"block_num"`
	BlockTimestamp     int64           `json:"block_timestamp"`
	CallModule         string          `json:"call_module"`
	CallModuleFunction string          `json:"call_module_function"`
	AccountDisplay     *AccountDisplay `json:"account_display"`
	Success            bool            `json:"success"`
	Fee                string          `json:"fee"`
	Params             json.RawMessage `json:"params"`
}
