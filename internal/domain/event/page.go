package event

import "github.com/emperorhan/wallet-history/internal/domain/model"

// PageRequest is a unit of work for one source: the page to fetch and the
// fingerprint token the provider must echo back.
type PageRequest struct {
	For        string
	Source     model.SourceKind
	Account    string
	Chain      model.Chain
	PageNumber int
	PageSize   int
	// AddressPrefix is the SS58 prefix the governance endpoint expects.
	AddressPrefix uint16
}

// PageResult is one page returned by a remote source. For echoes the
// fingerprint token of the request that produced it.
type PageResult[R any] struct {
	For   string
	Count int
	Items []R
}
