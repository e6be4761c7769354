package model

type Chain string

const (
	ChainPolkadot Chain = "polkadot"
	ChainKusama   Chain = "kusama"
	ChainWestend  Chain = "westend"
	ChainPaseo    Chain = "paseo"
)

func (c Chain) String() string {
	return string(c)
}

// ChainInfo is the resolved chain metadata the history engine depends on.
type ChainInfo struct {
	Chain             Chain
	DisplayName       string
	Token             string
	Decimals          int32
	AddressPrefix     uint16
	SubscanURL        string
	GovernanceEnabled bool
	// GovernanceModule is the pallet governance extrinsics are listed from,
	// e.g. "convictionvoting" or "democracy". Empty leaves the choice to the
	// source.
	GovernanceModule string
}

// SourceKind identifies one of the two independent remote history sources.
type SourceKind string

const (
	SourceTransfers  SourceKind = "transfers"
	SourceGovernance SourceKind = "governance"
)

func (k SourceKind) String() string {
	return string(k)
}
