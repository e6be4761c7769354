// Package normalizer maps raw provider records into canonical transaction
// records. Normalization is total: a malformed record degrades to
// CategoryOther instead of failing the page.
package normalizer

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/emperorhan/wallet-history/internal/domain/model"
	"github.com/emperorhan/wallet-history/internal/metrics"
	"github.com/emperorhan/wallet-history/internal/pipeline/identity"
	"github.com/emperorhan/wallet-history/internal/source"
)

// Normalizer is bound to one account on one chain.
type Normalizer struct {
	account string
	chain   model.ChainInfo
	logger  *slog.Logger
}

func New(account string, chain model.ChainInfo, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		account: identity.CanonicalAddress(account),
		chain:   chain,
		logger:  logger.With("component", "normalizer", "chain", chain.Chain.String()),
	}
}

func (n *Normalizer) Transfers(raw []source.RawTransfer) []model.TransactionRecord {
	out := make([]model.TransactionRecord, 0, len(raw))
	for i := range raw {
		out = append(out, n.Transfer(raw[i]))
	}
	return withSyntheticHashes(out)
}

func (n *Normalizer) Governance(raw []source.RawExtrinsic) []model.TransactionRecord {
	out := make([]model.TransactionRecord, 0, len(raw))
	for i := range raw {
		out = append(out, n.Extrinsic(raw[i]))
	}
	return withSyntheticHashes(out)
}

// Transfer never fails; problems are reported through the anomaly metric.
func (n *Normalizer) Transfer(raw source.RawTransfer) (rec model.TransactionRecord) {
	fallback := model.TransactionRecord{
		Hash:            recordHash(raw.Hash, raw.ExtrinsicIndex),
		TimestampMillis: raw.BlockTimestamp * 1000,
		Category:        model.CategoryOther,
		Token:           n.token(raw.AssetSymbol),
		Succeeded:       raw.Success,
		Origin:          model.SourceTransfers,
	}
	defer n.recoverInto(&rec, fallback, model.SourceTransfers)

	rec, err := n.transfer(raw)
	if err != nil {
		n.anomaly(model.SourceTransfers, raw.Hash, err)
		rec.Category = model.CategoryOther
	}
	return rec
}

func (n *Normalizer) transfer(raw source.RawTransfer) (model.TransactionRecord, error) {
	from := counterparty(raw.From, raw.FromAccountDisplay)
	to := counterparty(raw.To, raw.ToAccountDisplay)
	isSender := identity.SameAddress(raw.From, n.account)

	rec := model.TransactionRecord{
		Hash:            recordHash(raw.Hash, raw.ExtrinsicIndex),
		TimestampMillis: raw.BlockTimestamp * 1000,
		BlockNumber:     raw.BlockNum,
		ExtrinsicIndex:  raw.ExtrinsicIndex,
		From:            from,
		To:              to,
		Category:        model.ClassifyTransfer(from, to, isSender),
		Token:           n.token(raw.AssetSymbol),
		Succeeded:       raw.Success,
		Origin:          model.SourceTransfers,
	}

	if raw.Hash == "" {
		return rec, fmt.Errorf("missing hash")
	}
	if raw.BlockTimestamp <= 0 {
		return rec, fmt.Errorf("missing block timestamp")
	}

	amount, err := parseDecimal(raw.Amount)
	if err != nil {
		return rec, fmt.Errorf("amount: %w", err)
	}
	rec.Amount = amount

	fee, err := n.planck(raw.Fee)
	if err != nil {
		return rec, fmt.Errorf("fee: %w", err)
	}
	rec.Fee = fee
	return rec, nil
}

func (n *Normalizer) recoverInto(rec *model.TransactionRecord, fallback model.TransactionRecord, kind model.SourceKind) {
	r := recover()
	if r == nil {
		return
	}
	*rec = fallback
	n.anomaly(kind, fallback.Hash, fmt.Errorf("panic: %v", r))
}

func (n *Normalizer) anomaly(kind model.SourceKind, hash string, err error) {
	metrics.NormalizerAnomalies.WithLabelValues(n.chain.Chain.String(), kind.String()).Inc()
	n.logger.Warn("malformed record degraded to other",
		"source", kind.String(),
		"hash", hash,
		"error", err,
	)
}

func (n *Normalizer) token(symbol string) string {
	if symbol != "" {
		return symbol
	}
	return n.chain.Token
}

// planck scales an integer amount in the chain's smallest unit to tokens.
// An empty value is zero.
func (n *Normalizer) planck(v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.Equal(d.Truncate(0)) {
		return decimal.Zero, fmt.Errorf("fractional planck value %q", v)
	}
	return d.Shift(-n.chain.Decimals), nil
}

func parseDecimal(v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(v)
}

func counterparty(address string, display *source.AccountDisplay) model.Counterparty {
	c := model.Counterparty{Address: identity.CanonicalAddress(address)}
	if display != nil {
		c.DisplayName = display.Display
		if c.Address == "" {
			c.Address = identity.CanonicalAddress(display.Address)
		}
	}
	return c
}

// recordHash falls back to the extrinsic index so hashless records stay
// distinguishable during deduplication.
func recordHash(hash, extrinsicIndex string) string {
	if hash != "" {
		return identity.CanonicalHash(hash)
	}
	if extrinsicIndex != "" {
		return "ext:" + extrinsicIndex
	}
	return ""
}

// withSyntheticHashes gives every record that has neither hash nor
// extrinsic index an identity derived from its content. Records with equal
// content on the same page are told apart by occurrence, so each survives
// deduplication and a re-fetched copy still supersedes its cached twin.
func withSyntheticHashes(recs []model.TransactionRecord) []model.TransactionRecord {
	var seen map[string]int
	for i := range recs {
		if recs[i].Hash != "" {
			continue
		}
		if seen == nil {
			seen = make(map[string]int)
		}
		key := syntheticKey(recs[i])
		recs[i].Hash = fmt.Sprintf("%s:%d", key, seen[key])
		seen[key]++
	}
	return recs
}

func syntheticKey(r model.TransactionRecord) string {
	return fmt.Sprintf("noid:%s:%d:%d:%s:%s:%s",
		r.Origin, r.BlockNumber, r.TimestampMillis, r.From.Address, r.To.Address, r.Amount.String())
}
