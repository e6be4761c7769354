package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/emperorhan/wallet-history/internal/domain/model"
	"github.com/emperorhan/wallet-history/internal/source"
)

const (
	voteAyeBit        = 0x80
	voteConvictionMax = 6
)

var errMissingParam = errors.New("missing param")

// governanceModules lists the pallets whose calls carry vote semantics.
var governanceModules = map[string]bool{
	"convictionvoting":  true,
	"conviction_voting": true,
	"democracy":         true,
}

type callParam struct {
	Name  string          `json:"name"`
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type callParams map[string]json.RawMessage

// Extrinsic never fails; problems are reported through the anomaly metric.
func (n *Normalizer) Extrinsic(raw source.RawExtrinsic) (rec model.TransactionRecord) {
	fallback := model.TransactionRecord{
		Hash:            recordHash(raw.ExtrinsicHash, raw.ExtrinsicIndex),
		TimestampMillis: raw.BlockTimestamp * 1000,
		Category:        model.CategoryOther,
		Token:           n.chain.Token,
		Succeeded:       raw.Success,
		Origin:          model.SourceGovernance,
	}
	defer n.recoverInto(&rec, fallback, model.SourceGovernance)

	rec, err := n.extrinsic(raw)
	if err != nil {
		n.anomaly(model.SourceGovernance, raw.ExtrinsicHash, err)
		rec.Category = model.CategoryOther
	}
	return rec
}

func (n *Normalizer) extrinsic(raw source.RawExtrinsic) (model.TransactionRecord, error) {
	signer := counterparty("", raw.AccountDisplay)
	if signer.Address == "" {
		signer.Address = n.account
	}
	action := model.NormalizeCallName(raw.CallModuleFunction)

	category := model.CategoryOther
	if governanceModules[strings.ToLower(strings.TrimSpace(raw.CallModule))] {
		category = model.ClassifyGovernance(action)
	}

	rec := model.TransactionRecord{
		Hash:            recordHash(raw.ExtrinsicHash, raw.ExtrinsicIndex),
		TimestampMillis: raw.BlockTimestamp * 1000,
		BlockNumber:     raw.BlockNum,
		ExtrinsicIndex:  raw.ExtrinsicIndex,
		From:            signer,
		Category:        category,
		Token:           n.chain.Token,
		Succeeded:       raw.Success,
		Origin:          model.SourceGovernance,
	}

	if raw.ExtrinsicHash == "" {
		return rec, fmt.Errorf("missing hash")
	}
	if raw.BlockTimestamp <= 0 {
		return rec, fmt.Errorf("missing block timestamp")
	}

	fee, err := n.planck(raw.Fee)
	if err != nil {
		return rec, fmt.Errorf("fee: %w", err)
	}
	rec.Fee = fee

	if category == model.CategoryOther {
		return rec, nil
	}

	params, err := decodeParams(raw.Params)
	if err != nil {
		return rec, fmt.Errorf("params: %w", err)
	}
	detail := &model.GovernanceDetail{Action: action}
	rec.Governance = detail

	switch action {
	case "vote":
		err = n.decodeVote(params, &rec)
	case "remove_vote", "remove_other_vote":
		err = decodeRemoveVote(params, detail)
	case "delegate":
		err = n.decodeDelegate(params, &rec)
	case "undelegate":
		detail.Class, err = params.class(true)
	case "unlock":
		detail.Class, err = params.class(true)
		if err == nil {
			if target, ok := params["target"]; ok {
				rec.To.Address, err = addressValue(target)
			}
		}
	}
	if err != nil {
		return rec, fmt.Errorf("%s: %w", action, err)
	}
	return rec, nil
}

func (n *Normalizer) decodeVote(params callParams, rec *model.TransactionRecord) error {
	ref, err := params.referendum()
	if err != nil {
		return err
	}
	rec.Governance.ReferendumID = &ref

	raw, ok := params["vote"]
	if !ok {
		return fmt.Errorf("%w: vote", errMissingParam)
	}
	var accountVote map[string]json.RawMessage
	if err := json.Unmarshal(raw, &accountVote); err != nil {
		return fmt.Errorf("vote: %w", err)
	}

	for kind, body := range accountVote {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return fmt.Errorf("vote %s: %w", kind, err)
		}
		switch strings.ToLower(kind) {
		case "standard":
			aye, conviction, err := standardVote(fields["vote"])
			if err != nil {
				return err
			}
			rec.Governance.VoteType = "Nay"
			if aye {
				rec.Governance.VoteType = "Aye"
			}
			rec.Governance.Conviction = conviction
			rec.Amount, err = n.planckField(fields, "balance")
			return err
		case "split":
			rec.Governance.VoteType = "Split"
			rec.Amount, err = n.sumFields(fields, "aye", "nay")
			return err
		case "splitabstain":
			rec.Governance.VoteType = "SplitAbstain"
			aye, _ := n.planckField(fields, "aye")
			nay, _ := n.planckField(fields, "nay")
			if aye.IsZero() && nay.IsZero() {
				rec.Governance.VoteType = "Abstain"
			}
			rec.Amount, err = n.sumFields(fields, "aye", "nay", "abstain")
			return err
		default:
			return fmt.Errorf("unknown vote kind %q", kind)
		}
	}
	return fmt.Errorf("%w: vote body", errMissingParam)
}

func decodeRemoveVote(params callParams, detail *model.GovernanceDetail) error {
	ref, err := params.referendum()
	if err != nil {
		return err
	}
	detail.ReferendumID = &ref
	detail.Class, err = params.class(false)
	return err
}

func (n *Normalizer) decodeDelegate(params callParams, rec *model.TransactionRecord) error {
	class, err := params.class(true)
	if err != nil {
		return err
	}
	rec.Governance.Class = class

	to, ok := params["to"]
	if !ok {
		return fmt.Errorf("%w: to", errMissingParam)
	}
	delegatee, err := addressValue(to)
	if err != nil {
		return fmt.Errorf("to: %w", err)
	}
	rec.Governance.Delegatee = delegatee
	rec.To = model.Counterparty{Address: delegatee}

	if raw, ok := params["conviction"]; ok {
		rec.Governance.Conviction, err = convictionValue(raw)
		if err != nil {
			return err
		}
	}
	rec.Amount, err = n.planckField(params, "balance")
	return err
}

func (p callParams) referendum() (uint32, error) {
	for _, name := range []string{"poll_index", "ref_index", "index"} {
		raw, ok := p[name]
		if !ok {
			continue
		}
		v, err := uintValue(raw)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		if v > uint64(^uint32(0)) {
			return 0, fmt.Errorf("%s: %d overflows uint32", name, v)
		}
		return uint32(v), nil
	}
	return 0, fmt.Errorf("%w: referendum index", errMissingParam)
}

// class returns nil when the param is absent or null and not required.
func (p callParams) class(required bool) (*uint16, error) {
	raw, ok := p["class"]
	if !ok || isNull(raw) {
		if required {
			return nil, fmt.Errorf("%w: class", errMissingParam)
		}
		return nil, nil
	}
	v, err := uintValue(raw)
	if err != nil {
		return nil, fmt.Errorf("class: %w", err)
	}
	if v > uint64(^uint16(0)) {
		return nil, fmt.Errorf("class: %d overflows uint16", v)
	}
	c := uint16(v)
	return &c, nil
}

func (n *Normalizer) planckField(fields map[string]json.RawMessage, name string) (decimal.Decimal, error) {
	raw, ok := fields[name]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", errMissingParam, name)
	}
	v, err := integerValue(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", name, err)
	}
	return v.Shift(-n.chain.Decimals), nil
}

func (n *Normalizer) sumFields(fields map[string]json.RawMessage, names ...string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, name := range names {
		v, err := n.planckField(fields, name)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(v)
	}
	return total, nil
}

// decodeParams accepts either a JSON array of {name,type,value} or a JSON
// string containing such an array.
func decodeParams(raw json.RawMessage) (callParams, error) {
	if len(raw) == 0 || isNull(raw) {
		return callParams{}, nil
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, err
		}
		if strings.TrimSpace(inner) == "" {
			return callParams{}, nil
		}
		raw = json.RawMessage(inner)
	}
	var list []callParam
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	out := make(callParams, len(list))
	for _, p := range list {
		out[p.Name] = p.Value
	}
	return out, nil
}

// standardVote decodes the packed vote byte, either numeric, hex, or an
// object of the form {"aye": true, "conviction": "Locked2x"}.
func standardVote(raw json.RawMessage) (bool, string, error) {
	if len(raw) == 0 {
		return false, "", fmt.Errorf("%w: vote byte", errMissingParam)
	}
	if raw[0] == '{' {
		var v struct {
			Aye        bool            `json:"aye"`
			Conviction json.RawMessage `json:"conviction"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return false, "", fmt.Errorf("vote byte: %w", err)
		}
		conviction, err := convictionValue(v.Conviction)
		return v.Aye, conviction, err
	}
	b, err := uintValue(raw)
	if err != nil {
		return false, "", fmt.Errorf("vote byte: %w", err)
	}
	if b > 0xff {
		return false, "", fmt.Errorf("vote byte %d out of range", b)
	}
	conviction, err := convictionLabel(b &^ voteAyeBit)
	return b&voteAyeBit != 0, conviction, err
}

// convictionValue accepts "None", "Locked1x".."Locked6x" or the numeric index.
func convictionValue(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || isNull(raw) {
		return convictionLabel(0)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		s = strings.TrimSpace(s)
		if strings.EqualFold(s, "none") {
			return convictionLabel(0)
		}
		if rest, ok := strings.CutPrefix(s, "Locked"); ok {
			if v, err := strconv.ParseUint(strings.TrimSuffix(rest, "x"), 10, 8); err == nil {
				return convictionLabel(v)
			}
		}
	}
	v, err := uintValue(raw)
	if err != nil {
		return "", fmt.Errorf("conviction: %w", err)
	}
	return convictionLabel(v)
}

func convictionLabel(v uint64) (string, error) {
	switch {
	case v == 0:
		return "0.1x", nil
	case v <= voteConvictionMax:
		return strconv.FormatUint(v, 10) + "x", nil
	default:
		return "", fmt.Errorf("conviction %d out of range", v)
	}
}

// addressValue accepts a bare string or a MultiAddress object like {"Id": "..."}.
func addressValue(raw json.RawMessage) (string, error) {
	if len(raw) > 0 && raw[0] == '{' {
		var m map[string]string
		if err := json.Unmarshal(raw, &m); err != nil {
			return "", err
		}
		for _, key := range []string{"Id", "id", "Address32", "address32"} {
			if v := strings.TrimSpace(m[key]); v != "" {
				return v, nil
			}
		}
		return "", fmt.Errorf("no account id in %s", string(raw))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	if s = strings.TrimSpace(s); s == "" {
		return "", errMissingParam
	}
	return s, nil
}

func uintValue(raw json.RawMessage) (uint64, error) {
	d, err := integerValue(raw)
	if err != nil {
		return 0, err
	}
	if d.IsNegative() || !d.BigInt().IsUint64() {
		return 0, fmt.Errorf("%s out of range", d.String())
	}
	return d.BigInt().Uint64(), nil
}

// integerValue parses a JSON number, a decimal string, or a 0x hex string.
func integerValue(raw json.RawMessage) (decimal.Decimal, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return decimal.Zero, errMissingParam
	}
	if text[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return decimal.Zero, err
		}
		text = strings.TrimSpace(text)
	}
	if hex, ok := strings.CutPrefix(strings.ToLower(text), "0x"); ok {
		b, ok := new(big.Int).SetString(hex, 16)
		if !ok {
			return decimal.Zero, fmt.Errorf("invalid hex integer %q", text)
		}
		return decimal.NewFromBigInt(b, 0), nil
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.Equal(d.Truncate(0)) {
		return decimal.Zero, fmt.Errorf("non-integer value %q", text)
	}
	return d, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
