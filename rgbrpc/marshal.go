package rgbrpc

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rgbln/rgbsettle/rgb"
)

// allocation is an owned value as reported by the RGB node.
type allocation struct {
	Outpoint string `json:"outpoint"`
	Value    uint64 `json:"value"`
}

type ownedValuesRequest struct {
	ContractID string `json:"contract_id"`
}

type ownedValuesResponse struct {
	Allocations []allocation `json:"allocations"`
}

type beneficiary struct {
	Vout     uint32 `json:"vout"`
	Blinding uint64 `json:"blinding"`
	Method   string `json:"method"`
	Amount   uint64 `json:"amount"`
}

type composeRequest struct {
	ContractID    string        `json:"contract_id"`
	Psbt          string        `json:"psbt"`
	Inputs        []string      `json:"inputs"`
	Beneficiaries []beneficiary `json:"beneficiaries"`
	Change        []beneficiary `json:"change,omitempty"`
}

type assignment struct {
	Vout  uint32 `json:"vout"`
	Value uint64 `json:"value"`
}

type anchor struct {
	Txid        string       `json:"txid"`
	Assignments []assignment `json:"assignments"`
}

type composeResponse struct {
	Psbt        string   `json:"psbt"`
	Consignment []byte   `json:"consignment"`
	Anchors     []anchor `json:"anchors"`
}

type reveal struct {
	Outpoint    string `json:"outpoint"`
	Blinding    uint64 `json:"blinding"`
	CloseMethod string `json:"close_method"`
	WitnessVout bool   `json:"witness_vout"`
}

type consumeRequest struct {
	ContractID  string `json:"contract_id"`
	Consignment []byte `json:"consignment"`
	Reveal      reveal `json:"reveal"`
}

type consumeResponse struct {
	Status string `json:"status"`
}

func marshalBeneficiaries(bs []rgb.Beneficiary) []beneficiary {
	if len(bs) == 0 {
		return nil
	}

	out := make([]beneficiary, 0, len(bs))
	for _, b := range bs {
		out = append(out, beneficiary{
			Vout:     b.Vout,
			Blinding: b.Blinding,
			Method:   b.Method.String(),
			Amount:   b.Amount,
		})
	}

	return out
}

func unmarshalOutPoint(s string) (wire.OutPoint, error) {
	op, err := wire.NewOutPointFromString(s)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("invalid outpoint %q: %w", s,
			err)
	}

	return *op, nil
}

func unmarshalAnchors(anchors []anchor) ([]rgb.AnchoredBundle, error) {
	bundles := make([]rgb.AnchoredBundle, 0, len(anchors))
	for _, a := range anchors {
		txid, err := chainhash.NewHashFromStr(a.Txid)
		if err != nil {
			return nil, fmt.Errorf("invalid anchor txid %q: %w",
				a.Txid, err)
		}

		bundle := rgb.AnchoredBundle{
			Txid: *txid,
			Assignments: make(
				[]rgb.Assignment, 0, len(a.Assignments),
			),
		}
		for _, as := range a.Assignments {
			bundle.Assignments = append(
				bundle.Assignments, rgb.Assignment{
					Vout:  as.Vout,
					Value: as.Value,
				},
			)
		}

		bundles = append(bundles, bundle)
	}

	return bundles, nil
}

func unmarshalValidity(status string) (rgb.Validity, error) {
	for _, v := range []rgb.Validity{
		rgb.ValidityValid, rgb.ValidityUnresolvedTransactions,
		rgb.ValidityInvalid,
	} {
		if strings.EqualFold(status, v.String()) {
			return v, nil
		}
	}

	return 0, fmt.Errorf("unknown validity status %q", status)
}
