package rgb

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// DefaultBlinding is the blinding factor used for every beneficiary
	// seal and reveal. A fixed factor makes seals linkable, so it is only
	// the default of a configurable value.
	DefaultBlinding uint64 = 777
)

var (
	// ErrBundleNotFound is returned when a consignment has no anchored
	// bundle for a requested transaction.
	ErrBundleNotFound = errors.New("no anchored bundle for transaction")

	// ErrAssignmentNotFound is returned when a bundle carries no revealed
	// value assignment for a requested output.
	ErrAssignmentNotFound = errors.New("no revealed assignment for output")
)

// OwnedValue is an allocation of Value units of a contract bound to the
// output Seal.
type OwnedValue struct {
	Seal  wire.OutPoint
	Value uint64
}

// CloseMethod is the method used to commit to a state transition inside the
// witness transaction.
type CloseMethod uint8

const (
	// CloseMethodOpretFirst commits with an OP_RETURN output.
	CloseMethodOpretFirst CloseMethod = 0

	// CloseMethodTapretFirst commits inside a taproot output.
	CloseMethodTapretFirst CloseMethod = 1
)

// String returns a human readable name of the close method.
func (c CloseMethod) String() string {
	switch c {
	case CloseMethodOpretFirst:
		return "opret1st"
	case CloseMethodTapretFirst:
		return "tapret1st"
	default:
		return fmt.Sprintf("CloseMethod(%d)", uint8(c))
	}
}

// Beneficiary is a seal endpoint that receives Amount units in a transfer.
// The seal is defined by a vout of the witness transaction itself.
type Beneficiary struct {
	// Vout is the output of the witness transaction the allocation is
	// bound to.
	Vout uint32

	// Blinding is the blinding factor of the seal.
	Blinding uint64

	// Method is the commitment close method.
	Method CloseMethod

	// Amount is the number of asset units allocated to the seal.
	Amount uint64
}

// Reveal is the information needed to reveal a blinded witness-vout seal
// when a transfer is consumed.
type Reveal struct {
	// OutPoint is the concrete output the seal resolves to.
	OutPoint wire.OutPoint

	// BlindingFactor is the blinding factor used when the seal was
	// created.
	BlindingFactor uint64

	// CloseMethod is the close method used for the seal.
	CloseMethod CloseMethod

	// WitnessVout is true if the seal was defined relative to the witness
	// transaction.
	WitnessVout bool
}

// NewWitnessReveal returns the reveal for a witness-vout seal at the given
// outpoint.
func NewWitnessReveal(op wire.OutPoint, blinding uint64) Reveal {
	return Reveal{
		OutPoint:       op,
		BlindingFactor: blinding,
		CloseMethod:    CloseMethodOpretFirst,
		WitnessVout:    true,
	}
}

// Validity is the result of validating a consignment.
type Validity uint8

const (
	// ValidityValid means the consignment is fully valid.
	ValidityValid Validity = 0

	// ValidityUnresolvedTransactions means the consignment is valid but
	// some of its witness transactions are not yet known to the chain.
	ValidityUnresolvedTransactions Validity = 1

	// ValidityInvalid means the consignment failed validation.
	ValidityInvalid Validity = 2
)

// String returns a human readable validity status.
func (v Validity) String() string {
	switch v {
	case ValidityValid:
		return "valid"
	case ValidityUnresolvedTransactions:
		return "unresolved_transactions"
	case ValidityInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("Validity(%d)", uint8(v))
	}
}

// Assignment is a revealed value assignment of a state transition.
type Assignment struct {
	// Vout is the witness output the assignment's seal points to.
	Vout uint32

	// Value is the amount assigned.
	Value uint64
}

// AnchoredBundle is the set of revealed assignments of the transition bundle
// anchored in the transaction Txid.
type AnchoredBundle struct {
	Txid        chainhash.Hash
	Assignments []Assignment
}

// ValueAt returns the value of the revealed assignment bound to vout.
func (b *AnchoredBundle) ValueAt(vout uint32) (uint64, error) {
	for _, a := range b.Assignments {
		if a.Vout == vout {
			return a.Value, nil
		}
	}

	return 0, fmt.Errorf("%w: %v:%d", ErrAssignmentNotFound, b.Txid,
		vout)
}

// Consignment is a transfer proof. The strict encoded proof produced by the
// asset ledger is kept opaque in Blob, next to the anchor data the ledger
// reports for it.
type Consignment struct {
	// ContractID is the contract the transfer belongs to.
	ContractID ContractID

	// Bundles is the list of anchored bundles in the order they appear in
	// the consignment. The last one is the transfer itself.
	Bundles []AnchoredBundle

	// Blob is the strict encoded consignment.
	Blob []byte
}

// LastBundle returns the most recent anchored bundle of the consignment.
func (c *Consignment) LastBundle() (*AnchoredBundle, error) {
	if len(c.Bundles) == 0 {
		return nil, fmt.Errorf("%w: consignment has no bundles",
			ErrBundleNotFound)
	}

	return &c.Bundles[len(c.Bundles)-1], nil
}

// BundleForTxid returns the anchored bundle that is committed to in txid.
func (c *Consignment) BundleForTxid(txid chainhash.Hash) (*AnchoredBundle,
	error) {

	for i := range c.Bundles {
		if c.Bundles[i].Txid == txid {
			return &c.Bundles[i], nil
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrBundleNotFound, txid)
}

// ChannelInfo is the asset state of a colored channel. A channel is colored
// iff such a record exists for it.
type ChannelInfo struct {
	// ContractID is the contract whose allocations the channel carries.
	ContractID ContractID

	// LocalAmount is the number of asset units owned by the local node.
	LocalAmount uint64

	// RemoteAmount is the number of asset units owned by the remote node.
	RemoteAmount uint64
}
