package rgb

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// TransferRequest describes an asset transfer that is committed to inside a
// bitcoin transaction that is still being built.
type TransferRequest struct {
	// ContractID is the contract whose allocations are moved.
	ContractID ContractID

	// Packet is the unsigned witness transaction.
	Packet *psbt.Packet

	// Inputs is the exact set of asset bearing outpoints that are spent.
	Inputs []wire.OutPoint

	// Beneficiaries maps witness outputs to the amount they receive. The
	// vouts are positional and must match the outputs of Packet.
	Beneficiaries []Beneficiary

	// Change is the list of additional seals that receive asset change.
	Change []Beneficiary
}

// AssetLedger is the external service that tracks RGB contract state and
// builds and validates transfers.
type AssetLedger interface {
	// ListOwnedValues returns every allocation of the contract that is
	// owned by the local wallet, in the order the ledger stores them.
	ListOwnedValues(ctx context.Context,
		contractID ContractID) ([]OwnedValue, error)

	// Transfer commits an asset transfer into the passed witness
	// transaction. The updated unsigned transaction is returned together
	// with the consignment that proves the transfer.
	Transfer(ctx context.Context,
		req *TransferRequest) (*psbt.Packet, *Consignment, error)

	// FinalizeTransfer consumes a consignment, revealing the seal
	// described by reveal. Consuming the same consignment twice with the
	// same reveal is allowed and yields the same status.
	FinalizeTransfer(ctx context.Context, c *Consignment,
		reveal Reveal) (Validity, error)
}

// SyncLedger wraps an AssetLedger so that at most one call is in flight at
// any time. The asset ledger client is not safe for concurrent use.
type SyncLedger struct {
	mtx    sync.Mutex
	ledger AssetLedger
}

// NewSyncLedger returns a serializing wrapper around ledger.
func NewSyncLedger(ledger AssetLedger) *SyncLedger {
	return &SyncLedger{ledger: ledger}
}

// ListOwnedValues returns the owned values of a contract.
func (s *SyncLedger) ListOwnedValues(ctx context.Context,
	contractID ContractID) ([]OwnedValue, error) {

	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.ledger.ListOwnedValues(ctx, contractID)
}

// Transfer commits an asset transfer into a witness transaction.
func (s *SyncLedger) Transfer(ctx context.Context,
	req *TransferRequest) (*psbt.Packet, *Consignment, error) {

	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.ledger.Transfer(ctx, req)
}

// FinalizeTransfer consumes a consignment.
func (s *SyncLedger) FinalizeTransfer(ctx context.Context, c *Consignment,
	reveal Reveal) (Validity, error) {

	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.ledger.FinalizeTransfer(ctx, c, reveal)
}

var _ AssetLedger = (*SyncLedger)(nil)
