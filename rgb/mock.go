package rgb

import (
	"context"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/stretchr/testify/mock"
)

// MockAssetLedger is a mock implementation of the AssetLedger interface.
type MockAssetLedger struct {
	mock.Mock
}

// ListOwnedValues returns the owned values of a contract.
func (m *MockAssetLedger) ListOwnedValues(ctx context.Context,
	contractID ContractID) ([]OwnedValue, error) {

	args := m.Called(ctx, contractID)
	values, _ := args.Get(0).([]OwnedValue)

	return values, args.Error(1)
}

// Transfer commits a transfer into a witness transaction.
func (m *MockAssetLedger) Transfer(ctx context.Context,
	req *TransferRequest) (*psbt.Packet, *Consignment, error) {

	args := m.Called(ctx, req)
	pkt, _ := args.Get(0).(*psbt.Packet)
	c, _ := args.Get(1).(*Consignment)

	return pkt, c, args.Error(2)
}

// FinalizeTransfer consumes a consignment.
func (m *MockAssetLedger) FinalizeTransfer(ctx context.Context,
	c *Consignment, reveal Reveal) (Validity, error) {

	args := m.Called(ctx, c, reveal)

	return args.Get(0).(Validity), args.Error(1)
}

// A compile-time assertion to ensure MockAssetLedger meets the AssetLedger
// interface.
var _ AssetLedger = (*MockAssetLedger)(nil)
