package consignment

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/mock"
)

// MockCourier is a mock implementation of the Courier interface.
type MockCourier struct {
	mock.Mock
}

// DeliverConsignment delivers a consignment.
func (m *MockCourier) DeliverConsignment(ctx context.Context,
	txid chainhash.Hash, path string) error {

	args := m.Called(ctx, txid, path)
	return args.Error(0)
}

var _ Courier = (*MockCourier)(nil)
