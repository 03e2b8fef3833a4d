package wallet

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/stretchr/testify/mock"
)

// MockAnchor is a mock implementation of the Anchor interface.
type MockAnchor struct {
	mock.Mock
}

// NewAddress returns a fresh address.
func (m *MockAnchor) NewAddress(ctx context.Context) (btcutil.Address,
	error) {

	args := m.Called(ctx)
	addr, _ := args.Get(0).(btcutil.Address)

	return addr, args.Error(1)
}

// FundPsbt funds a transaction.
func (m *MockAnchor) FundPsbt(ctx context.Context,
	req *FundRequest) (*psbt.Packet, error) {

	args := m.Called(ctx, req)
	pkt, _ := args.Get(0).(*psbt.Packet)

	return pkt, args.Error(1)
}

// SignPsbt signs a transaction.
func (m *MockAnchor) SignPsbt(ctx context.Context,
	pkt *psbt.Packet) (*wire.MsgTx, error) {

	args := m.Called(ctx, pkt)
	tx, _ := args.Get(0).(*wire.MsgTx)

	return tx, args.Error(1)
}

// Sync syncs the wallet.
func (m *MockAnchor) Sync(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

var _ Anchor = (*MockAnchor)(nil)

// MockChainQuery is a mock implementation of the ChainQuery interface.
type MockChainQuery struct {
	mock.Mock
}

// PublishTransaction broadcasts a transaction.
func (m *MockChainQuery) PublishTransaction(ctx context.Context,
	tx *wire.MsgTx) error {

	args := m.Called(ctx, tx)
	return args.Error(0)
}

// FetchTxOut looks up an unspent output.
func (m *MockChainQuery) FetchTxOut(ctx context.Context,
	op wire.OutPoint) (*wire.TxOut, error) {

	args := m.Called(ctx, op)
	txOut, _ := args.Get(0).(*wire.TxOut)

	return txOut, args.Error(1)
}

// EstimateFeeRate estimates a fee rate.
func (m *MockChainQuery) EstimateFeeRate(ctx context.Context,
	confTarget uint32) (chainfee.SatPerKWeight, error) {

	args := m.Called(ctx, confTarget)
	return args.Get(0).(chainfee.SatPerKWeight), args.Error(1)
}

var _ ChainQuery = (*MockChainQuery)(nil)
