package chanevent

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/wire"
	lfn "github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/rgbln/rgbsettle/rgb"
	"github.com/stretchr/testify/mock"
)

// MockEngine is a mock implementation of the Engine interface.
type MockEngine struct {
	mock.Mock
}

// FundingTransactionGenerated hands a funding transaction to the engine.
func (m *MockEngine) FundingTransactionGenerated(ctx context.Context,
	tempChanID lnwire.ChannelID, counterparty route.Vertex,
	tx *wire.MsgTx) error {

	args := m.Called(ctx, tempChanID, counterparty, tx)
	return args.Error(0)
}

// ForwardInterceptedHTLC forwards an intercepted HTLC.
func (m *MockEngine) ForwardInterceptedHTLC(ctx context.Context,
	id InterceptID, nextHop lnwire.ShortChannelID, amt lnwire.MilliSatoshi,
	amtRgb lfn.Option[uint64]) error {

	args := m.Called(ctx, id, nextHop, amt, amtRgb)
	return args.Error(0)
}

// FailInterceptedHTLC fails an intercepted HTLC.
func (m *MockEngine) FailInterceptedHTLC(ctx context.Context,
	id InterceptID) error {

	args := m.Called(ctx, id)
	return args.Error(0)
}

// ProcessPendingHTLCForwards forwards pending HTLCs.
func (m *MockEngine) ProcessPendingHTLCForwards(ctx context.Context) {
	m.Called(ctx)
}

// ClaimFunds claims an inbound payment.
func (m *MockEngine) ClaimFunds(ctx context.Context,
	preimage lntypes.Preimage) error {

	args := m.Called(ctx, preimage)
	return args.Error(0)
}

var _ Engine = (*MockEngine)(nil)

// MockChannelAssetStore is an in-memory ChannelAssetStore.
type MockChannelAssetStore struct {
	ByChanID map[lnwire.ChannelID]rgb.ChannelInfo
	BySCID   map[lnwire.ShortChannelID]rgb.ChannelInfo
}

// NewMockChannelAssetStore creates an empty channel asset store.
func NewMockChannelAssetStore() *MockChannelAssetStore {
	return &MockChannelAssetStore{
		ByChanID: make(map[lnwire.ChannelID]rgb.ChannelInfo),
		BySCID:   make(map[lnwire.ShortChannelID]rgb.ChannelInfo),
	}
}

// FetchAssetInfo returns the asset info of a channel.
func (m *MockChannelAssetStore) FetchAssetInfo(
	chanID lnwire.ChannelID) (lfn.Option[rgb.ChannelInfo], error) {

	info, ok := m.ByChanID[chanID]
	if !ok {
		return lfn.None[rgb.ChannelInfo](), nil
	}

	return lfn.Some(info), nil
}

// FetchAssetInfoBySCID returns the asset info of a channel by its SCID.
func (m *MockChannelAssetStore) FetchAssetInfoBySCID(
	scid lnwire.ShortChannelID) (lfn.Option[rgb.ChannelInfo], error) {

	info, ok := m.BySCID[scid]
	if !ok {
		return lfn.None[rgb.ChannelInfo](), nil
	}

	return lfn.Some(info), nil
}

var _ ChannelAssetStore = (*MockChannelAssetStore)(nil)

// MockKeysSource is a KeysSource backed by fixed keys.
type MockKeysSource struct {
	Keys        map[KeysID]*ChannelKeys
	Destination []byte
	Master      *hdkeychain.ExtendedKey
}

// DeriveChannelKeys returns the keys of a channel.
func (m *MockKeysSource) DeriveChannelKeys(_ btcutil.Amount,
	id KeysID) (*ChannelKeys, error) {

	keys, ok := m.Keys[id]
	if !ok {
		return nil, ErrUnknownChannelKeys
	}

	return keys, nil
}

// DestinationScript is the script cooperative closes pay to.
func (m *MockKeysSource) DestinationScript() []byte {
	return m.Destination
}

// MasterKey is the root extended key.
func (m *MockKeysSource) MasterKey() *hdkeychain.ExtendedKey {
	return m.Master
}

var _ KeysSource = (*MockKeysSource)(nil)
