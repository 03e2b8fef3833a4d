package lndservices

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/lnrpc/walletrpc"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/rgbln/rgbsettle/wallet"
	"github.com/stretchr/testify/require"
)

var errUnknownOutput = errors.New("unknown output")

// fakeWalletKit records the wallet kit calls of the anchor. Calls it doesn't
// override panic on the nil embedded interface.
type fakeWalletKit struct {
	lndclient.WalletKitClient

	known    map[wire.OutPoint]bool
	leased   map[wire.OutPoint]bool
	lockIDs  []wtxmgr.LockID
	released []wire.OutPoint

	// leasedDuringFund is the set of leases held when FundPsbt was
	// called.
	leasedDuringFund map[wire.OutPoint]bool
	fundReq          *walletrpc.FundPsbtRequest
	fundResult       *psbt.Packet
	fundErr          error

	finalized *wire.MsgTx
}

func (f *fakeWalletKit) NextAddr(_ context.Context, account string,
	addrType walletrpc.AddressType, change bool) (btcutil.Address, error) {

	if addrType != walletrpc.AddressType_WITNESS_PUBKEY_HASH || change ||
		account != "" {

		return nil, errors.New("unexpected address request")
	}

	return btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), &chaincfg.RegressionNetParams,
	)
}

func (f *fakeWalletKit) LeaseOutput(_ context.Context, lockID wtxmgr.LockID,
	op wire.OutPoint, _ time.Duration) (time.Time, error) {

	if !f.known[op] {
		return time.Time{}, errUnknownOutput
	}

	f.leased[op] = true
	f.lockIDs = append(f.lockIDs, lockID)

	return time.Now(), nil
}

func (f *fakeWalletKit) ReleaseOutput(_ context.Context, _ wtxmgr.LockID,
	op wire.OutPoint) error {

	delete(f.leased, op)
	f.released = append(f.released, op)

	return nil
}

func (f *fakeWalletKit) FundPsbt(_ context.Context,
	req *walletrpc.FundPsbtRequest) (*psbt.Packet, int32,
	[]*walletrpc.UtxoLease, error) {

	f.fundReq = req
	f.leasedDuringFund = make(map[wire.OutPoint]bool)
	for op := range f.leased {
		f.leasedDuringFund[op] = true
	}

	return f.fundResult, 1, nil, f.fundErr
}

func (f *fakeWalletKit) FinalizePsbt(_ context.Context, pkt *psbt.Packet,
	_ string) (*psbt.Packet, *wire.MsgTx, error) {

	return pkt, f.finalized, nil
}

type fakeLightning struct {
	lndclient.LightningClient

	info *lndclient.Info
}

func (f *fakeLightning) GetInfo(context.Context) (*lndclient.Info, error) {
	return f.info, nil
}

func newTestAnchor() (*LndRpcWalletAnchor, *fakeWalletKit) {
	kit := &fakeWalletKit{
		known:  make(map[wire.OutPoint]bool),
		leased: make(map[wire.OutPoint]bool),
	}
	lnd := &lndclient.LndServices{
		WalletKit: kit,
		Client: &fakeLightning{
			info: &lndclient.Info{SyncedToChain: false},
		},
	}

	return NewLndRpcWalletAnchor(lnd), kit
}

// TestFundPsbt makes sure the template carries the requested inputs and
// outputs in order, and that unspendable outputs are only leased while the
// wallet funds the transaction.
func TestFundPsbt(t *testing.T) {
	t.Parallel()

	anchor, kit := newTestAnchor()
	ctx := context.Background()

	input := wire.OutPoint{Hash: chainhash.Hash{1}, Index: 0}
	colored := wire.OutPoint{Hash: chainhash.Hash{2}, Index: 1}
	spent := wire.OutPoint{Hash: chainhash.Hash{3}, Index: 2}
	kit.known[colored] = true

	kit.fundResult = &psbt.Packet{UnsignedTx: wire.NewMsgTx(2)}

	out := wire.NewTxOut(100_000, []byte{0x00, 0x20})
	pkt, err := anchor.FundPsbt(ctx, &wallet.FundRequest{
		Inputs:      []wire.OutPoint{input},
		Unspendable: []wire.OutPoint{colored, spent},
		Outputs:     []*wire.TxOut{out},
		FeeRate:     chainfee.SatPerKVByte(1500).FeePerKWeight(),
	})
	require.NoError(t, err)
	require.Equal(t, kit.fundResult, pkt)

	require.Equal(t, map[wire.OutPoint]bool{colored: true},
		kit.leasedDuringFund)
	require.Empty(t, kit.leased)
	require.Equal(t, []wire.OutPoint{colored}, kit.released)
	require.Equal(t, []wtxmgr.LockID{unspendableLockID}, kit.lockIDs)

	// 1.5 sat/vB is rounded up.
	require.Equal(t, uint64(2), kit.fundReq.GetSatPerVbyte())
	require.EqualValues(t, defaultMinConfs, kit.fundReq.MinConfs)

	coinSelect := kit.fundReq.GetCoinSelect()
	require.NotNil(t, coinSelect)
	require.True(t, coinSelect.GetAdd())

	template, err := psbt.NewFromRawBytes(
		bytes.NewReader(coinSelect.Psbt), false,
	)
	require.NoError(t, err)
	require.Len(t, template.UnsignedTx.TxIn, 1)
	require.Equal(t, input, template.UnsignedTx.TxIn[0].PreviousOutPoint)
	require.Equal(t, []*wire.TxOut{out}, template.UnsignedTx.TxOut)
}

// TestFundPsbtFailureReleases checks leases are released when funding fails.
func TestFundPsbtFailureReleases(t *testing.T) {
	t.Parallel()

	anchor, kit := newTestAnchor()

	colored := wire.OutPoint{Hash: chainhash.Hash{2}, Index: 1}
	kit.known[colored] = true
	kit.fundErr = errors.New("insufficient funds")

	_, err := anchor.FundPsbt(context.Background(), &wallet.FundRequest{
		Unspendable: []wire.OutPoint{colored},
		Outputs:     []*wire.TxOut{wire.NewTxOut(1000, []byte{0x51})},
		FeeRate:     chainfee.FeePerKwFloor,
	})
	require.ErrorContains(t, err, "insufficient funds")
	require.Empty(t, kit.leased)
}

// TestAddressSignSync covers the remaining wallet calls.
func TestAddressSignSync(t *testing.T) {
	t.Parallel()

	anchor, kit := newTestAnchor()
	ctx := context.Background()

	addr, err := anchor.NewAddress(ctx)
	require.NoError(t, err)
	require.IsType(t, &btcutil.AddressWitnessPubKeyHash{}, addr)

	kit.finalized = wire.NewMsgTx(2)
	tx, err := anchor.SignPsbt(ctx, &psbt.Packet{
		UnsignedTx: wire.NewMsgTx(2),
	})
	require.NoError(t, err)
	require.Equal(t, kit.finalized, tx)

	// An unsynced wallet is reported but not an error.
	require.NoError(t, anchor.Sync(ctx))
}
