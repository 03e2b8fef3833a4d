package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/rgbln/rgbsettle/chanevent"
	"github.com/rgbln/rgbsettle/consignment"
	"github.com/rgbln/rgbsettle/rgb"
	"github.com/rgbln/rgbsettle/rgbutxo"
	"github.com/rgbln/rgbsettle/wallet"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	testParams   = &chaincfg.RegressionNetParams
	testContract = rgb.ContractID{0xaa}
	testKeysID   = chanevent.KeysID{0x01}
)

// fakeLedger is an asset ledger that commits to transfers with an OP_RETURN
// output and records every reveal.
type fakeLedger struct {
	mtx       sync.Mutex
	transfers []*rgb.TransferRequest
	reveals   []rgb.Reveal
}

func (f *fakeLedger) ListOwnedValues(context.Context,
	rgb.ContractID) ([]rgb.OwnedValue, error) {

	return nil, nil
}

func (f *fakeLedger) Transfer(_ context.Context,
	req *rgb.TransferRequest) (*psbt.Packet, *rgb.Consignment, error) {

	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.transfers = append(f.transfers, req)

	pkt := req.Packet
	opret := append([]byte{txscript.OP_RETURN, 32}, make([]byte, 32)...)
	pkt.UnsignedTx.AddTxOut(wire.NewTxOut(0, opret))
	pkt.Outputs = append(pkt.Outputs, psbt.POutput{})

	assignments := make([]rgb.Assignment, 0, len(req.Beneficiaries))
	for _, b := range req.Beneficiaries {
		assignments = append(assignments, rgb.Assignment{
			Vout:  b.Vout,
			Value: b.Amount,
		})
	}

	return pkt, &rgb.Consignment{
		ContractID: req.ContractID,
		Bundles: []rgb.AnchoredBundle{{
			Txid:        pkt.UnsignedTx.TxHash(),
			Assignments: assignments,
		}},
		Blob: []byte{0xbe, 0xef},
	}, nil
}

func (f *fakeLedger) FinalizeTransfer(_ context.Context, _ *rgb.Consignment,
	reveal rgb.Reveal) (rgb.Validity, error) {

	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.reveals = append(f.reveals, reveal)

	return rgb.ValidityValid, nil
}

type testHarness struct {
	ctx       context.Context
	reclaimer *Reclaimer

	primary *wallet.MockAnchor
	chain   *wallet.MockChainQuery
	ledger  *fakeLedger
	keys    *chanevent.MockKeysSource
	utxos   *rgbutxo.Ledger
	archive *consignment.FileArchiver

	dataDir    string
	destScript []byte
	published  chan *wire.MsgTx
}

func newTestHarness(t *testing.T) *testHarness {
	dir := t.TempDir()

	utxos, err := rgbutxo.Init(dir)
	require.NoError(t, err)
	archive, err := consignment.NewFileArchiver(dir)
	require.NoError(t, err)

	h := &testHarness{
		ctx:       context.Background(),
		primary:   &wallet.MockAnchor{},
		chain:     &wallet.MockChainQuery{},
		ledger:    &fakeLedger{},
		utxos:     utxos,
		archive:   archive,
		dataDir:   dir,
		published: make(chan *wire.MsgTx, 4),
		keys: &chanevent.MockKeysSource{
			Keys: make(map[chanevent.KeysID]*chanevent.ChannelKeys),
		},
	}

	proofs := consignment.NewLifecycle(&consignment.LifecycleCfg{
		Archive:     archive,
		AssetLedger: h.ledger,
		Courier:     &consignment.MockCourier{},
		Blinding:    rgb.DefaultBlinding,
	})

	h.reclaimer = NewReclaimer(&ReclaimerCfg{
		PrimaryWallet: h.primary,
		Chain:         h.chain,
		AssetLedger:   h.ledger,
		UtxoLedger:    utxos,
		Proofs:        proofs,
		Keys:          h.keys,
		ChainParams:   testParams,
		FeeRate:       wallet.DefaultFeeRate,
		ConfTarget:    DefaultConfTarget,
		Blinding:      rgb.DefaultBlinding,
	})

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), testParams,
	)
	require.NoError(t, err)
	h.destScript, err = txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	h.primary.On("NewAddress", h.ctx).Return(addr, nil)
	h.primary.On("Sync", h.ctx).Return(nil)

	return h
}

// expectPublish captures every published transaction.
func (h *testHarness) expectPublish() {
	h.chain.On("PublishTransaction", h.ctx, mock.Anything).Run(
		func(args mock.Arguments) {
			h.published <- args.Get(1).(*wire.MsgTx)
		},
	).Return(nil)
}

// storeProof stores a consignment that allocates amount to op.
func (h *testHarness) storeProof(t *testing.T, op wire.OutPoint,
	amount uint64) {

	err := h.archive.StoreConsignment(
		h.ctx, consignment.TxidLocator(op.Hash), &rgb.Consignment{
			ContractID: testContract,
			Bundles: []rgb.AnchoredBundle{{
				Txid: op.Hash,
				Assignments: []rgb.Assignment{
					{Vout: op.Index, Value: amount},
					{Vout: op.Index + 1, Value: 1},
				},
			}},
			Blob: []byte{0x01},
		},
	)
	require.NoError(t, err)
}

func p2wkhScript(t *testing.T, pub *btcec.PublicKey) []byte {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pub.SerializeCompressed()), testParams,
	)
	require.NoError(t, err)

	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	return script
}

func newKey(t *testing.T) *btcec.PrivateKey {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return key
}

// assertSpends runs the script engine over the only input of tx.
func assertSpends(t *testing.T, tx *wire.MsgTx, prevOut *wire.TxOut) {
	fetcher := txscript.NewCannedPrevOutputFetcher(
		prevOut.PkScript, prevOut.Value,
	)
	vm, err := txscript.NewEngine(
		prevOut.PkScript, tx, 0, txscript.StandardVerifyFlags, nil,
		txscript.NewTxSigHashes(tx, fetcher), prevOut.Value, fetcher,
	)
	require.NoError(t, err)
	require.NoError(t, vm.Execute())
}

// assertReclaimed checks the state after the reclaim of op with amount.
func (h *testHarness) assertReclaimed(t *testing.T, op wire.OutPoint,
	prevOut *wire.TxOut, amount uint64) *wire.MsgTx {

	tx := <-h.published
	require.Len(t, tx.TxIn, 1)
	require.Equal(t, op, tx.TxIn[0].PreviousOutPoint)
	require.Equal(t, h.destScript, tx.TxOut[ReclaimVout].PkScript)
	require.Less(t, tx.TxOut[ReclaimVout].Value, prevOut.Value)
	assertSpends(t, tx, prevOut)

	txid := tx.TxHash()
	reclaimed := wire.OutPoint{Hash: txid, Index: ReclaimVout}

	// The old proof is consumed at the swept output, the new one at the
	// reclaim output.
	require.Equal(t, []rgb.Reveal{
		rgb.NewWitnessReveal(op, rgb.DefaultBlinding),
		rgb.NewWitnessReveal(reclaimed, rgb.DefaultBlinding),
	}, h.ledger.reveals)

	require.Len(t, h.ledger.transfers, 1)
	req := h.ledger.transfers[0]
	require.Equal(t, testContract, req.ContractID)
	require.Equal(t, []wire.OutPoint{op}, req.Inputs)
	require.Equal(t, []rgb.Beneficiary{{
		Vout:     ReclaimVout,
		Blinding: rgb.DefaultBlinding,
		Method:   rgb.CloseMethodOpretFirst,
		Amount:   amount,
	}}, req.Beneficiaries)

	require.True(t, h.utxos.IsColored(reclaimed))

	has, err := h.archive.HasConsignment(
		context.Background(), consignment.TxidLocator(txid),
	)
	require.NoError(t, err)
	require.True(t, has)

	return tx
}

func TestReclaimStaticPayment(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.expectPublish()

	paymentKey := newKey(t)
	h.keys.Keys[testKeysID] = &chanevent.ChannelKeys{
		PaymentKey: paymentKey,
	}

	op := wire.OutPoint{Hash: chainhash.Hash{0x10}, Index: 1}
	prevOut := wire.NewTxOut(50_000, p2wkhScript(t, paymentKey.PubKey()))
	h.storeProof(t, op, 700)
	h.chain.On("FetchTxOut", h.ctx, op).Return(prevOut, nil).Once()

	err := h.reclaimer.HandleSpendableOutputs(
		h.ctx, []chanevent.OutputDescriptor{
			&chanevent.StaticPaymentOutput{
				Outpoint:      op,
				Output:        prevOut,
				ChannelKeysID: testKeysID,
				ChannelValue:  100_000,
			},
		},
	)
	require.NoError(t, err)

	tx := h.assertReclaimed(t, op, prevOut, 700)
	require.Equal(t, wire.MaxTxInSequenceNum, tx.TxIn[0].Sequence)

	h.primary.AssertCalled(t, "Sync", h.ctx)
}

func TestReclaimDelayedPayment(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.expectPublish()

	baseKey := newKey(t)
	perCommitmentPoint := newKey(t).PubKey()
	revocationKey := newKey(t).PubKey()
	h.keys.Keys[testKeysID] = &chanevent.ChannelKeys{
		DelayedPaymentBaseKey: baseKey,
	}

	const csvDelay = 144
	delayedKey := input.TweakPubKey(baseKey.PubKey(), perCommitmentPoint)
	witnessScript, err := input.CommitScriptToSelf(
		csvDelay, delayedKey, revocationKey,
	)
	require.NoError(t, err)
	pkScript, err := input.WitnessScriptHash(witnessScript)
	require.NoError(t, err)

	op := wire.OutPoint{Hash: chainhash.Hash{0x20}, Index: 0}
	prevOut := wire.NewTxOut(80_000, pkScript)
	h.storeProof(t, op, 1_000)

	feeRate := chainfee.SatPerKWeight(2_500)
	h.chain.On("EstimateFeeRate", h.ctx, uint32(DefaultConfTarget)).
		Return(feeRate, nil).Once()

	err = h.reclaimer.HandleSpendableOutputs(
		h.ctx, []chanevent.OutputDescriptor{
			&chanevent.DelayedPaymentOutput{
				Outpoint:           op,
				Output:             prevOut,
				PerCommitmentPoint: perCommitmentPoint,
				ToSelfDelay:        csvDelay,
				RevocationPubKey:   revocationKey,
				ChannelKeysID:      testKeysID,
				ChannelValue:       100_000,
			},
		},
	)
	require.NoError(t, err)

	tx := h.assertReclaimed(t, op, prevOut, 1_000)
	require.EqualValues(t, csvDelay, tx.TxIn[0].Sequence)
	require.Len(t, tx.TxIn[0].Witness, 3)
	require.Empty(t, tx.TxIn[0].Witness[1])
}

func TestReclaimStaticOutput(t *testing.T) {
	t.Parallel()

	seed := make([]byte, hdkeychain.RecommendedSeedLen)
	seed[0] = 0x42
	master, err := hdkeychain.NewMaster(seed, testParams)
	require.NoError(t, err)

	deriveScript := func(index uint32) []byte {
		child, err := master.Derive(hdkeychain.HardenedKeyStart + index)
		require.NoError(t, err)
		pub, err := child.ECPubKey()
		require.NoError(t, err)

		return p2wkhScript(t, pub)
	}
	destination := deriveScript(destinationKeyIndex)
	shutdown := deriveScript(shutdownKeyIndex)

	for _, script := range [][]byte{destination, shutdown} {
		h := newTestHarness(t)
		h.expectPublish()
		h.keys.Destination = destination
		h.keys.Master = master

		op := wire.OutPoint{Hash: chainhash.Hash{0x30}, Index: 2}
		prevOut := wire.NewTxOut(30_000, script)
		h.storeProof(t, op, 5)
		h.chain.On("FetchTxOut", h.ctx, op).Return(prevOut, nil).Once()

		err := h.reclaimer.HandleSpendableOutputs(
			h.ctx, []chanevent.OutputDescriptor{
				&chanevent.StaticOutput{
					Outpoint: op,
					Output:   prevOut,
				},
			},
		)
		require.NoError(t, err)

		h.assertReclaimed(t, op, prevOut, 5)
	}
}

// TestReclaimFailuresSurfaced makes sure a failing descriptor doesn't keep
// the others from being reclaimed and that every failure is returned.
func TestReclaimFailuresSurfaced(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.expectPublish()

	paymentKey := newKey(t)
	h.keys.Keys[testKeysID] = &chanevent.ChannelKeys{
		PaymentKey: paymentKey,
	}
	script := p2wkhScript(t, paymentKey.PubKey())

	missing := wire.OutPoint{Hash: chainhash.Hash{0x40}, Index: 0}
	spent := wire.OutPoint{Hash: chainhash.Hash{0x41}, Index: 0}
	good := wire.OutPoint{Hash: chainhash.Hash{0x42}, Index: 0}

	h.storeProof(t, spent, 10)
	h.storeProof(t, good, 20)
	h.chain.On("FetchTxOut", h.ctx, spent).Return(nil, nil).Once()
	goodOut := wire.NewTxOut(40_000, script)
	h.chain.On("FetchTxOut", h.ctx, good).Return(goodOut, nil).Once()

	descs := make([]chanevent.OutputDescriptor, 0, 3)
	for _, op := range []wire.OutPoint{missing, spent, good} {
		descs = append(descs, &chanevent.StaticPaymentOutput{
			Outpoint:      op,
			Output:        wire.NewTxOut(40_000, script),
			ChannelKeysID: testKeysID,
		})
	}

	err := h.reclaimer.HandleSpendableOutputs(h.ctx, descs)
	require.ErrorIs(t, err, consignment.ErrProofMissing)
	require.ErrorIs(t, err, ErrOutputSpent)
	require.ErrorContains(t, err, missing.String())
	require.ErrorContains(t, err, spent.String())

	tx := <-h.published
	require.Equal(t, good, tx.TxIn[0].PreviousOutPoint)
	assertSpends(t, tx, goodOut)
}

func TestReclaimBroadcastFailure(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	rejected := make(chan *wire.MsgTx, 1)
	h.chain.On("PublishTransaction", h.ctx, mock.Anything).Return(
		errors.New("txn-mempool-conflict"),
	).Run(func(args mock.Arguments) {
		rejected <- args.Get(1).(*wire.MsgTx)
	}).Once()

	paymentKey := newKey(t)
	h.keys.Keys[testKeysID] = &chanevent.ChannelKeys{
		PaymentKey: paymentKey,
	}

	op := wire.OutPoint{Hash: chainhash.Hash{0x50}, Index: 0}
	prevOut := wire.NewTxOut(50_000, p2wkhScript(t, paymentKey.PubKey()))
	h.storeProof(t, op, 3)
	h.chain.On("FetchTxOut", h.ctx, op).Return(prevOut, nil).Once()

	err := h.reclaimer.Reclaim(h.ctx, &chanevent.StaticPaymentOutput{
		Outpoint:      op,
		Output:        prevOut,
		ChannelKeysID: testKeysID,
	})
	require.ErrorIs(t, err, wallet.ErrOperationFailed)

	// The new output is never finalized, the wallet isn't synced and the
	// output of the rejected transaction doesn't enter the ledger.
	require.Len(t, h.ledger.reveals, 1)
	h.primary.AssertNotCalled(t, "Sync", h.ctx)

	tx := <-rejected
	require.False(t, h.utxos.IsColored(wire.OutPoint{
		Hash: tx.TxHash(), Index: ReclaimVout,
	}))
	require.Empty(t, h.utxos.Utxos())
}

func TestReclaimDustOutput(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)

	paymentKey := newKey(t)
	h.keys.Keys[testKeysID] = &chanevent.ChannelKeys{
		PaymentKey: paymentKey,
	}

	op := wire.OutPoint{Hash: chainhash.Hash{0x60}, Index: 0}
	prevOut := wire.NewTxOut(400, p2wkhScript(t, paymentKey.PubKey()))
	h.storeProof(t, op, 3)
	h.chain.On("FetchTxOut", h.ctx, op).Return(prevOut, nil).Once()

	err := h.reclaimer.Reclaim(h.ctx, &chanevent.StaticPaymentOutput{
		Outpoint:      op,
		Output:        prevOut,
		ChannelKeysID: testKeysID,
	})
	require.ErrorIs(t, err, ErrDustSweep)
	h.chain.AssertNotCalled(t, "PublishTransaction", h.ctx, mock.Anything)
}

func TestStaticOutputKeyRequiresMaster(t *testing.T) {
	t.Parallel()

	_, err := StaticOutputKey(nil, nil, []byte{0x00})
	require.Error(t, err)
}

// TestPublishTwiceKeepsLedger makes sure finalizing the consignment of a
// reclaim output a second time leaves the colored UTXO ledger as the first
// run left it.
func TestPublishTwiceKeepsLedger(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.expectPublish()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.Hash{0x70}},
		nil, nil))
	tx.AddTxOut(wire.NewTxOut(40_000, h.destScript))

	txid := tx.TxHash()
	proof := &rgb.Consignment{
		ContractID: testContract,
		Bundles: []rgb.AnchoredBundle{{
			Txid: txid,
			Assignments: []rgb.Assignment{
				{Vout: ReclaimVout, Value: 3},
			},
		}},
		Blob: []byte{0x02},
	}

	require.NoError(t, h.reclaimer.publish(h.ctx, tx, proof))
	afterFirst := h.utxos.Utxos()
	require.Equal(t, []rgbutxo.Utxo{{
		OutPoint: wire.OutPoint{Hash: txid, Index: ReclaimVout},
		Colored:  true,
	}}, afterFirst)

	require.NoError(t, h.reclaimer.publish(h.ctx, tx, proof))
	require.Equal(t, afterFirst, h.utxos.Utxos())

	// The ledger on disk agrees with the one in memory.
	reopened, err := rgbutxo.Open(h.dataDir)
	require.NoError(t, err)
	require.Equal(t, afterFirst, reopened.Utxos())

	require.Len(t, h.ledger.reveals, 2)
	require.Equal(t, h.ledger.reveals[0], h.ledger.reveals[1])
}
