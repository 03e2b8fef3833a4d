package lndservices

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/lnrpc/walletrpc"
	"github.com/rgbln/rgbsettle/wallet"
)

const (
	// defaultChangeType is the change type used when funding PSBTs.
	defaultChangeType = walletrpc.ChangeAddressType_CHANGE_ADDRESS_TYPE_P2TR

	// defaultMinConfs is the minimum number of confirmations of inputs
	// the wallet selects itself.
	defaultMinConfs = 1

	// unspendableLeaseTime is how long outputs excluded from coin
	// selection stay leased if they can't be released after funding.
	unspendableLeaseTime = 10 * time.Minute
)

// unspendableLockID is the lease ID of outputs that are excluded from coin
// selection while a transaction is funded.
var unspendableLockID = wtxmgr.LockID(
	sha256.Sum256([]byte("rgbsettle/unspendable")),
)

// LndRpcWalletAnchor is an implementation of the wallet.Anchor interface
// backed by an active remote lnd node.
type LndRpcWalletAnchor struct {
	lnd *lndclient.LndServices
}

// NewLndRpcWalletAnchor returns a new wallet anchor instance using the passed
// lnd node.
func NewLndRpcWalletAnchor(lnd *lndclient.LndServices) *LndRpcWalletAnchor {
	return &LndRpcWalletAnchor{
		lnd: lnd,
	}
}

// NewAddress returns a fresh P2WKH address of the default account.
func (l *LndRpcWalletAnchor) NewAddress(
	ctx context.Context) (btcutil.Address, error) {

	return l.lnd.WalletKit.NextAddr(
		ctx, "", walletrpc.AddressType_WITNESS_PUBKEY_HASH, false,
	)
}

// FundPsbt funds the requested transaction. The outputs of the request that
// must not be selected are leased for the duration of the call, so lnd's
// coin selection skips them.
func (l *LndRpcWalletAnchor) FundPsbt(ctx context.Context,
	req *wallet.FundRequest) (*psbt.Packet, error) {

	leased := l.leaseUnspendable(ctx, req.Unspendable)
	defer l.release(ctx, leased)

	tx := wire.NewMsgTx(2)
	for _, op := range req.Inputs {
		tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
	}
	for _, txOut := range req.Outputs {
		tx.AddTxOut(txOut)
	}

	template, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, fmt.Errorf("unable to create psbt: %w", err)
	}

	var psbtBuf bytes.Buffer
	if err := template.Serialize(&psbtBuf); err != nil {
		return nil, fmt.Errorf("unable to encode psbt: %w", err)
	}

	// We'll convert the fee rate to sat/vbyte as that's what the FundPsbt
	// expects. We round up to the nearest whole unit to prevent issues
	// where the fee doesn't meet the min_relay_fee because of rounding
	// down.
	satPerVByte := uint64(
		math.Ceil(float64(req.FeeRate.FeePerKVByte()) / 1000),
	)

	pkt, changeIndex, leasedUtxos, err := l.lnd.WalletKit.FundPsbt(
		ctx, &walletrpc.FundPsbtRequest{
			Template: &walletrpc.FundPsbtRequest_CoinSelect{
				CoinSelect: &walletrpc.PsbtCoinSelect{
					Psbt: psbtBuf.Bytes(),
					ChangeOutput: &walletrpc.PsbtCoinSelect_Add{
						Add: true,
					},
				},
			},
			Fees: &walletrpc.FundPsbtRequest_SatPerVbyte{
				SatPerVbyte: satPerVByte,
			},
			MinConfs:   defaultMinConfs,
			ChangeType: defaultChangeType,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to fund psbt: %w", err)
	}

	log.Debugf("Funded psbt with %d inputs (%d leased by lnd), change "+
		"index %d", len(pkt.UnsignedTx.TxIn), len(leasedUtxos),
		changeIndex)

	return pkt, nil
}

// leaseUnspendable leases the passed outputs and returns the ones that were
// leased. Outputs the wallet doesn't know about, such as spent ones, are
// skipped.
func (l *LndRpcWalletAnchor) leaseUnspendable(ctx context.Context,
	ops []wire.OutPoint) []wire.OutPoint {

	leased := make([]wire.OutPoint, 0, len(ops))
	for _, op := range ops {
		_, err := l.lnd.WalletKit.LeaseOutput(
			ctx, unspendableLockID, op, unspendableLeaseTime,
		)
		if err != nil {
			log.Tracef("Not leasing %v: %v", op, err)
			continue
		}

		leased = append(leased, op)
	}

	return leased
}

// release releases the leases taken by leaseUnspendable.
func (l *LndRpcWalletAnchor) release(ctx context.Context,
	ops []wire.OutPoint) {

	for _, op := range ops {
		err := l.lnd.WalletKit.ReleaseOutput(ctx, unspendableLockID, op)
		if err != nil {
			log.Warnf("Unable to release lease of %v: %v", op, err)
		}
	}
}

// SignPsbt fully signs and finalizes the target PSBT packet.
func (l *LndRpcWalletAnchor) SignPsbt(ctx context.Context,
	pkt *psbt.Packet) (*wire.MsgTx, error) {

	_, tx, err := l.lnd.WalletKit.FinalizePsbt(ctx, pkt, "")
	if err != nil {
		return nil, err
	}

	return tx, nil
}

// Sync checks that lnd's wallet is synced to the chain. lnd keeps its wallet
// in sync by itself, so an unsynced wallet is only reported.
func (l *LndRpcWalletAnchor) Sync(ctx context.Context) error {
	info, err := l.lnd.Client.GetInfo(ctx)
	if err != nil {
		return err
	}

	if !info.SyncedToChain {
		log.Warnf("lnd wallet not yet synced to chain at height %d",
			info.BlockHeight)
	}

	return nil
}

// A compile time assertion to ensure LndRpcWalletAnchor meets the
// wallet.Anchor interface.
var _ wallet.Anchor = (*LndRpcWalletAnchor)(nil)
