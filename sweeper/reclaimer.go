package sweeper

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/rgbln/rgbsettle/chanevent"
	"github.com/rgbln/rgbsettle/consignment"
	"github.com/rgbln/rgbsettle/rgb"
	"github.com/rgbln/rgbsettle/rgbutxo"
	"github.com/rgbln/rgbsettle/wallet"
)

const (
	// ReclaimVout is the output of a reclaim transaction that receives the
	// reclaimed assets.
	ReclaimVout = 0

	// DefaultConfTarget is the confirmation target used to estimate the
	// fee of to_local sweeps.
	DefaultConfTarget = 6
)

// ReclaimerCfg is the configuration of the reclaimer.
type ReclaimerCfg struct {
	// PrimaryWallet provides the addresses the reclaimed outputs are sent
	// to.
	PrimaryWallet wallet.Anchor

	// Chain is used to look up and broadcast transactions.
	Chain wallet.ChainQuery

	// AssetLedger builds the transfers that move the assets of a swept
	// output.
	AssetLedger rgb.AssetLedger

	// UtxoLedger records the reclaimed colored outputs.
	UtxoLedger *rgbutxo.Ledger

	// Proofs loads, persists and consumes consignments.
	Proofs *consignment.Lifecycle

	// Keys is the keys manager of the engine.
	Keys chanevent.KeysSource

	// ChainParams are the parameters of the active network.
	ChainParams *chaincfg.Params

	// FeeRate is the fee rate of sweeps built by a key wallet and the
	// fallback for to_local sweeps if fee estimation fails.
	FeeRate chainfee.SatPerKWeight

	// ConfTarget is the confirmation target for to_local sweeps.
	ConfTarget uint32

	// Blinding is the blinding factor of the beneficiary seal.
	Blinding uint64
}

// reclaim is the state of a single descriptor being reclaimed.
type reclaim struct {
	desc chanevent.OutputDescriptor

	// proof is the consignment that ends at the swept output.
	proof *rgb.Consignment

	// amount is the asset amount allocated to the swept output.
	amount uint64

	// destScript is the primary wallet script that receives the output.
	destScript []byte
}

// Reclaimer sweeps the outputs the engine reports as spendable back into the
// primary wallet, moving the assets allocated to them along.
type Reclaimer struct {
	cfg *ReclaimerCfg
}

// NewReclaimer creates a new reclaimer.
func NewReclaimer(cfg *ReclaimerCfg) *Reclaimer {
	return &Reclaimer{
		cfg: cfg,
	}
}

// HandleSpendableOutputs reclaims every descriptor. A failure doesn't stop
// the remaining descriptors, all failures are returned together.
func (r *Reclaimer) HandleSpendableOutputs(ctx context.Context,
	descs []chanevent.OutputDescriptor) error {

	var errs []error
	for _, desc := range descs {
		op := desc.OutPoint()

		if err := r.Reclaim(ctx, desc); err != nil {
			log.Errorf("Unable to reclaim %v: %v", op, err)

			errs = append(errs, fmt.Errorf("outpoint %v: %w", op,
				err))
		}
	}

	return errors.Join(errs...)
}

// Reclaim sweeps a single spendable output.
func (r *Reclaimer) Reclaim(ctx context.Context,
	desc chanevent.OutputDescriptor) error {

	op := desc.OutPoint()

	proof, err := r.cfg.Proofs.FetchForOutput(ctx, op)
	if err != nil {
		return err
	}

	if _, err := r.cfg.Proofs.Consume(ctx, proof, op); err != nil {
		return err
	}

	bundle, err := proof.BundleForTxid(op.Hash)
	if err != nil {
		return err
	}
	amount, err := bundle.ValueAt(op.Index)
	if err != nil {
		return err
	}

	addr, err := r.cfg.PrimaryWallet.NewAddress(ctx)
	if err != nil {
		return fmt.Errorf("%w: unable to get address: %v",
			wallet.ErrOperationFailed, err)
	}
	destScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return err
	}

	rc := &reclaim{
		desc:       desc,
		proof:      proof,
		amount:     amount,
		destScript: destScript,
	}

	log.Infof("Reclaiming %d assets of contract %v from %v", amount,
		proof.ContractID, op)

	var (
		tx       *wire.MsgTx
		newProof *rgb.Consignment
	)
	switch d := desc.(type) {
	case *chanevent.StaticPaymentOutput:
		tx, newProof, err = r.reclaimStaticPayment(ctx, rc, d)

	case *chanevent.DelayedPaymentOutput:
		tx, newProof, err = r.reclaimDelayedPayment(ctx, rc, d)

	case *chanevent.StaticOutput:
		tx, newProof, err = r.reclaimStaticOutput(ctx, rc, d)

	default:
		err = fmt.Errorf("unknown output descriptor %T", desc)
	}
	if err != nil {
		return err
	}

	return r.publish(ctx, tx, newProof)
}

// reclaimStaticPayment sweeps a to_remote output paying to the channel's
// payment key.
func (r *Reclaimer) reclaimStaticPayment(ctx context.Context, rc *reclaim,
	d *chanevent.StaticPaymentOutput) (*wire.MsgTx, *rgb.Consignment,
	error) {

	keys, err := r.cfg.Keys.DeriveChannelKeys(
		d.ChannelValue, d.ChannelKeysID,
	)
	if err != nil {
		return nil, nil, err
	}

	return r.sweepWithKey(ctx, rc, keys.PaymentKey)
}

// reclaimStaticOutput sweeps an output paying to a key of the keys manager.
func (r *Reclaimer) reclaimStaticOutput(ctx context.Context, rc *reclaim,
	d *chanevent.StaticOutput) (*wire.MsgTx, *rgb.Consignment, error) {

	key, err := StaticOutputKey(
		r.cfg.Keys.MasterKey(), r.cfg.Keys.DestinationScript(),
		d.Output.PkScript,
	)
	if err != nil {
		return nil, nil, err
	}

	return r.sweepWithKey(ctx, rc, key)
}

// sweepWithKey spends the output through a one-off wallet holding key,
// selecting the output as its only input.
func (r *Reclaimer) sweepWithKey(ctx context.Context, rc *reclaim,
	key *btcec.PrivateKey) (*wire.MsgTx, *rgb.Consignment, error) {

	op := rc.desc.OutPoint()

	keyWallet, err := NewKeyWallet(key, r.cfg.Chain, r.cfg.ChainParams)
	if err != nil {
		return nil, nil, err
	}
	if err := keyWallet.Sync(ctx, op); err != nil {
		return nil, nil, err
	}

	pkt, err := keyWallet.Drain(op, rc.destScript, r.cfg.FeeRate)
	if err != nil {
		return nil, nil, err
	}

	pkt, proof, err := r.transfer(ctx, rc, pkt)
	if err != nil {
		return nil, nil, err
	}

	tx, err := keyWallet.SignPsbt(pkt)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: unable to sign sweep of %v: %v",
			wallet.ErrOperationFailed, op, err)
	}

	return tx, proof, nil
}

// reclaimDelayedPayment sweeps a to_local output of a local commitment
// through its timeout path.
func (r *Reclaimer) reclaimDelayedPayment(ctx context.Context, rc *reclaim,
	d *chanevent.DelayedPaymentOutput) (*wire.MsgTx, *rgb.Consignment,
	error) {

	keys, err := r.cfg.Keys.DeriveChannelKeys(
		d.ChannelValue, d.ChannelKeysID,
	)
	if err != nil {
		return nil, nil, err
	}

	signer, err := NewDelayedSigner(d, keys.DelayedPaymentBaseKey)
	if err != nil {
		return nil, nil, err
	}

	feeRate, err := r.cfg.Chain.EstimateFeeRate(ctx, r.cfg.ConfTarget)
	if err != nil {
		log.Warnf("Unable to estimate fee for %v, using %v: %v",
			d.Outpoint, r.cfg.FeeRate, err)

		feeRate = r.cfg.FeeRate
	}

	var estimator input.TxWeightEstimator
	estimator.AddWitnessInput(input.ToLocalTimeoutWitnessSize)

	pkt, err := sweepPacket(
		d.Outpoint, d.Output, signer.Sequence(), rc.destScript,
		feeRate, &estimator,
	)
	if err != nil {
		return nil, nil, err
	}

	pkt, proof, err := r.transfer(ctx, rc, pkt)
	if err != nil {
		return nil, nil, err
	}

	tx := pkt.UnsignedTx.Copy()
	if err := signer.SignInput(tx, 0); err != nil {
		return nil, nil, fmt.Errorf("%w: unable to sign sweep of %v: %v",
			wallet.ErrOperationFailed, d.Outpoint, err)
	}

	return tx, proof, nil
}

// transfer moves the assets of the swept output to the reclaim output.
func (r *Reclaimer) transfer(ctx context.Context, rc *reclaim,
	pkt *psbt.Packet) (*psbt.Packet, *rgb.Consignment, error) {

	pkt, proof, err := r.cfg.AssetLedger.Transfer(ctx, &rgb.TransferRequest{
		ContractID: rc.proof.ContractID,
		Packet:     pkt,
		Inputs:     []wire.OutPoint{rc.desc.OutPoint()},
		Beneficiaries: []rgb.Beneficiary{{
			Vout:     ReclaimVout,
			Blinding: r.cfg.Blinding,
			Method:   rgb.CloseMethodOpretFirst,
			Amount:   rc.amount,
		}},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("unable to build transfer for "+
			"%v: %w", rc.desc.OutPoint(), err)
	}

	return pkt, proof, nil
}

// publish broadcasts a reclaim transaction, finalizes the consignment of its
// reclaim output and records that output as colored. A rejected broadcast
// leaves the ledger untouched.
func (r *Reclaimer) publish(ctx context.Context, tx *wire.MsgTx,
	proof *rgb.Consignment) error {

	txid := tx.TxHash()
	reclaimOutpoint := wire.OutPoint{Hash: txid, Index: ReclaimVout}

	if err := r.cfg.Proofs.Persist(ctx, txid, proof); err != nil {
		return fmt.Errorf("unable to persist consignment of "+
			"txid=%v: %w", txid, err)
	}

	if err := r.cfg.Chain.PublishTransaction(ctx, tx); err != nil {
		return fmt.Errorf("%w: unable to broadcast txid=%v: %v",
			wallet.ErrOperationFailed, txid, err)
	}

	if err := r.cfg.PrimaryWallet.Sync(ctx); err != nil {
		return fmt.Errorf("%w: unable to sync wallet: %v",
			wallet.ErrOperationFailed, err)
	}

	_, err := r.cfg.Proofs.Consume(ctx, proof, reclaimOutpoint)
	if err != nil {
		return err
	}

	// Only an output of a broadcast transaction enters the ledger.
	r.cfg.UtxoLedger.Lock()
	err = r.cfg.UtxoLedger.MarkColored(reclaimOutpoint)
	r.cfg.UtxoLedger.Unlock()
	if err != nil {
		return err
	}

	log.Infof("Reclaim txid=%v published", txid)

	return nil
}
