package chanfunding

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/rgbln/rgbsettle/chanevent"
	"github.com/rgbln/rgbsettle/consignment"
	"github.com/rgbln/rgbsettle/rgb"
	"github.com/rgbln/rgbsettle/rgbutxo"
	"github.com/rgbln/rgbsettle/wallet"
)

const (
	// ChangeRecordVout is the output of a colored funding transaction that
	// is recorded as colored in the UTXO ledger when the transfer carries
	// asset change.
	ChangeRecordVout = 2
)

// BuilderCfg is the configuration of the funding transaction builder.
type BuilderCfg struct {
	// Wallet funds and signs the funding transaction.
	Wallet wallet.Anchor

	// AssetLedger lists allocations and builds transfers.
	AssetLedger rgb.AssetLedger

	// UtxoLedger is the colored UTXO ledger. Its lock is held while
	// inputs are selected and the transaction is signed.
	UtxoLedger *rgbutxo.Ledger

	// Proofs persists, relays and consumes consignments.
	Proofs *consignment.Lifecycle

	// ChannelStore gives access to the asset info of channels.
	ChannelStore chanevent.ChannelAssetStore

	// Engine receives the signed funding transaction.
	Engine chanevent.Engine

	// FeeRate is the fee rate of funding transactions.
	FeeRate chainfee.SatPerKWeight

	// Blinding is the blinding factor of beneficiary seals.
	Blinding uint64
}

// Funding is a signed funding transaction that still has to be handed to the
// engine.
type Funding struct {
	// Request is the event the funding was built for.
	Request *chanevent.FundingGenerationReady

	// Tx is the signed funding transaction.
	Tx *wire.MsgTx

	// Info is the asset info of the channel, nil for plain channels.
	Info *rgb.ChannelInfo

	// Consignment is the transfer into the funding output, nil for plain
	// channels.
	Consignment *rgb.Consignment

	// AssetChange is the amount of asset change sent to vout 1.
	AssetChange uint64

	// Inputs are the asset inputs spent by the funding. They stay
	// reserved in the UTXO ledger until the funding is completed.
	Inputs []wire.OutPoint
}

// Colored returns true if the funding carries an asset transfer.
func (f *Funding) Colored() bool {
	return f.Info != nil
}

// Builder builds funding transactions for outbound channels, moving the
// channel's asset allocation into the funding output for colored channels.
type Builder struct {
	cfg *BuilderCfg
}

// NewBuilder creates a new funding transaction builder.
func NewBuilder(cfg *BuilderCfg) *Builder {
	return &Builder{
		cfg: cfg,
	}
}

// Fund selects inputs, builds and signs the funding transaction requested by
// the event and persists everything needed to finalize the asset transfer.
// The UTXO ledger lock is held for the whole sequence, and the selected
// inputs stay reserved until Complete returns.
func (b *Builder) Fund(ctx context.Context,
	req *chanevent.FundingGenerationReady) (*Funding, error) {

	infoOpt, err := b.cfg.ChannelStore.FetchAssetInfo(
		req.TemporaryChannelID,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch asset info of "+
			"chan_id=%v: %w", req.TemporaryChannelID, err)
	}

	funding := &Funding{
		Request: req,
	}
	infoOpt.WhenSome(func(info rgb.ChannelInfo) {
		funding.Info = &info
	})

	b.cfg.UtxoLedger.Lock()
	defer b.cfg.UtxoLedger.Unlock()

	var inputs []wire.OutPoint
	if funding.Colored() {
		values, err := b.cfg.AssetLedger.ListOwnedValues(
			ctx, funding.Info.ContractID,
		)
		if err != nil {
			return nil, fmt.Errorf("unable to list owned values "+
				"of %v: %w", funding.Info.ContractID, err)
		}

		inputs, funding.AssetChange, err = SelectInputs(
			b.available(values), funding.Info.LocalAmount,
		)
		if err != nil {
			return nil, fmt.Errorf("chan_id=%v: %w",
				req.TemporaryChannelID, err)
		}

		log.Debugf("Selected %d asset inputs for chan_id=%v, "+
			"change=%d", len(inputs), req.TemporaryChannelID,
			funding.AssetChange)
	}

	fundingOut := wire.NewTxOut(int64(req.ChannelValue), req.OutputScript)
	pkt, err := b.cfg.Wallet.FundPsbt(ctx, &wallet.FundRequest{
		Inputs:      inputs,
		Unspendable: b.cfg.UtxoLedger.UnspendableSet(inputs),
		Outputs:     []*wire.TxOut{fundingOut},
		FeeRate:     b.cfg.FeeRate,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: unable to fund chan_id=%v: %v",
			wallet.ErrOperationFailed, req.TemporaryChannelID, err)
	}

	// Beneficiary vouts are positional, so the funding output must still
	// be the first output.
	txOuts := pkt.UnsignedTx.TxOut
	if len(txOuts) == 0 || txOuts[0].Value != fundingOut.Value ||
		!bytes.Equal(txOuts[0].PkScript, fundingOut.PkScript) {

		return nil, fmt.Errorf("%w: funding output of chan_id=%v "+
			"is not at index 0", wallet.ErrOperationFailed,
			req.TemporaryChannelID)
	}

	if funding.Colored() {
		pkt, funding.Consignment, err = b.transfer(
			ctx, funding, pkt, inputs,
		)
		if err != nil {
			return nil, err
		}
	}

	funding.Tx, err = b.cfg.Wallet.SignPsbt(ctx, pkt)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to sign funding of "+
			"chan_id=%v: %v", wallet.ErrOperationFailed,
			req.TemporaryChannelID, err)
	}

	if funding.Colored() {
		if err := b.persist(ctx, funding); err != nil {
			return nil, err
		}
	}

	funding.Inputs = inputs
	b.cfg.UtxoLedger.Reserve(inputs...)

	log.Infof("Built funding tx %v for chan_id=%v (colored=%v)",
		funding.Tx.TxHash(), req.TemporaryChannelID, funding.Colored())

	return funding, nil
}

// available drops the allocations whose seals are spent by a funding that
// is still in flight.
func (b *Builder) available(values []rgb.OwnedValue) []rgb.OwnedValue {
	free := make([]rgb.OwnedValue, 0, len(values))
	for _, v := range values {
		if b.cfg.UtxoLedger.IsReserved(v.Seal) {
			log.Debugf("Skipping reserved seal %v", v.Seal)
			continue
		}

		free = append(free, v)
	}

	return free
}

// transfer commits the channel's asset allocation to the funding output and
// any change to vout 1.
func (b *Builder) transfer(ctx context.Context, funding *Funding,
	pkt *psbt.Packet, inputs []wire.OutPoint) (*psbt.Packet,
	*rgb.Consignment, error) {

	beneficiaries := []rgb.Beneficiary{{
		Vout:     consignment.FundingVout,
		Blinding: b.cfg.Blinding,
		Method:   rgb.CloseMethodOpretFirst,
		Amount:   funding.Info.LocalAmount,
	}}
	if funding.AssetChange > 0 {
		beneficiaries = append(beneficiaries, rgb.Beneficiary{
			Vout:     consignment.ChangeVout,
			Blinding: b.cfg.Blinding,
			Method:   rgb.CloseMethodOpretFirst,
			Amount:   funding.AssetChange,
		})
	}

	pkt, c, err := b.cfg.AssetLedger.Transfer(ctx, &rgb.TransferRequest{
		ContractID:    funding.Info.ContractID,
		Packet:        pkt,
		Inputs:        inputs,
		Beneficiaries: beneficiaries,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("unable to build transfer for "+
			"chan_id=%v: %w", funding.Request.TemporaryChannelID,
			err)
	}

	return pkt, c, nil
}

// persist stores the consignment of a signed colored funding and records
// its asset change in the UTXO ledger.
func (b *Builder) persist(ctx context.Context, funding *Funding) error {
	txid := funding.Tx.TxHash()
	chanID := funding.Request.TemporaryChannelID

	err := b.cfg.Proofs.Persist(ctx, txid, funding.Consignment)
	if err != nil {
		return fmt.Errorf("unable to persist consignment of "+
			"txid=%v: %w", txid, err)
	}

	if funding.AssetChange == 0 {
		return nil
	}

	changeRecord := wire.OutPoint{Hash: txid, Index: ChangeRecordVout}
	if err := b.cfg.UtxoLedger.MarkColored(changeRecord); err != nil {
		return fmt.Errorf("unable to record change of txid=%v: %w",
			txid, err)
	}

	err = b.cfg.Proofs.PersistForChannel(ctx, chanID, funding.Consignment)
	if err != nil {
		return fmt.Errorf("unable to persist consignment of "+
			"chan_id=%v: %w", chanID, err)
	}

	return nil
}

// Complete relays the consignment of a colored funding to the counterparty,
// consumes it locally and hands the funding transaction to the engine. If
// the relay fails, the engine never sees the transaction. If the engine
// rejects it, the persisted artifacts are left in place.
func (b *Builder) Complete(ctx context.Context, funding *Funding) error {
	var (
		txid   = funding.Tx.TxHash()
		chanID = funding.Request.TemporaryChannelID
	)

	// Whatever the outcome, the inputs are either spent by a transaction
	// the engine owns now or free to be selected again.
	defer b.cfg.UtxoLedger.Release(funding.Inputs...)

	if funding.Colored() {
		if err := b.cfg.Proofs.Relay(ctx, txid); err != nil {
			log.Errorf("Aborting funding of chan_id=%v, txid=%v: %v",
				chanID, txid, err)

			return err
		}

		fundingOutpoint := wire.OutPoint{
			Hash:  txid,
			Index: consignment.FundingVout,
		}
		_, err := b.cfg.Proofs.Consume(
			ctx, funding.Consignment, fundingOutpoint,
		)
		if err != nil {
			return err
		}
	}

	err := b.cfg.Engine.FundingTransactionGenerated(
		ctx, chanID, funding.Request.CounterpartyNodeID, funding.Tx,
	)
	if err != nil {
		log.Errorf("Channel went away before it could be funded, "+
			"orphaned funding txid=%v for chan_id=%v: %v", txid,
			chanID, err)

		return fmt.Errorf("unable to hand funding txid=%v of "+
			"chan_id=%v to engine: %w", txid, chanID, err)
	}

	log.Infof("Funding completed for chan_id=%v, txid=%v", chanID, txid)

	return nil
}
