package sweeper

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lnwallet"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/rgbln/rgbsettle/wallet"
)

const (
	// opretCommitmentScriptSize is the size of the OP_RETURN output the
	// asset ledger adds to carry its commitment.
	opretCommitmentScriptSize = 1 + 1 + 32
)

var (
	// ErrOutputSpent is returned when the output to sweep is no longer
	// unspent.
	ErrOutputSpent = errors.New("output already spent")

	// ErrDustSweep is returned when the swept value doesn't cover the fee
	// of the sweep.
	ErrDustSweep = errors.New("sweep output below dust")
)

// KeyWallet is a wallet holding a single key that pays to a P2WPKH script.
// It is created on the fly to spend an output the primary wallet doesn't
// know about.
type KeyWallet struct {
	key      *btcec.PrivateKey
	pkScript []byte
	chain    wallet.ChainQuery

	// utxos are the outputs found by the last sync.
	utxos map[wire.OutPoint]*wire.TxOut
}

// NewKeyWallet creates a wallet for key.
func NewKeyWallet(key *btcec.PrivateKey, chain wallet.ChainQuery,
	params *chaincfg.Params) (*KeyWallet, error) {

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(key.PubKey().SerializeCompressed()), params,
	)
	if err != nil {
		return nil, err
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	return &KeyWallet{
		key:      key,
		pkScript: pkScript,
		chain:    chain,
		utxos:    make(map[wire.OutPoint]*wire.TxOut),
	}, nil
}

// PkScript is the script the wallet's key pays to.
func (w *KeyWallet) PkScript() []byte {
	return w.pkScript
}

// Sync looks up the passed outputs on chain and keeps the ones that are
// still unspent and pay to the wallet.
func (w *KeyWallet) Sync(ctx context.Context, ops ...wire.OutPoint) error {
	for _, op := range ops {
		txOut, err := w.chain.FetchTxOut(ctx, op)
		if err != nil {
			return fmt.Errorf("%w: unable to look up %v: %v",
				wallet.ErrOperationFailed, op, err)
		}

		switch {
		case txOut == nil:
			delete(w.utxos, op)
			log.Debugf("Output %v is spent", op)

		case !bytes.Equal(txOut.PkScript, w.pkScript):
			return fmt.Errorf("output %v doesn't pay to the "+
				"sweep key", op)

		default:
			w.utxos[op] = txOut
		}
	}

	return nil
}

// Drain builds an unsigned transaction that spends exactly op to destScript.
// The fee covers the commitment output the asset ledger adds later on.
func (w *KeyWallet) Drain(op wire.OutPoint, destScript []byte,
	feeRate chainfee.SatPerKWeight) (*psbt.Packet, error) {

	prevOut, ok := w.utxos[op]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrOutputSpent, op)
	}

	var estimator input.TxWeightEstimator
	estimator.AddP2WKHInput()

	return sweepPacket(
		op, prevOut, wire.MaxTxInSequenceNum, destScript, feeRate,
		&estimator,
	)
}

// SignPsbt signs the wallet's inputs of the packet and returns the final
// transaction.
func (w *KeyWallet) SignPsbt(pkt *psbt.Packet) (*wire.MsgTx, error) {
	tx := pkt.UnsignedTx.Copy()

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, txIn := range tx.TxIn {
		prevOut := pkt.Inputs[i].WitnessUtxo
		if prevOut == nil {
			return nil, fmt.Errorf("input %d has no witness utxo", i)
		}
		fetcher.AddPrevOut(txIn.PreviousOutPoint, prevOut)
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, txIn := range tx.TxIn {
		if _, ok := w.utxos[txIn.PreviousOutPoint]; !ok {
			return nil, fmt.Errorf("input %v doesn't belong to the "+
				"wallet", txIn.PreviousOutPoint)
		}

		prevOut := pkt.Inputs[i].WitnessUtxo
		witness, err := txscript.WitnessSignature(
			tx, sigHashes, i, prevOut.Value, w.pkScript,
			txscript.SigHashAll, w.key, true,
		)
		if err != nil {
			return nil, err
		}
		txIn.Witness = witness
	}

	return tx, nil
}

// sweepPacket builds a packet with a single input spending prevOut and a
// single output draining it to destScript. The estimator must already
// account for the input.
func sweepPacket(op wire.OutPoint, prevOut *wire.TxOut, sequence uint32,
	destScript []byte, feeRate chainfee.SatPerKWeight,
	estimator *input.TxWeightEstimator) (*psbt.Packet, error) {

	estimator.AddOutput(destScript)
	estimator.AddOutput(make([]byte, opretCommitmentScriptSize))

	fee := feeRate.FeeForWeight(estimator.Weight())
	value := btcutil.Amount(prevOut.Value) - fee
	if value < lnwallet.DustLimitForSize(len(destScript)) {
		return nil, fmt.Errorf("%w: %v has %v, fee is %v", ErrDustSweep,
			op, btcutil.Amount(prevOut.Value), fee)
	}

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: op,
		Sequence:         sequence,
	})
	tx.AddTxOut(wire.NewTxOut(int64(value), destScript))

	pkt, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}
	pkt.Inputs[0].WitnessUtxo = prevOut

	return pkt, nil
}
