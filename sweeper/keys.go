package sweeper

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/rgbln/rgbsettle/chanevent"
)

const (
	// destinationKeyIndex is the hardened child of the master key that
	// the destination script pays to.
	destinationKeyIndex = 1

	// shutdownKeyIndex is the hardened child of the master key that the
	// shutdown script pays to.
	shutdownKeyIndex = 2
)

// StaticOutputKey derives the key of a static output from the master key of
// the keys manager. Outputs paying to the destination script use hardened
// child 1, every other static output uses hardened child 2.
func StaticOutputKey(master *hdkeychain.ExtendedKey, destScript,
	outputScript []byte) (*btcec.PrivateKey, error) {

	if master == nil {
		return nil, fmt.Errorf("master key unavailable")
	}

	index := uint32(shutdownKeyIndex)
	if bytes.Equal(outputScript, destScript) {
		index = destinationKeyIndex
	}

	child, err := master.Derive(hdkeychain.HardenedKeyStart + index)
	if err != nil {
		return nil, fmt.Errorf("unable to derive static output key: %w",
			err)
	}

	return child.ECPrivKey()
}

// DelayedSigner produces the witness of a to_local output of a local
// commitment after its relative timelock has expired.
type DelayedSigner struct {
	desc *chanevent.DelayedPaymentOutput

	// key is the delayed payment base key tweaked with the per commitment
	// point of the commitment.
	key *btcec.PrivateKey

	witnessScript []byte
}

// NewDelayedSigner creates a signer for desc from the channel's delayed
// payment base key. The reconstructed script must match the output being
// spent.
func NewDelayedSigner(desc *chanevent.DelayedPaymentOutput,
	baseKey *btcec.PrivateKey) (*DelayedSigner, error) {

	tweak := input.SingleTweakBytes(
		desc.PerCommitmentPoint, baseKey.PubKey(),
	)
	key := input.TweakPrivKey(baseKey, tweak)

	witnessScript, err := input.CommitScriptToSelf(
		uint32(desc.ToSelfDelay), key.PubKey(), desc.RevocationPubKey,
	)
	if err != nil {
		return nil, err
	}

	pkScript, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(pkScript, desc.Output.PkScript) {
		return nil, fmt.Errorf("to_local script of %v doesn't match "+
			"the derived keys", desc.Outpoint)
	}

	return &DelayedSigner{
		desc:          desc,
		key:           key,
		witnessScript: witnessScript,
	}, nil
}

// Sequence is the sequence the spending input must commit to.
func (s *DelayedSigner) Sequence() uint32 {
	return uint32(s.desc.ToSelfDelay)
}

// SignInput sets the witness of input idx of tx, which must spend the
// to_local output.
func (s *DelayedSigner) SignInput(tx *wire.MsgTx, idx int) error {
	prevOut := s.desc.Output
	fetcher := txscript.NewCannedPrevOutputFetcher(
		prevOut.PkScript, prevOut.Value,
	)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	sig, err := txscript.RawTxInWitnessSignature(
		tx, sigHashes, idx, prevOut.Value, s.witnessScript,
		txscript.SigHashAll, s.key,
	)
	if err != nil {
		return err
	}

	// The empty element selects the timeout branch of the script.
	tx.TxIn[idx].Witness = wire.TxWitness{sig, nil, s.witnessScript}

	return nil
}
