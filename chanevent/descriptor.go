package chanevent

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// OutputDescriptor describes an output the local wallet can spend after a
// channel was closed. The set of descriptors is closed: only the types of
// this package implement it.
type OutputDescriptor interface {
	// OutPoint returns the output being described.
	OutPoint() wire.OutPoint

	// TxOut returns the output itself.
	TxOut() *wire.TxOut

	descriptor()
}

// KeysID identifies the keys of a channel towards the engine's keys
// manager.
type KeysID [32]byte

// StaticPaymentOutput is an output paying to the local payment key, such as
// the to_remote output of a counterparty commitment.
type StaticPaymentOutput struct {
	Outpoint      wire.OutPoint
	Output        *wire.TxOut
	ChannelKeysID KeysID
	ChannelValue  btcutil.Amount
}

// OutPoint returns the output being described.
func (d *StaticPaymentOutput) OutPoint() wire.OutPoint { return d.Outpoint }

// TxOut returns the output itself.
func (d *StaticPaymentOutput) TxOut() *wire.TxOut { return d.Output }

func (d *StaticPaymentOutput) descriptor() {}

// DelayedPaymentOutput is a to_local output of a local commitment, spendable
// by the delayed payment key once ToSelfDelay blocks have passed.
type DelayedPaymentOutput struct {
	Outpoint wire.OutPoint
	Output   *wire.TxOut

	// PerCommitmentPoint is the per commitment point of the commitment
	// the output belongs to.
	PerCommitmentPoint *btcec.PublicKey

	// ToSelfDelay is the relative timelock of the output.
	ToSelfDelay uint16

	// RevocationPubKey is the revocation key of the commitment.
	RevocationPubKey *btcec.PublicKey

	ChannelKeysID KeysID
	ChannelValue  btcutil.Amount
}

// OutPoint returns the output being described.
func (d *DelayedPaymentOutput) OutPoint() wire.OutPoint { return d.Outpoint }

// TxOut returns the output itself.
func (d *DelayedPaymentOutput) TxOut() *wire.TxOut { return d.Output }

func (d *DelayedPaymentOutput) descriptor() {}

// StaticOutput is an output paying to a key derived directly from the node's
// master key, such as the shutdown script.
type StaticOutput struct {
	Outpoint wire.OutPoint
	Output   *wire.TxOut
}

// OutPoint returns the output being described.
func (d *StaticOutput) OutPoint() wire.OutPoint { return d.Outpoint }

// TxOut returns the output itself.
func (d *StaticOutput) TxOut() *wire.TxOut { return d.Output }

func (d *StaticOutput) descriptor() {}
