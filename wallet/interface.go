package wallet

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

var (
	// ErrOperationFailed wraps every failure of the wallet or chain
	// services while building, signing or broadcasting a transaction.
	ErrOperationFailed = errors.New("wallet operation failed")
)

// DefaultFeeRate is the fixed fee rate used for funding and sweep
// transactions: 1.5 sat/vB.
var DefaultFeeRate = chainfee.SatPerKVByte(1500).FeePerKWeight()

// FundRequest describes a transaction the wallet should fund.
type FundRequest struct {
	// Inputs are spent in the given order before any input the wallet
	// selects itself.
	Inputs []wire.OutPoint

	// Unspendable are outputs the wallet must not select.
	Unspendable []wire.OutPoint

	// Outputs are added in the given order. The wallet appends its change
	// output after them.
	Outputs []*wire.TxOut

	// FeeRate is the fee rate the transaction must pay.
	FeeRate chainfee.SatPerKWeight
}

// Anchor is the wallet service that owns the node's on-chain funds.
type Anchor interface {
	// NewAddress returns a fresh address of the wallet.
	NewAddress(ctx context.Context) (btcutil.Address, error)

	// FundPsbt builds an unsigned transaction for the request without
	// reordering its inputs or outputs.
	FundPsbt(ctx context.Context, req *FundRequest) (*psbt.Packet, error)

	// SignPsbt signs and finalizes every wallet input of the packet and
	// returns the final transaction.
	SignPsbt(ctx context.Context, pkt *psbt.Packet) (*wire.MsgTx, error)

	// Sync brings the wallet's view of the chain up to date.
	Sync(ctx context.Context) error
}

// ChainQuery is the chain backend used to broadcast transactions and look up
// outputs.
type ChainQuery interface {
	// PublishTransaction broadcasts a transaction.
	PublishTransaction(ctx context.Context, tx *wire.MsgTx) error

	// FetchTxOut returns the unspent output op, or nil if it is spent or
	// unknown.
	FetchTxOut(ctx context.Context, op wire.OutPoint) (*wire.TxOut, error)

	// EstimateFeeRate returns a fee rate estimate for confirmation within
	// confTarget blocks.
	EstimateFeeRate(ctx context.Context,
		confTarget uint32) (chainfee.SatPerKWeight, error)
}
