package chanevent

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/wire"
	lfn "github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/rgbln/rgbsettle/rgb"
)

// Engine is the set of commands the protocol engine accepts.
type Engine interface {
	// FundingTransactionGenerated hands a signed funding transaction to
	// the engine for the channel identified by the temporary channel ID.
	FundingTransactionGenerated(ctx context.Context,
		tempChanID lnwire.ChannelID, counterparty route.Vertex,
		tx *wire.MsgTx) error

	// ForwardInterceptedHTLC forwards an intercepted HTLC over nextHop
	// with exactly the passed amounts.
	ForwardInterceptedHTLC(ctx context.Context, id InterceptID,
		nextHop lnwire.ShortChannelID, amt lnwire.MilliSatoshi,
		amtRgb lfn.Option[uint64]) error

	// FailInterceptedHTLC fails an intercepted HTLC backwards.
	FailInterceptedHTLC(ctx context.Context, id InterceptID) error

	// ProcessPendingHTLCForwards forwards all HTLCs that are pending.
	ProcessPendingHTLCForwards(ctx context.Context)

	// ClaimFunds claims an inbound payment with the given preimage.
	ClaimFunds(ctx context.Context, preimage lntypes.Preimage) error
}

// ChannelAssetStore gives read access to the asset state the engine stores
// next to its channel data.
type ChannelAssetStore interface {
	// FetchAssetInfo returns the asset info of a channel, or None if the
	// channel is not colored.
	FetchAssetInfo(chanID lnwire.ChannelID) (lfn.Option[rgb.ChannelInfo],
		error)

	// FetchAssetInfoBySCID returns the asset info of the channel with the
	// given short channel ID, or None if the channel is not colored.
	FetchAssetInfoBySCID(
		scid lnwire.ShortChannelID) (lfn.Option[rgb.ChannelInfo], error)
}

// ChannelKeys are the private keys of a channel that are needed to sweep its
// outputs.
type ChannelKeys struct {
	// PaymentKey is the key static to_remote outputs pay to.
	PaymentKey *btcec.PrivateKey

	// DelayedPaymentBaseKey is the base key that is tweaked with a per
	// commitment point to obtain the key of a to_local output.
	DelayedPaymentBaseKey *btcec.PrivateKey
}

// KeysSource is the engine's keys manager.
type KeysSource interface {
	// DeriveChannelKeys returns the keys of the channel with the given
	// value and keys ID.
	DeriveChannelKeys(value btcutil.Amount, id KeysID) (*ChannelKeys,
		error)

	// DestinationScript is the script cooperative closes pay to.
	DestinationScript() []byte

	// MasterKey is the root extended key of the keys manager.
	MasterKey() *hdkeychain.ExtendedKey
}

// ErrUnknownChannelKeys is returned by a KeysSource that doesn't know the
// requested keys ID.
var ErrUnknownChannelKeys = errors.New("unknown channel keys id")
