package chanevent

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	lfn "github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
)

// InterceptID identifies an intercepted HTLC towards the engine.
type InterceptID [32]byte

// String returns the hex encoding of the intercept ID.
func (i InterceptID) String() string {
	return fmt.Sprintf("%x", i[:])
}

// Event is an event emitted by the protocol engine. The set of events is
// closed: only the types of this package implement it.
type Event interface {
	// eventName returns a short human readable name of the event.
	eventName() string
}

// Name returns the name of an event, used for logging.
func Name(e Event) string {
	return e.eventName()
}

// FundingGenerationReady is emitted when the engine needs a funding
// transaction for an outbound channel.
type FundingGenerationReady struct {
	// TemporaryChannelID identifies the channel until the funding
	// outpoint is known.
	TemporaryChannelID lnwire.ChannelID

	// CounterpartyNodeID is the node the channel is opened with.
	CounterpartyNodeID route.Vertex

	// ChannelValue is the value the funding output must carry.
	ChannelValue btcutil.Amount

	// OutputScript is the funding output script.
	OutputScript []byte

	// UserChannelID is the user provided channel ID.
	UserChannelID uint64
}

func (e *FundingGenerationReady) eventName() string {
	return "FundingGenerationReady"
}

// SpendableOutputs is emitted when outputs of closed channels become
// spendable by the local wallet.
type SpendableOutputs struct {
	Outputs []OutputDescriptor
}

func (e *SpendableOutputs) eventName() string {
	return "SpendableOutputs"
}

// ChannelReady is emitted when a channel can be used for payments.
type ChannelReady struct {
	ChannelID          lnwire.ChannelID
	CounterpartyNodeID route.Vertex
	UserChannelID      uint64
}

func (e *ChannelReady) eventName() string {
	return "ChannelReady"
}

// HTLCIntercepted is emitted when an HTLC addressed to an intercept SCID was
// held back by the engine.
type HTLCIntercepted struct {
	// InterceptID is the ID used to resolve the intercept.
	InterceptID InterceptID

	// PaymentHash is the payment hash of the HTLC.
	PaymentHash lntypes.Hash

	// InboundSCID is the channel the HTLC arrived on.
	InboundSCID lnwire.ShortChannelID

	// RequestedNextHopSCID is the channel the HTLC should be forwarded
	// over.
	RequestedNextHopSCID lnwire.ShortChannelID

	// InboundAmount is the amount of the incoming HTLC.
	InboundAmount lnwire.MilliSatoshi

	// ExpectedOutboundAmount is the amount the next hop expects.
	ExpectedOutboundAmount lnwire.MilliSatoshi

	// InboundRgbAmount is the asset amount of the incoming HTLC, if any.
	InboundRgbAmount lfn.Option[uint64]

	// ExpectedOutboundRgbAmount is the asset amount the next hop expects,
	// if any.
	ExpectedOutboundRgbAmount lfn.Option[uint64]

	// IsSwap is true if the HTLC is a leg of an asset swap.
	IsSwap bool
}

func (e *HTLCIntercepted) eventName() string {
	return "HTLCIntercepted"
}

// PendingHTLCsForwardable is emitted when HTLCs are ready to be forwarded
// after at least TimeForwardable.
type PendingHTLCsForwardable struct {
	TimeForwardable time.Duration
}

func (e *PendingHTLCsForwardable) eventName() string {
	return "PendingHTLCsForwardable"
}

// PaymentClaimable is emitted when an inbound payment can be claimed.
type PaymentClaimable struct {
	PaymentHash lntypes.Hash
	Preimage    lfn.Option[lntypes.Preimage]
	Amount      lnwire.MilliSatoshi
}

func (e *PaymentClaimable) eventName() string {
	return "PaymentClaimable"
}

// PaymentClaimed is emitted once an inbound payment was claimed.
type PaymentClaimed struct {
	PaymentHash lntypes.Hash
	Preimage    lfn.Option[lntypes.Preimage]
	Secret      lfn.Option[[32]byte]
	Amount      lnwire.MilliSatoshi
}

func (e *PaymentClaimed) eventName() string {
	return "PaymentClaimed"
}

// PaymentSent is emitted when an outbound payment succeeded.
type PaymentSent struct {
	PaymentHash lntypes.Hash
	Preimage    lntypes.Preimage
	FeePaid     lfn.Option[lnwire.MilliSatoshi]
}

func (e *PaymentSent) eventName() string {
	return "PaymentSent"
}

// PaymentFailed is emitted when an outbound payment failed for good.
type PaymentFailed struct {
	PaymentHash lntypes.Hash
	Reason      string
}

func (e *PaymentFailed) eventName() string {
	return "PaymentFailed"
}

// PaymentForwarded is emitted when an HTLC was forwarded successfully.
type PaymentForwarded struct {
	PrevChannelID           lfn.Option[lnwire.ChannelID]
	NextChannelID           lfn.Option[lnwire.ChannelID]
	FeeEarned               lfn.Option[lnwire.MilliSatoshi]
	OutboundAmountForwarded lfn.Option[lnwire.MilliSatoshi]
	ClaimFromOnchainTx      bool
}

func (e *PaymentForwarded) eventName() string {
	return "PaymentForwarded"
}

// ChannelPending is emitted when a funding transaction was broadcast.
type ChannelPending struct {
	ChannelID          lnwire.ChannelID
	CounterpartyNodeID route.Vertex
	FundingOutPoint    wire.OutPoint
}

func (e *ChannelPending) eventName() string {
	return "ChannelPending"
}

// ChannelClosed is emitted when a channel was closed.
type ChannelClosed struct {
	ChannelID lnwire.ChannelID
	Reason    string
}

func (e *ChannelClosed) eventName() string {
	return "ChannelClosed"
}

// DiscardFunding is emitted when a funding transaction will never be
// broadcast.
type DiscardFunding struct {
	ChannelID   lnwire.ChannelID
	Transaction *wire.MsgTx
}

func (e *DiscardFunding) eventName() string {
	return "DiscardFunding"
}

// OpenChannelRequest is emitted for inbound channels that must be accepted
// manually.
type OpenChannelRequest struct {
	TemporaryChannelID lnwire.ChannelID
	CounterpartyNodeID route.Vertex
	FundingAmount      btcutil.Amount
}

func (e *OpenChannelRequest) eventName() string {
	return "OpenChannelRequest"
}

// PaymentPathSuccessful is emitted when a payment path succeeded.
type PaymentPathSuccessful struct {
	PaymentHash lntypes.Hash
}

func (e *PaymentPathSuccessful) eventName() string {
	return "PaymentPathSuccessful"
}

// PaymentPathFailed is emitted when a payment path failed.
type PaymentPathFailed struct {
	PaymentHash lntypes.Hash
}

func (e *PaymentPathFailed) eventName() string {
	return "PaymentPathFailed"
}

// ProbeSuccessful is emitted when a probe reached its destination.
type ProbeSuccessful struct {
	PaymentHash lntypes.Hash
}

func (e *ProbeSuccessful) eventName() string {
	return "ProbeSuccessful"
}

// ProbeFailed is emitted when a probe failed.
type ProbeFailed struct {
	PaymentHash lntypes.Hash
}

func (e *ProbeFailed) eventName() string {
	return "ProbeFailed"
}

// HTLCHandlingFailed is emitted when an HTLC could not be forwarded or
// claimed.
type HTLCHandlingFailed struct {
	PrevChannelID lnwire.ChannelID
}

func (e *HTLCHandlingFailed) eventName() string {
	return "HTLCHandlingFailed"
}
