package swap

import (
	"context"
	"errors"
	"fmt"

	lfn "github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/rgbln/rgbsettle/chanevent"
	"github.com/rgbln/rgbsettle/rgb"
)

var (
	// ErrSwapTermsMismatch is returned when an intercepted HTLC doesn't
	// match the trade whitelisted for its payment hash.
	ErrSwapTermsMismatch = errors.New("swap terms mismatch")
)

// CoordinatorCfg is the configuration of the swap coordinator.
type CoordinatorCfg struct {
	// Engine forwards or fails intercepted HTLCs.
	Engine chanevent.Engine

	// ChannelStore gives access to the asset info of the channels an
	// HTLC travels over.
	ChannelStore chanevent.ChannelAssetStore

	// Whitelist holds the agreed trades.
	Whitelist *Whitelist
}

// Coordinator forwards intercepted HTLCs that are legs of a whitelisted swap
// and fails all others.
type Coordinator struct {
	cfg *CoordinatorCfg
}

// NewCoordinator creates a new swap coordinator.
func NewCoordinator(cfg *CoordinatorCfg) *Coordinator {
	return &Coordinator{
		cfg: cfg,
	}
}

// HandleIntercept decides the fate of an intercepted HTLC. An HTLC that is
// not a swap is failed right away. A swap is forwarded only if it matches
// the trade whitelisted for its payment hash, which consumes the trade. The
// amounts of the event are forwarded as they are.
func (c *Coordinator) HandleIntercept(ctx context.Context,
	e *chanevent.HTLCIntercepted) error {

	if !e.IsSwap {
		log.Debugf("Failing intercepted HTLC %v: not a swap",
			e.InterceptID)

		return c.cfg.Engine.FailInterceptedHTLC(ctx, e.InterceptID)
	}

	entry, err := c.cfg.Whitelist.TakeIf(
		e.PaymentHash, func(entry Entry) error {
			return c.checkTerms(entry, e)
		},
	)
	if err != nil {
		log.Infof("Failing swap HTLC %v for hash=%v: %v",
			e.InterceptID, e.PaymentHash, err)

		failErr := c.cfg.Engine.FailInterceptedHTLC(ctx, e.InterceptID)

		return errors.Join(err, failErr)
	}

	log.Infof("Forwarding %v swap of %d assets of %v for hash=%v over %v",
		entry.Type.Side, entry.Type.AmountRgb, entry.ContractID,
		e.PaymentHash, e.RequestedNextHopSCID)

	return c.cfg.Engine.ForwardInterceptedHTLC(
		ctx, e.InterceptID, e.RequestedNextHopSCID,
		e.ExpectedOutboundAmount, e.ExpectedOutboundRgbAmount,
	)
}

// checkTerms validates an intercepted HTLC against a whitelisted trade. A
// buy receives the assets on the inbound channel and pays the agreed
// millisatoshis on top of the inbound amount. A sell sends the assets over
// the outbound channel and keeps the agreed millisatoshis.
func (c *Coordinator) checkTerms(entry Entry,
	e *chanevent.HTLCIntercepted) error {

	var (
		terms   = entry.Type
		margin  lnwire.MilliSatoshi
		rgbAmt  lfn.Option[uint64]
		colored lnwire.ShortChannelID
		plain   lnwire.ShortChannelID
	)
	if terms.IsBuy() {
		if e.ExpectedOutboundAmount > e.InboundAmount {
			margin = e.ExpectedOutboundAmount - e.InboundAmount
		}
		rgbAmt = e.InboundRgbAmount
		colored, plain = e.InboundSCID, e.RequestedNextHopSCID
	} else {
		if e.InboundAmount > e.ExpectedOutboundAmount {
			margin = e.InboundAmount - e.ExpectedOutboundAmount
		}
		rgbAmt = e.ExpectedOutboundRgbAmount
		colored, plain = e.RequestedNextHopSCID, e.InboundSCID
	}

	if rgbAmt.IsNone() || rgbAmt.UnwrapOr(0) != terms.AmountRgb {
		return fmt.Errorf("%w: asset amount %d (set=%v), want %d",
			ErrSwapTermsMismatch, rgbAmt.UnwrapOr(0),
			rgbAmt.IsSome(), terms.AmountRgb)
	}

	if margin != terms.AmountMsat {
		return fmt.Errorf("%w: margin %v, want %v",
			ErrSwapTermsMismatch, margin, terms.AmountMsat)
	}

	coloredInfo, err := c.cfg.ChannelStore.FetchAssetInfoBySCID(colored)
	if err != nil {
		return err
	}
	matches := lfn.MapOptionZ(
		coloredInfo, func(info rgb.ChannelInfo) bool {
			return info.ContractID == entry.ContractID
		},
	)
	if !matches {
		return fmt.Errorf("%w: channel %v doesn't carry %v",
			ErrSwapTermsMismatch, colored, entry.ContractID)
	}

	plainInfo, err := c.cfg.ChannelStore.FetchAssetInfoBySCID(plain)
	if err != nil {
		return err
	}
	if plainInfo.IsSome() {
		return fmt.Errorf("%w: channel %v is colored",
			ErrSwapTermsMismatch, plain)
	}

	return nil
}
