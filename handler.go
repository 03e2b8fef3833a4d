package rgbsettle

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	lfn "github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnutils"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/rgbln/rgbsettle/chanevent"
	"github.com/rgbln/rgbsettle/chanfunding"
	"github.com/rgbln/rgbsettle/fn"
)

var (
	// ErrUnknownEvent is returned for an event the handler doesn't know.
	ErrUnknownEvent = errors.New("unknown event")
)

// Funder builds and completes channel fundings.
type Funder interface {
	// Fund builds and signs the funding transaction for the request.
	Fund(ctx context.Context,
		req *chanevent.FundingGenerationReady) (*chanfunding.Funding,
		error)

	// Complete relays the funding's consignment and hands the
	// transaction to the engine.
	Complete(ctx context.Context, funding *chanfunding.Funding) error
}

// OutputReclaimer sweeps outputs the engine handed back to us.
type OutputReclaimer interface {
	// HandleSpendableOutputs reclaims every output descriptor.
	HandleSpendableOutputs(ctx context.Context,
		descs []chanevent.OutputDescriptor) error
}

// ChannelReadyHandler finalizes transfers once a channel is usable.
type ChannelReadyHandler interface {
	// HandleChannelReady is called once the channel is ready.
	HandleChannelReady(ctx context.Context, chanID lnwire.ChannelID) error
}

// InterceptHandler decides the fate of intercepted HTLCs.
type InterceptHandler interface {
	// HandleIntercept forwards or fails the intercepted HTLC.
	HandleIntercept(ctx context.Context,
		e *chanevent.HTLCIntercepted) error
}

// EventHandlerCfg is the configuration of the event handler.
type EventHandlerCfg struct {
	// Engine is the protocol engine the events come from.
	Engine chanevent.Engine

	Funder Funder

	Reclaimer OutputReclaimer

	Proofs ChannelReadyHandler

	Swaps InterceptHandler

	// Payments records the outcome of payments.
	Payments *PaymentStore

	// ForwardDelay returns the time to wait before pending HTLCs are
	// forwarded, given the minimum announced by the engine. If nil, a
	// random delay in [min, 5*min) is used.
	ForwardDelay func(minDelay time.Duration) time.Duration
}

// EventHandler dispatches engine events to the components that act on them.
// Long running follow-ups are run in the background and are waited for by
// Stop.
type EventHandler struct {
	cfg *EventHandlerCfg

	*fn.ContextGuard
}

// NewEventHandler creates a new event handler.
func NewEventHandler(cfg *EventHandlerCfg) *EventHandler {
	if cfg.ForwardDelay == nil {
		cfg.ForwardDelay = randomForwardDelay
	}

	return &EventHandler{
		cfg:          cfg,
		ContextGuard: fn.NewContextGuard(DefaultTimeout),
	}
}

// randomForwardDelay returns a uniformly random delay in
// [minDelay, 5*minDelay).
func randomForwardDelay(minDelay time.Duration) time.Duration {
	if minDelay <= 0 {
		return 0
	}

	return minDelay + rand.N(4*minDelay)
}

// HandleEvent acts on a single engine event.
func (h *EventHandler) HandleEvent(ctx context.Context,
	event chanevent.Event) error {

	if event == nil {
		return ErrUnknownEvent
	}

	log.Debugf("Handling event %v", chanevent.Name(event))
	log.Tracef("Event details: %v", lnutils.SpewLogClosure(event))

	switch e := event.(type) {
	case *chanevent.FundingGenerationReady:
		return h.handleFundingReady(ctx, e)

	case *chanevent.SpendableOutputs:
		return h.cfg.Reclaimer.HandleSpendableOutputs(ctx, e.Outputs)

	case *chanevent.ChannelReady:
		log.Infof("Channel chan_id=%v with peer %v is ready",
			e.ChannelID, e.CounterpartyNodeID)

		return h.cfg.Proofs.HandleChannelReady(ctx, e.ChannelID)

	case *chanevent.HTLCIntercepted:
		return h.cfg.Swaps.HandleIntercept(ctx, e)

	case *chanevent.PendingHTLCsForwardable:
		h.scheduleForwards(e.TimeForwardable)
		return nil

	case *chanevent.PaymentClaimable:
		return h.handleClaimable(ctx, e)

	case *chanevent.PaymentClaimed:
		log.Infof("Claimed payment hash=%v of %v", e.PaymentHash,
			e.Amount)

		h.cfg.Payments.RecordClaimed(
			e.PaymentHash, e.Preimage, e.Secret, e.Amount,
		)
		return nil

	case *chanevent.PaymentSent:
		if h.cfg.Payments.RecordSent(e.PaymentHash, e.Preimage) {
			log.Infof("Sent payment hash=%v, fee=%v",
				e.PaymentHash, e.FeePaid.UnwrapOr(0))
		}
		return nil

	case *chanevent.PaymentFailed:
		log.Warnf("Payment hash=%v failed: %v", e.PaymentHash,
			e.Reason)

		h.cfg.Payments.RecordFailed(e.PaymentHash)
		return nil

	case *chanevent.PaymentForwarded:
		log.Infof("Forwarded payment, earned %v msat",
			e.FeeEarned.UnwrapOr(0))
		return nil

	case *chanevent.ChannelPending:
		log.Infof("Channel chan_id=%v with peer %v pending at %v",
			e.ChannelID, e.CounterpartyNodeID, e.FundingOutPoint)
		return nil

	case *chanevent.ChannelClosed:
		log.Infof("Channel chan_id=%v closed: %v", e.ChannelID,
			e.Reason)
		return nil

	case *chanevent.DiscardFunding,
		*chanevent.OpenChannelRequest,
		*chanevent.PaymentPathSuccessful,
		*chanevent.PaymentPathFailed,
		*chanevent.ProbeSuccessful,
		*chanevent.ProbeFailed,
		*chanevent.HTLCHandlingFailed:

		return nil

	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, event)
	}
}

// handleFundingReady builds the funding transaction right away and leaves
// relaying and the handover to the engine to the background.
func (h *EventHandler) handleFundingReady(ctx context.Context,
	e *chanevent.FundingGenerationReady) error {

	funding, err := h.cfg.Funder.Fund(ctx, e)
	if err != nil {
		return err
	}

	h.Goroutine(func(ctx context.Context) error {
		return h.cfg.Funder.Complete(ctx, funding)
	}, func(err error) {
		log.Errorf("Unable to complete funding of chan_id=%v: %v",
			e.TemporaryChannelID, err)
	})

	return nil
}

// scheduleForwards asks the engine to process pending forwards after a
// randomized delay.
func (h *EventHandler) scheduleForwards(minDelay time.Duration) {
	delay := h.cfg.ForwardDelay(minDelay)

	h.Goroutine(func(ctx context.Context) error {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}

		h.cfg.Engine.ProcessPendingHTLCForwards(ctx)
		return nil
	}, nil)
}

// handleClaimable claims an inbound payment we know the preimage of.
func (h *EventHandler) handleClaimable(ctx context.Context,
	e *chanevent.PaymentClaimable) error {

	log.Infof("Received payment hash=%v of %v", e.PaymentHash, e.Amount)

	if e.Preimage.IsNone() {
		log.Warnf("No preimage known for hash=%v, not claiming",
			e.PaymentHash)

		return nil
	}

	return lfn.MapOptionZ(
		e.Preimage, func(preimage lntypes.Preimage) error {
			return h.cfg.Engine.ClaimFunds(ctx, preimage)
		},
	)
}
