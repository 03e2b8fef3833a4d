package consignment

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/rgbln/rgbsettle/rgb"
)

const (
	// FundingVout is the output of a funding transaction that carries the
	// channel's asset allocation.
	FundingVout = 0

	// ChangeVout is the output of a funding transaction that carries the
	// asset change.
	ChangeVout = 1
)

var (
	// ErrProofMissing is returned when a consignment that must exist for
	// an output can't be found. This is an inconsistency that can't be
	// recovered from.
	ErrProofMissing = errors.New("consignment missing")
)

// LifecycleCfg is the configuration of the consignment lifecycle.
type LifecycleCfg struct {
	// Archive stores the consignments.
	Archive Archiver

	// AssetLedger consumes consignments.
	AssetLedger rgb.AssetLedger

	// Courier relays consignments to counterparties.
	Courier Courier

	// Blinding is the blinding factor used for reveals.
	Blinding uint64
}

// Lifecycle drives consignments from creation to finalization: they are
// persisted, relayed to the counterparty and finally consumed by the local
// asset ledger.
type Lifecycle struct {
	cfg *LifecycleCfg
}

// NewLifecycle creates a new consignment lifecycle.
func NewLifecycle(cfg *LifecycleCfg) *Lifecycle {
	return &Lifecycle{
		cfg: cfg,
	}
}

// Persist stores a consignment under the transaction it is anchored in and
// under every additional locator passed.
func (l *Lifecycle) Persist(ctx context.Context, txid chainhash.Hash,
	c *rgb.Consignment, extra ...Locator) error {

	locators := append([]Locator{TxidLocator(txid)}, extra...)
	for _, loc := range locators {
		err := l.cfg.Archive.StoreConsignment(ctx, loc, c)
		if err != nil {
			return err
		}
	}

	return nil
}

// PersistForChannel stores a consignment under the channel ID of the funding
// it belongs to, so the change it carries can be finalized once the channel
// is ready.
func (l *Lifecycle) PersistForChannel(ctx context.Context,
	chanID lnwire.ChannelID, c *rgb.Consignment) error {

	return l.cfg.Archive.StoreConsignment(ctx, ChannelLocator(chanID), c)
}

// Relay delivers the consignment anchored in txid to the counterparty.
func (l *Lifecycle) Relay(ctx context.Context, txid chainhash.Hash) error {
	path, err := l.cfg.Archive.FilePath(TxidLocator(txid))
	if err != nil {
		return err
	}

	return l.cfg.Courier.DeliverConsignment(ctx, txid, path)
}

// Consume finalizes a consignment, revealing the witness seal at op.
// Consuming the same consignment at the same output again is allowed.
func (l *Lifecycle) Consume(ctx context.Context, c *rgb.Consignment,
	op wire.OutPoint) (rgb.Validity, error) {

	reveal := rgb.NewWitnessReveal(op, l.cfg.Blinding)
	status, err := l.cfg.AssetLedger.FinalizeTransfer(ctx, c, reveal)
	if err != nil {
		return status, fmt.Errorf("unable to consume consignment at "+
			"%v: %w", op, err)
	}

	if status != rgb.ValidityValid {
		log.Warnf("Consumed consignment at %v with status %v", op,
			status)
	} else {
		log.Debugf("Consumed consignment at %v", op)
	}

	return status, nil
}

// FetchForOutput loads the consignment anchored in the transaction of op.
// The consignment must exist, a missing one is reported as ErrProofMissing.
func (l *Lifecycle) FetchForOutput(ctx context.Context,
	op wire.OutPoint) (*rgb.Consignment, error) {

	c, err := l.cfg.Archive.FetchConsignment(ctx, TxidLocator(op.Hash))
	switch {
	case errors.Is(err, ErrProofNotFound):
		return nil, fmt.Errorf("%w: %v", ErrProofMissing, op)
	case err != nil:
		return nil, err
	}

	return c, nil
}

// HandleChannelReady finalizes the asset change of a channel funding once
// the channel is ready. A consignment stored under the channel ID means the
// funding carried change at ChangeVout that still has to be consumed. The
// consignment is left in place.
func (l *Lifecycle) HandleChannelReady(ctx context.Context,
	chanID lnwire.ChannelID) error {

	loc := ChannelLocator(chanID)
	pending, err := l.cfg.Archive.HasConsignment(ctx, loc)
	if err != nil {
		return err
	}
	if !pending {
		return nil
	}

	c, err := l.cfg.Archive.FetchConsignment(ctx, loc)
	if err != nil {
		return err
	}

	bundle, err := c.LastBundle()
	if err != nil {
		return fmt.Errorf("chan_id=%v: %w", chanID, err)
	}

	changeOutpoint := wire.OutPoint{Hash: bundle.Txid, Index: ChangeVout}

	log.Infof("Consuming funding change of chan_id=%v at %v", chanID,
		changeOutpoint)

	_, err = l.Consume(ctx, c, changeOutpoint)
	return err
}
