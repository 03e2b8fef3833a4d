package rgbsettle

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/build"
	"github.com/rgbln/rgbsettle/chanevent"
	"github.com/rgbln/rgbsettle/swap"
)

// Server is the settlement server. It receives the events of the protocol
// engine and dispatches them to the funding builder, the consignment
// lifecycle, the reclaimer and the swap coordinator.
type Server struct {
	started  int32
	shutdown int32

	cfg *Config

	handler *EventHandler
}

// NewServer creates a new server given the passed config.
func NewServer(cfg *Config) *Server {
	return &Server{
		cfg: cfg,
		handler: NewEventHandler(&EventHandlerCfg{
			Engine:    cfg.Engine,
			Funder:    cfg.FundingBuilder,
			Reclaimer: cfg.Reclaimer,
			Proofs:    cfg.Proofs,
			Swaps:     cfg.Swaps,
			Payments:  cfg.Payments,
		}),
	}
}

// Start checks the chain backends are usable. Events must not be handed to
// the server before Start returned.
func (s *Server) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return nil
	}

	log.Infof("Version: %s, build=%s, logging=%s, debuglevel=%s",
		Version(), build.Deployment, build.LoggingType,
		s.cfg.DebugLevel)

	log.Infof("Active network: %v", s.cfg.ChainParams.Name)

	if s.cfg.Chain != nil {
		err := s.cfg.Chain.CheckNetwork(ctx, s.cfg.ChainParams)
		if err != nil {
			return fmt.Errorf("unable to check bitcoind: %w", err)
		}
	}

	if err := s.cfg.Wallet.Sync(ctx); err != nil {
		return fmt.Errorf("unable to sync wallet: %w", err)
	}

	log.Infof("Tracking %d colored UTXOs",
		len(s.cfg.UtxoLedger.Utxos()))

	return nil
}

// HandleEvent dispatches a single engine event.
func (s *Server) HandleEvent(ctx context.Context,
	event chanevent.Event) error {

	if atomic.LoadInt32(&s.shutdown) != 0 {
		return fmt.Errorf("server is shutting down")
	}

	return s.handler.HandleEvent(ctx, event)
}

// Whitelist returns the swap whitelist trades can be added to.
func (s *Server) Whitelist() *swap.Whitelist {
	return s.cfg.Whitelist
}

// Payments returns the payment store.
func (s *Server) Payments() *PaymentStore {
	return s.cfg.Payments
}

// Stop waits for background tasks and closes the backend connections.
func (s *Server) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.shutdown, 0, 1) {
		return nil
	}

	log.Infof("Stopping settlement server")

	s.handler.Stop()

	if s.cfg.Chain != nil {
		s.cfg.Chain.Stop()
	}
	if s.cfg.Lnd != nil {
		s.cfg.Lnd.Close()
	}

	return nil
}
