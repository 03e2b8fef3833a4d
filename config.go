package rgbsettle

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/build"
	"github.com/rgbln/rgbsettle/bitcoind"
	"github.com/rgbln/rgbsettle/chanevent"
	"github.com/rgbln/rgbsettle/chanfunding"
	"github.com/rgbln/rgbsettle/consignment"
	"github.com/rgbln/rgbsettle/rgbutxo"
	"github.com/rgbln/rgbsettle/swap"
	"github.com/rgbln/rgbsettle/sweeper"
	"github.com/rgbln/rgbsettle/wallet"
)

const (
	// DefaultTimeout is the default timeout of background tasks started
	// by the server.
	DefaultTimeout = 30 * time.Second
)

// Config is the main config of the settlement server. It holds every
// component the server dispatches engine events to.
type Config struct {
	DebugLevel string

	ChainParams *chaincfg.Params

	// Lnd is the connection to the lnd node backing the on-chain wallet.
	// It is closed on shutdown if set.
	Lnd *lndclient.GrpcLndServices

	Wallet wallet.Anchor

	Chain *bitcoind.Client

	UtxoLedger *rgbutxo.Ledger

	Proofs *consignment.Lifecycle

	FundingBuilder *chanfunding.Builder

	Reclaimer *sweeper.Reclaimer

	// Whitelist holds the trades swaps are checked against. Trades are
	// added to it by the caller.
	Whitelist *swap.Whitelist

	Swaps *swap.Coordinator

	Engine chanevent.Engine

	Payments *PaymentStore

	// LogWriter is the root logger that all of the daemon's subloggers are
	// hooked up to.
	LogWriter *build.RotatingLogWriter

	// LogMgr is the sublogger manager that is used to create subloggers for
	// the daemon.
	LogMgr *build.SubLoggerManager
}
