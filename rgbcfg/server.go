package rgbcfg

import (
	"fmt"

	"github.com/btcsuite/btclog/v2"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/lnutils"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/rgbln/rgbsettle"
	"github.com/rgbln/rgbsettle/bitcoind"
	"github.com/rgbln/rgbsettle/chanevent"
	"github.com/rgbln/rgbsettle/chanfunding"
	"github.com/rgbln/rgbsettle/consignment"
	"github.com/rgbln/rgbsettle/lndservices"
	"github.com/rgbln/rgbsettle/rgb"
	"github.com/rgbln/rgbsettle/rgbrpc"
	"github.com/rgbln/rgbsettle/rgbutxo"
	"github.com/rgbln/rgbsettle/swap"
	"github.com/rgbln/rgbsettle/sweeper"
	"github.com/rgbln/rgbsettle/wallet"
)

// EngineServices is what the protocol engine exposes to the settlement
// server.
type EngineServices struct {
	// Engine accepts the commands of the server.
	Engine chanevent.Engine

	// ChannelStore gives access to the asset info of channels.
	ChannelStore chanevent.ChannelAssetStore

	// Keys is the keys manager of the engine.
	Keys chanevent.KeysSource
}

// backends are the external services the server is assembled around.
type backends struct {
	wallet      wallet.Anchor
	chain       *bitcoind.Client
	assetLedger rgb.AssetLedger
	courier     consignment.Courier
}

// genServerConfig generates a server config from the given config and
// backends.
func genServerConfig(cfg *Config, cfgLogger btclog.Logger, b *backends,
	engine *EngineServices) (*rgbsettle.Config, error) {

	cfgLogger.Infof("Opening colored utxo ledger in %v", cfg.networkDir)
	utxoLedger, err := rgbutxo.Init(cfg.networkDir)
	if err != nil {
		return nil, err
	}

	archive, err := consignment.NewFileArchiver(cfg.networkDir)
	if err != nil {
		return nil, err
	}

	// The asset ledger is shared by the builder, the lifecycle and the
	// reclaimer, which may run concurrently.
	assetLedger := rgb.NewSyncLedger(b.assetLedger)

	proofs := consignment.NewLifecycle(&consignment.LifecycleCfg{
		Archive:     archive,
		AssetLedger: assetLedger,
		Courier:     b.courier,
		Blinding:    cfg.Blinding,
	})

	feeRate := cfg.FeeRatePerKw()
	cfgLogger.Debugf("Using fee rate %v, blinding %d", feeRate,
		cfg.Blinding)

	builder := chanfunding.NewBuilder(&chanfunding.BuilderCfg{
		Wallet:       b.wallet,
		AssetLedger:  assetLedger,
		UtxoLedger:   utxoLedger,
		Proofs:       proofs,
		ChannelStore: engine.ChannelStore,
		Engine:       engine.Engine,
		FeeRate:      feeRate,
		Blinding:     cfg.Blinding,
	})

	reclaimer := sweeper.NewReclaimer(&sweeper.ReclaimerCfg{
		PrimaryWallet: b.wallet,
		Chain:         b.chain,
		AssetLedger:   assetLedger,
		UtxoLedger:    utxoLedger,
		Proofs:        proofs,
		Keys:          engine.Keys,
		ChainParams:   &cfg.ActiveNetParams,
		FeeRate:       feeRate,
		ConfTarget:    cfg.Sweep.ConfTarget,
		Blinding:      cfg.Blinding,
	})

	whitelist := swap.NewWhitelist()
	swaps := swap.NewCoordinator(&swap.CoordinatorCfg{
		Engine:       engine.Engine,
		ChannelStore: engine.ChannelStore,
		Whitelist:    whitelist,
	})

	return &rgbsettle.Config{
		DebugLevel:     cfg.DebugLevel,
		ChainParams:    &cfg.ActiveNetParams,
		Wallet:         b.wallet,
		Chain:          b.chain,
		UtxoLedger:     utxoLedger,
		Proofs:         proofs,
		FundingBuilder: builder,
		Reclaimer:      reclaimer,
		Whitelist:      whitelist,
		Swaps:          swaps,
		Engine:         engine.Engine,
		Payments:       rgbsettle.NewPaymentStore(),
		LogWriter:      cfg.LogWriter,
		LogMgr:         cfg.LogMgr,
	}, nil
}

// CreateServerFromConfig creates a new settlement server from the given
// config. It connects to lnd, bitcoind, the RGB node and the proxy, and
// wires every component to the engine.
func CreateServerFromConfig(cfg *Config, cfgLogger btclog.Logger,
	interceptor signal.Interceptor,
	engine *EngineServices) (*rgbsettle.Server, error) {

	cfgLogger.Infof("Attempting to establish connection to lnd at %v",
		cfg.Lnd.Host)
	lndConn, err := getLnd(
		cfg.ChainConf.Network, cfg.Lnd, interceptor,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to lnd node: %w",
			err)
	}

	cfgLogger.Infof("lnd connection initialized")

	chain, err := bitcoind.NewClient(cfg.Bitcoind)
	if err != nil {
		lndConn.Close()
		return nil, fmt.Errorf("unable to create bitcoind client: %w",
			err)
	}

	proxyCfg := *cfg.Proxy
	proxyCfg.UserAgent = rgbsettle.UserAgent()

	cfgLogger.Debugf("Proxy config: %v", lnutils.NewLogClosure(
		func() string {
			return spew.Sdump(proxyCfg)
		},
	))

	walletAnchor := lndservices.NewLndRpcWalletAnchor(
		&lndConn.LndServices,
	)
	serverCfg, err := genServerConfig(cfg, cfgLogger, &backends{
		wallet:      walletAnchor,
		chain:       chain,
		assetLedger: rgbrpc.NewClient(cfg.RgbNode),
		courier:     consignment.NewProxyCourier(&proxyCfg),
	}, engine)
	if err != nil {
		chain.Stop()
		lndConn.Close()

		return nil, fmt.Errorf("unable to generate server config: %w",
			err)
	}

	serverCfg.Lnd = lndConn

	return rgbsettle.NewServer(serverCfg), nil
}
