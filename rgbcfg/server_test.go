package rgbcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btclog/v2"
	"github.com/rgbln/rgbsettle/bitcoind"
	"github.com/rgbln/rgbsettle/chanevent"
	"github.com/rgbln/rgbsettle/consignment"
	"github.com/rgbln/rgbsettle/rgb"
	"github.com/rgbln/rgbsettle/rgbutxo"
	"github.com/rgbln/rgbsettle/wallet"
	"github.com/stretchr/testify/require"
)

// TestGenServerConfig makes sure every component is assembled and that a
// fresh node gets an empty colored UTXO ledger.
func TestGenServerConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.ChainConf.Network = "regtest"

	clean, err := ValidateConfig(cfg, btclog.Disabled)
	require.NoError(t, err)

	// No connection is made until the first call.
	chain, err := bitcoind.NewClient(clean.Bitcoind)
	require.NoError(t, err)
	t.Cleanup(chain.Stop)

	engine := &EngineServices{
		Engine:       &chanevent.MockEngine{},
		ChannelStore: chanevent.NewMockChannelAssetStore(),
		Keys:         &chanevent.MockKeysSource{},
	}
	serverCfg, err := genServerConfig(clean, btclog.Disabled, &backends{
		wallet:      &wallet.MockAnchor{},
		chain:       chain,
		assetLedger: &rgb.MockAssetLedger{},
		courier:     &consignment.MockCourier{},
	}, engine)
	require.NoError(t, err)

	require.NotNil(t, serverCfg.FundingBuilder)
	require.NotNil(t, serverCfg.Proofs)
	require.NotNil(t, serverCfg.Reclaimer)
	require.NotNil(t, serverCfg.Swaps)
	require.NotNil(t, serverCfg.Whitelist)
	require.NotNil(t, serverCfg.Payments)
	require.Equal(t, engine.Engine, serverCfg.Engine)
	require.Equal(t, "regtest", serverCfg.ChainParams.Name)
	require.Empty(t, serverCfg.UtxoLedger.Utxos())

	_, err = os.Stat(filepath.Join(
		clean.NetworkDir(), rgbutxo.LedgerFileName,
	))
	require.NoError(t, err)

	// A second start picks up the existing ledger.
	_, err = genServerConfig(clean, btclog.Disabled, &backends{
		wallet:      &wallet.MockAnchor{},
		chain:       chain,
		assetLedger: &rgb.MockAssetLedger{},
		courier:     &consignment.MockCourier{},
	}, engine)
	require.NoError(t, err)
}
