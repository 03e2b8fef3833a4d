package rgbsettle

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/rgbln/rgbsettle/chanevent"
	"github.com/rgbln/rgbsettle/rgbutxo"
	"github.com/rgbln/rgbsettle/swap"
	"github.com/rgbln/rgbsettle/wallet"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *wallet.MockAnchor) {
	t.Helper()

	ledger, err := rgbutxo.Init(t.TempDir())
	require.NoError(t, err)

	anchor := &wallet.MockAnchor{}
	t.Cleanup(func() {
		anchor.AssertExpectations(t)
	})

	return NewServer(&Config{
		ChainParams: &chaincfg.RegressionNetParams,
		Wallet:      anchor,
		UtxoLedger:  ledger,
		Whitelist:   swap.NewWhitelist(),
		Engine:      &chanevent.MockEngine{},
		Payments:    NewPaymentStore(),
	}), anchor
}

// TestServerLifecycle makes sure the wallet is synced once on start and that
// events are rejected after stop.
func TestServerLifecycle(t *testing.T) {
	t.Parallel()

	server, anchor := newTestServer(t)
	ctx := context.Background()

	anchor.On("Sync", mock.Anything).Return(nil).Once()

	require.NoError(t, server.Start(ctx))
	require.NoError(t, server.Start(ctx))

	require.NotNil(t, server.Whitelist())
	require.NotNil(t, server.Payments())

	err := server.HandleEvent(ctx, &chanevent.ProbeSuccessful{})
	require.NoError(t, err)

	require.NoError(t, server.Stop())
	require.NoError(t, server.Stop())

	err = server.HandleEvent(ctx, &chanevent.ProbeSuccessful{})
	require.ErrorContains(t, err, "shutting down")
}

// TestServerStartSyncFailure checks a wallet that can't sync fails startup.
func TestServerStartSyncFailure(t *testing.T) {
	t.Parallel()

	server, anchor := newTestServer(t)

	anchor.On("Sync", mock.Anything).Return(errors.New("lnd down"))

	err := server.Start(context.Background())
	require.ErrorContains(t, err, "lnd down")
	require.NoError(t, server.Stop())
}
