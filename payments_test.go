package rgbsettle

import (
	"testing"

	lfn "github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func mustPayment(t require.TestingT,
	info lfn.Option[PaymentInfo]) PaymentInfo {

	require.True(t, info.IsSome())

	return info.UnwrapOr(PaymentInfo{})
}

// TestPaymentStoreUnknown makes sure updates of unknown outbound payments
// are ignored.
func TestPaymentStoreUnknown(t *testing.T) {
	t.Parallel()

	store := NewPaymentStore()
	hash := lntypes.Hash{1}

	require.False(t, store.RecordSent(hash, lntypes.Preimage{1}))
	require.False(t, store.RecordFailed(hash))
	require.True(t, store.Outbound(hash).IsNone())
	require.True(t, store.Inbound(hash).IsNone())
}

// TestPaymentStoreClaimKeepsPreimage checks a later claim without preimage
// doesn't erase a known one.
func TestPaymentStoreClaimKeepsPreimage(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		store := NewPaymentStore()

		var preimage lntypes.Preimage
		copy(preimage[:], rapid.SliceOfN(
			rapid.Byte(), 32, 32,
		).Draw(t, "preimage"))
		amt := lnwire.MilliSatoshi(
			rapid.Uint64Range(1, 1<<40).Draw(t, "amt"),
		)

		hash := preimage.Hash()
		store.RecordClaimed(
			hash, lfn.Some(preimage), lfn.None[[32]byte](), amt,
		)
		store.RecordClaimed(
			hash, lfn.None[lntypes.Preimage](),
			lfn.Some([32]byte{1}), amt,
		)

		info := mustPayment(t, store.Inbound(hash))
		require.Equal(t, PaymentSucceeded, info.Status)
		require.Equal(t, lfn.Some(preimage), info.Preimage)
		require.Equal(t, lfn.Some([32]byte{1}), info.Secret)
		require.Equal(t, lfn.Some(amt), info.Amount)
	})
}
