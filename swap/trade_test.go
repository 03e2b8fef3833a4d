package swap

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/rgbln/rgbsettle/rgb"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testHash = lntypes.Hash{
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
	0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18,
	0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f, 0x20,
}

func TestParseTrade(t *testing.T) {
	t.Parallel()

	contractID := rgb.ContractID{0xab, 0xcd}

	trade, err := ParseTrade(fmt.Sprintf(
		"1000:%v:sell:5:%v", contractID, testHash,
	))
	require.NoError(t, err)
	require.Equal(t, &Trade{
		ContractID: contractID,
		Type: Type{
			Side:       SideSell,
			AmountRgb:  1000,
			AmountMsat: 5000,
		},
		PaymentHash: testHash,
	}, trade)
	require.False(t, trade.Type.IsBuy())

	opposite := trade.Type.Opposite()
	require.True(t, opposite.IsBuy())
	require.Equal(t, trade.Type.AmountRgb, opposite.AmountRgb)
	require.Equal(t, trade.Type.AmountMsat, opposite.AmountMsat)
	require.Equal(t, trade.Type, opposite.Opposite())

	// The contract ID may also be given in hex.
	hexTrade, err := ParseTrade(fmt.Sprintf(
		"1000:%x:sell:5:%v", contractID[:], testHash,
	))
	require.NoError(t, err)
	require.Equal(t, trade, hexTrade)
}

func TestParseTradeInvalid(t *testing.T) {
	t.Parallel()

	contractID := rgb.ContractID{0xab}.String()
	hash := testHash.String()

	testCases := []struct {
		name  string
		trade string
		err   error
	}{{
		name:  "too few parts",
		trade: "1000:" + contractID + ":buy:5",
		err:   ErrWrongNumberOfParts,
	}, {
		name:  "too many parts",
		trade: "1000:" + contractID + ":buy:5:" + hash + ":x",
		err:   ErrWrongNumberOfParts,
	}, {
		name:  "empty",
		trade: "",
		err:   ErrWrongNumberOfParts,
	}, {
		name:  "bad amount",
		trade: "-1:" + contractID + ":buy:5:" + hash,
		err:   ErrUnparsableParts,
	}, {
		name:  "bad contract",
		trade: "1000:rgb1xyz:buy:5:" + hash,
		err:   ErrUnparsableParts,
	}, {
		name:  "bad price",
		trade: "1000:" + contractID + ":buy:five:" + hash,
		err:   ErrUnparsableParts,
	}, {
		name:  "short hash",
		trade: "1000:" + contractID + ":buy:5:" + hash[:62],
		err:   ErrUnparsableParts,
	}, {
		name:  "non hex hash",
		trade: "1000:" + contractID + ":buy:5:" + strings.Repeat("z", 64),
		err:   ErrUnparsableParts,
	}, {
		name:  "unknown side",
		trade: "1000:" + contractID + ":hold:5:" + hash,
		err:   ErrInvalidSwapType,
	}, {
		name:  "uppercase side",
		trade: "1000:" + contractID + ":BUY:5:" + hash,
		err:   ErrInvalidSwapType,
	}, {
		name: "overflowing total",
		trade: fmt.Sprintf("%d:%v:buy:2:%v", uint64(math.MaxUint64),
			contractID, hash),
		err: ErrUnparsableParts,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTrade(tc.trade)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestEncodeInexactPrice(t *testing.T) {
	t.Parallel()

	trade := &Trade{
		Type: Type{Side: SideBuy, AmountRgb: 3, AmountMsat: 10},
	}
	_, err := trade.Encode()
	require.ErrorIs(t, err, ErrInexactPrice)
}

var tradeGen = rapid.Custom(func(t *rapid.T) *Trade {
	amount := rapid.Uint64Range(0, math.MaxUint32).Draw(t, "amount")
	price := rapid.Uint64Range(0, math.MaxUint32).Draw(t, "price")
	side := Side(rapid.IntRange(0, 1).Draw(t, "side"))

	swapType, err := NewType(side, amount, price)
	if err != nil {
		t.Fatalf("unable to create type: %v", err)
	}

	return &Trade{
		ContractID:  rgb.ContractIDGen.Draw(t, "contract_id"),
		Type:        swapType,
		PaymentHash: lntypes.Hash(rgb.HashGen.Draw(t, "hash")),
	}
})

// TestTradeRoundTrip checks that every encoded trade parses back to itself.
func TestTradeRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		trade := tradeGen.Draw(t, "trade")

		encoded, err := trade.Encode()
		require.NoError(t, err)

		parsed, err := ParseTrade(encoded)
		require.NoError(t, err)
		require.Equal(t, trade, parsed)
	})
}

// TestParseTradeNeverPanics feeds arbitrary strings to the parser.
func TestParseTradeNeverPanics(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")

		trade, err := ParseTrade(s)
		if err == nil {
			require.NotNil(t, trade)
		}
	})
}
