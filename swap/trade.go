package swap

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/rgbln/rgbsettle/rgb"
)

const (
	// tradeParts is the number of colon separated fields of an encoded
	// trade.
	tradeParts = 5

	sideBuyStr  = "buy"
	sideSellStr = "sell"
)

var (
	// ErrWrongNumberOfParts is returned when an encoded trade doesn't
	// have exactly five fields.
	ErrWrongNumberOfParts = errors.New("wrong number of parts")

	// ErrUnparsableParts is returned when a field of an encoded trade
	// can't be parsed.
	ErrUnparsableParts = errors.New("unable to parse parts")

	// ErrInvalidSwapType is returned for a side that is neither buy nor
	// sell.
	ErrInvalidSwapType = errors.New("invalid swap type")

	// ErrInexactPrice is returned when encoding terms whose millisatoshi
	// amount is not a multiple of the asset amount.
	ErrInexactPrice = errors.New("price is not a whole number of msat " +
		"per asset unit")
)

// Side is the side of a swap, seen from the node that whitelists it.
type Side uint8

const (
	// SideBuy buys assets for millisatoshis.
	SideBuy Side = iota

	// SideSell sells assets for millisatoshis.
	SideSell
)

// String returns the side token used in encoded trades.
func (s Side) String() string {
	switch s {
	case SideBuy:
		return sideBuyStr
	case SideSell:
		return sideSellStr
	default:
		return fmt.Sprintf("<unknown side %d>", uint8(s))
	}
}

// Type are the terms of a swap: the exact amount of assets exchanged for an
// exact amount of millisatoshis.
type Type struct {
	Side       Side
	AmountRgb  uint64
	AmountMsat lnwire.MilliSatoshi
}

// NewType returns the terms for amount assets at price millisatoshis per
// unit. An overflowing total is an error.
func NewType(side Side, amount, price uint64) (Type, error) {
	hi, total := bits.Mul64(amount, price)
	if hi != 0 {
		return Type{}, fmt.Errorf("%w: %d*%d overflows",
			ErrUnparsableParts, amount, price)
	}

	return Type{
		Side:       side,
		AmountRgb:  amount,
		AmountMsat: lnwire.MilliSatoshi(total),
	}, nil
}

// Opposite returns the same terms seen from the counterparty.
func (t Type) Opposite() Type {
	opposite := t
	if t.IsBuy() {
		opposite.Side = SideSell
	} else {
		opposite.Side = SideBuy
	}

	return opposite
}

// IsBuy returns true for terms that buy assets.
func (t Type) IsBuy() bool {
	return t.Side == SideBuy
}

// Price returns the price in millisatoshis per asset unit.
func (t Type) Price() (uint64, error) {
	if t.AmountRgb == 0 {
		if t.AmountMsat != 0 {
			return 0, ErrInexactPrice
		}
		return 0, nil
	}

	if uint64(t.AmountMsat)%t.AmountRgb != 0 {
		return 0, ErrInexactPrice
	}

	return uint64(t.AmountMsat) / t.AmountRgb, nil
}

// Trade is a swap agreed out of band for a single payment.
type Trade struct {
	ContractID  rgb.ContractID
	Type        Type
	PaymentHash lntypes.Hash
}

// ParseTrade parses a trade from its encoded form
// amount:contract_id:side:price:payment_hash.
func ParseTrade(s string) (*Trade, error) {
	parts := strings.Split(s, ":")
	if len(parts) != tradeParts {
		return nil, fmt.Errorf("%w: %d", ErrWrongNumberOfParts,
			len(parts))
	}

	amount, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: amount: %v", ErrUnparsableParts, err)
	}

	contractID, err := rgb.NewContractIDFromString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: contract id: %v",
			ErrUnparsableParts, err)
	}

	price, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: price: %v", ErrUnparsableParts, err)
	}

	hashBytes, err := hex.DecodeString(parts[4])
	if err != nil {
		return nil, fmt.Errorf("%w: payment hash: %v",
			ErrUnparsableParts, err)
	}
	paymentHash, err := lntypes.MakeHash(hashBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: payment hash: %v",
			ErrUnparsableParts, err)
	}

	var side Side
	switch parts[2] {
	case sideBuyStr:
		side = SideBuy
	case sideSellStr:
		side = SideSell
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSwapType, parts[2])
	}

	swapType, err := NewType(side, amount, price)
	if err != nil {
		return nil, err
	}

	return &Trade{
		ContractID:  contractID,
		Type:        swapType,
		PaymentHash: paymentHash,
	}, nil
}

// Encode returns the encoded form of the trade that ParseTrade accepts.
func (t *Trade) Encode() (string, error) {
	price, err := t.Type.Price()
	if err != nil {
		return "", err
	}

	return strings.Join([]string{
		strconv.FormatUint(t.Type.AmountRgb, 10),
		t.ContractID.String(),
		t.Type.Side.String(),
		strconv.FormatUint(price, 10),
		t.PaymentHash.String(),
	}, ":"), nil
}
