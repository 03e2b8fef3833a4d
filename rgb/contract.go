package rgb

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const (
	// ContractIDHRP is the human readable part used when encoding a
	// contract ID as a bech32m string.
	ContractIDHRP = "rgb"

	// ContractIDSize is the size of a contract ID in bytes.
	ContractIDSize = 32
)

var (
	// ErrInvalidContractID is returned when a string cannot be decoded
	// into a contract ID.
	ErrInvalidContractID = errors.New("invalid contract id")
)

// ContractID uniquely identifies an RGB contract. All allocations of an asset
// are bound to the contract they were issued under.
type ContractID [ContractIDSize]byte

// String returns the bech32m encoding of the contract ID.
func (c ContractID) String() string {
	conv, err := bech32.ConvertBits(c[:], 8, 5, true)
	if err != nil {
		// Converting 32 bytes to base32 can't fail.
		panic(err)
	}

	s, err := bech32.EncodeM(ContractIDHRP, conv)
	if err != nil {
		panic(err)
	}

	return s
}

// IsZero returns true if the contract ID is all zeroes.
func (c ContractID) IsZero() bool {
	return c == ContractID{}
}

// NewContractIDFromString parses a contract ID either from its bech32m form
// or from a 64 character hex string.
func NewContractIDFromString(s string) (ContractID, error) {
	var id ContractID

	if len(s) == hex.EncodedLen(ContractIDSize) &&
		!strings.HasPrefix(s, ContractIDHRP+"1") {

		raw, err := hex.DecodeString(s)
		if err != nil {
			return id, fmt.Errorf("%w: %v", ErrInvalidContractID,
				err)
		}
		copy(id[:], raw)

		return id, nil
	}

	hrp, data, version, err := bech32.DecodeGeneric(s)
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidContractID, err)
	}
	if hrp != ContractIDHRP {
		return id, fmt.Errorf("%w: unexpected hrp %q",
			ErrInvalidContractID, hrp)
	}
	if version != bech32.VersionM {
		return id, fmt.Errorf("%w: expected bech32m encoding",
			ErrInvalidContractID)
	}

	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidContractID, err)
	}
	if len(raw) != ContractIDSize {
		return id, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidContractID, ContractIDSize, len(raw))
	}
	copy(id[:], raw)

	return id, nil
}
