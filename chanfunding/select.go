package chanfunding

import (
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/wire"
	"github.com/rgbln/rgbsettle/rgb"
)

var (
	// ErrInsufficientAssetFunds is returned when the owned allocations of
	// a contract can't cover the requested amount.
	ErrInsufficientAssetFunds = errors.New("insufficient asset funds")
)

// SelectInputs greedily accumulates allocations in the order they are given
// until their value reaches target. It returns the selected seals and the
// amount selected in excess of target.
func SelectInputs(values []rgb.OwnedValue, target uint64) ([]wire.OutPoint,
	uint64, error) {

	var (
		inputs   []wire.OutPoint
		selected uint64
	)
	for _, v := range values {
		if selected >= target {
			break
		}

		inputs = append(inputs, v.Seal)

		if v.Value > math.MaxUint64-selected {
			selected = math.MaxUint64
			continue
		}
		selected += v.Value
	}

	if selected < target {
		return nil, 0, fmt.Errorf("%w: need %d, have %d",
			ErrInsufficientAssetFunds, target, selected)
	}

	return inputs, selected - target, nil
}
