package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
)

// ExchangeRate tracks the smoothed price of the ledger's unit against the
// reference asset. A zero rate means the tracker has not been initialised.
type ExchangeRate struct {
	Rate uint256.Int
}

// Initialized reports whether the tracker holds a rate.
func (e *ExchangeRate) Initialized() bool { return !e.Rate.IsZero() }

// Adjust moves the rate toward target by at most maxAdjustRatio of the current
// rate unless forceFullJump is set or the tracker is uninitialised. A target
// at or below par breaks the appreciation invariant and panics.
func (e *ExchangeRate) Adjust(target *uint256.Int, forceFullJump bool, maxAdjustRatio *uint256.Int) error {
	if !target.Gt(wad) {
		panic(fmt.Sprintf("ledger: exchange rate target %s not above par", target.Dec()))
	}
	if forceFullJump || !e.Initialized() {
		e.Rate.Set(target)
		return nil
	}
	step, err := mulWadDown(&e.Rate, maxAdjustRatio)
	if err != nil {
		return fmt.Errorf("exchange rate step: %w", err)
	}
	switch {
	case target.Gt(&e.Rate):
		ceiling, err := checkedAdd(&e.Rate, step)
		if err != nil {
			return fmt.Errorf("exchange rate ceiling: %w", err)
		}
		e.Rate.Set(minInt(target, ceiling))
	case target.Lt(&e.Rate):
		floor := new(uint256.Int)
		if step.Lt(&e.Rate) {
			floor.Sub(&e.Rate, step)
		}
		e.Rate.Set(maxInt(target, floor))
	}
	return nil
}
