package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Deflator holds the process-wide interest and fee multipliers. Every
// position's nominal debt is its real debt scaled by the combined multiplier,
// so advancing the multipliers accrues interest on all positions at once.
type Deflator struct {
	Interest   uint256.Int
	Fee        uint256.Int
	LastUpdate int64
}

// NewDeflator returns multipliers at identity.
func NewDeflator() Deflator {
	var d Deflator
	d.Interest.Set(wad)
	d.Fee.Set(wad)
	return d
}

// Grow advances both multipliers by the time elapsed since the last update.
// Within one call growth is linear in elapsed time (rate*dt); across calls it
// compounds because each call scales the stored multiplier. The increments
// applied to the interest and fee multipliers are returned. The first call
// only records the starting time.
func (d *Deflator) Grow(now int64, interestRate, feeRate *uint256.Int) (interestGrowth, feeGrowth *uint256.Int, err error) {
	interestGrowth, feeGrowth = new(uint256.Int), new(uint256.Int)
	if d.LastUpdate == 0 || now <= d.LastUpdate {
		if d.LastUpdate == 0 {
			d.LastUpdate = now
		}
		return interestGrowth, feeGrowth, nil
	}
	elapsed := uint256.NewInt(uint64(now - d.LastUpdate))

	interestGrowth, err = growMultiplier(&d.Interest, interestRate, elapsed)
	if err != nil {
		return nil, nil, fmt.Errorf("grow interest multiplier: %w", err)
	}
	feeGrowth, err = growMultiplier(&d.Fee, feeRate, elapsed)
	if err != nil {
		return nil, nil, fmt.Errorf("grow fee multiplier: %w", err)
	}
	d.LastUpdate = now
	return interestGrowth, feeGrowth, nil
}

func growMultiplier(m, rate, elapsed *uint256.Int) (*uint256.Int, error) {
	growth, overflow := new(uint256.Int).MulOverflow(rate, elapsed)
	if overflow {
		return nil, errMathOverflow
	}
	if growth.IsZero() {
		return growth, nil
	}
	factor, err := checkedAdd(wad, growth)
	if err != nil {
		return nil, err
	}
	next, err := mulWadDown(m, factor)
	if err != nil {
		return nil, err
	}
	m.Set(next)
	return growth, nil
}

// Combined returns the multiplier applied to real debt, interest times fee.
func (d *Deflator) Combined() (*uint256.Int, error) {
	return mulWadDown(&d.Interest, &d.Fee)
}
