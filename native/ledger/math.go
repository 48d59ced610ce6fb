package ledger

import (
	"errors"

	"github.com/holiman/uint256"
)

// Wad is the fixed-point identity (1.0) used by every ratio, rate and
// multiplier in the ledger.
const Wad = 1_000_000_000_000_000_000

const secondsPerYear = 31_536_000

var (
	wad             = uint256.NewInt(Wad)
	errMathOverflow = errors.New("ledger: arithmetic overflow")
	errDivByZero    = errors.New("ledger: division by zero")
)

// WadFromUint64 scales an integer quantity into the ledger's fixed-point unit.
func WadFromUint64(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), wad)
}

// mulWadDown returns floor(x*y/WAD).
func mulWadDown(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, wad)
	if overflow {
		return nil, errMathOverflow
	}
	return z, nil
}

// mulWadUp returns ceil(x*y/WAD).
func mulWadUp(x, y *uint256.Int) (*uint256.Int, error) {
	z, err := mulWadDown(x, y)
	if err != nil {
		return nil, err
	}
	if !new(uint256.Int).MulMod(x, y, wad).IsZero() {
		return checkedAdd(z, uint256.NewInt(1))
	}
	return z, nil
}

// mulWadUpStrict returns floor(x*y/WAD)+1 for a non-zero product and zero
// otherwise, so the result is strictly above the exact value whenever there is
// anything to round.
func mulWadUpStrict(x, y *uint256.Int) (*uint256.Int, error) {
	if x.IsZero() || y.IsZero() {
		return new(uint256.Int), nil
	}
	z, err := mulWadDown(x, y)
	if err != nil {
		return nil, err
	}
	return checkedAdd(z, uint256.NewInt(1))
}

// divWadDown returns floor(x*WAD/y).
func divWadDown(x, y *uint256.Int) (*uint256.Int, error) {
	if y.IsZero() {
		return nil, errDivByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, wad, y)
	if overflow {
		return nil, errMathOverflow
	}
	return z, nil
}

// divWadUp returns ceil(x*WAD/y).
func divWadUp(x, y *uint256.Int) (*uint256.Int, error) {
	z, err := divWadDown(x, y)
	if err != nil {
		return nil, err
	}
	if !new(uint256.Int).MulMod(x, wad, y).IsZero() {
		return checkedAdd(z, uint256.NewInt(1))
	}
	return z, nil
}

func checkedAdd(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, errMathOverflow
	}
	return z, nil
}

func checkedSub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, errMathOverflow
	}
	return z, nil
}

func minInt(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return new(uint256.Int).Set(x)
	}
	return new(uint256.Int).Set(y)
}

func maxInt(x, y *uint256.Int) *uint256.Int {
	if x.Gt(y) {
		return new(uint256.Int).Set(x)
	}
	return new(uint256.Int).Set(y)
}
