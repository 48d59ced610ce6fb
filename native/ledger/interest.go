package ledger

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// InterestCurve shapes how the exchange rate translates into a borrow rate.
type InterestCurve uint8

const (
	// CurveNormal applies the rate linearly.
	CurveNormal InterestCurve = iota
	// CurveConservative applies the square root of the rate.
	CurveConservative
	// CurveIntensified applies the square of the rate.
	CurveIntensified
)

func (c InterestCurve) String() string {
	switch c {
	case CurveConservative:
		return "conservative"
	case CurveIntensified:
		return "intensified"
	default:
		return "normal"
	}
}

// ParseInterestCurve maps a configuration string onto a curve.
func ParseInterestCurve(raw string) (InterestCurve, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "normal", "linear":
		return CurveNormal, nil
	case "conservative", "sqrt":
		return CurveConservative, nil
	case "intensified", "squared":
		return CurveIntensified, nil
	default:
		return CurveNormal, fmt.Errorf("unknown interest curve %q", raw)
	}
}

// apply evaluates the curve on a WAD ratio.
func (c InterestCurve) apply(ratio *uint256.Int) (*uint256.Int, error) {
	switch c {
	case CurveConservative:
		scaled, overflow := new(uint256.Int).MulOverflow(ratio, wad)
		if overflow {
			return nil, errMathOverflow
		}
		return scaled.Sqrt(scaled), nil
	case CurveIntensified:
		return mulWadDown(ratio, ratio)
	default:
		return new(uint256.Int).Set(ratio), nil
	}
}

// InterestRate derives the per-second borrow rate from the exchange rate: the
// curve is applied to the rate, the par component removed to leave an annual
// rate, which is spread over a year and capped at maxRate. An uninitialised or
// par rate yields zero.
func InterestRate(exchangeRate *uint256.Int, curve InterestCurve, maxRate *uint256.Int) (*uint256.Int, error) {
	if !exchangeRate.Gt(wad) {
		return new(uint256.Int), nil
	}
	shaped, err := curve.apply(exchangeRate)
	if err != nil {
		return nil, err
	}
	if !shaped.Gt(wad) {
		return new(uint256.Int), nil
	}
	annual := new(uint256.Int).Sub(shaped, wad)
	perSecond := annual.Div(annual, uint256.NewInt(secondsPerYear))
	if maxRate != nil && perSecond.Gt(maxRate) {
		perSecond.Set(maxRate)
	}
	return perSecond, nil
}

// AnnualToPerSecond converts an annual WAD rate into a per-second WAD rate.
func AnnualToPerSecond(annual *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(annual, uint256.NewInt(secondsPerYear))
}
