package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Appraisal is the outcome of valuing a position, in quote units.
type Appraisal struct {
	Value  *uint256.Int
	Margin *uint256.Int
}

type appraiser struct {
	risk      RiskConfig
	quoteKind AssetKind

	quoteValue   *uint256.Int
	nativeValue  *uint256.Int
	nativeMargin *uint256.Int
}

// Appraise values every holding of p and returns the total value and margin
// requirement in quote units. The quote kind counts 1:1; other kinds are
// priced in native units by their oracle and converted with exchangeRate.
// Kinds without an oracle contribute nothing. Collections configured with a
// zero margin ratio are decomposed into fungible parts.
func Appraise(p *Position, risk RiskConfig, quoteKind AssetKind, exchangeRate *uint256.Int) (Appraisal, error) {
	a := &appraiser{
		risk:         risk,
		quoteKind:    quoteKind,
		quoteValue:   new(uint256.Int),
		nativeValue:  new(uint256.Int),
		nativeMargin: new(uint256.Int),
	}
	for _, kind := range p.FungibleKinds() {
		if err := a.addFungible(kind, p.Balance(kind)); err != nil {
			return Appraisal{}, err
		}
	}
	for _, kind := range p.Collections() {
		if err := a.addCollection(kind, p.Items(kind)); err != nil {
			return Appraisal{}, err
		}
	}
	return a.result(exchangeRate)
}

func (a *appraiser) addFungible(kind AssetKind, amount *uint256.Int) error {
	if kind == a.quoteKind {
		sum, err := checkedAdd(a.quoteValue, amount)
		if err != nil {
			return fmt.Errorf("appraise %s: %w", kind, err)
		}
		a.quoteValue = sum
		return nil
	}
	risk := a.risk.AssetRisk(kind)
	if risk.Oracle == nil {
		return nil
	}
	value, err := risk.Oracle.QuoteFungible(kind, amount, risk.OracleData)
	if err != nil {
		return fmt.Errorf("quote %s: %w", kind, err)
	}
	return a.accrue(kind, value, &risk.MarginRatio)
}

func (a *appraiser) addCollection(kind AssetKind, items []ItemID) error {
	risk := a.risk.AssetRisk(kind)
	if risk.Oracle == nil {
		return nil
	}
	for _, item := range items {
		if risk.MarginRatio.IsZero() {
			kinds, amounts, err := risk.Oracle.DecomposeNonFungible(kind, item, risk.OracleData)
			if err != nil {
				return fmt.Errorf("decompose %s/%d: %w", kind, item, err)
			}
			if len(kinds) != len(amounts) {
				return fmt.Errorf("decompose %s/%d: %d kinds for %d amounts", kind, item, len(kinds), len(amounts))
			}
			for i, part := range kinds {
				if amounts[i] == nil || amounts[i].IsZero() {
					continue
				}
				if err := a.addFungible(part, amounts[i]); err != nil {
					return err
				}
			}
			continue
		}
		value, err := risk.Oracle.QuoteNonFungible(kind, item, risk.OracleData)
		if err != nil {
			return fmt.Errorf("quote %s/%d: %w", kind, item, err)
		}
		if err := a.accrue(kind, value, &risk.MarginRatio); err != nil {
			return err
		}
	}
	return nil
}

func (a *appraiser) accrue(kind AssetKind, value, ratio *uint256.Int) error {
	if value == nil {
		return nil
	}
	margin, err := mulWadUp(value, ratio)
	if err != nil {
		return fmt.Errorf("margin %s: %w", kind, err)
	}
	if a.nativeValue, err = checkedAdd(a.nativeValue, value); err != nil {
		return fmt.Errorf("value %s: %w", kind, err)
	}
	if a.nativeMargin, err = checkedAdd(a.nativeMargin, margin); err != nil {
		return fmt.Errorf("margin %s: %w", kind, err)
	}
	return nil
}

func (a *appraiser) result(exchangeRate *uint256.Int) (Appraisal, error) {
	converted, err := mulWadDown(a.nativeValue, exchangeRate)
	if err != nil {
		return Appraisal{}, fmt.Errorf("convert value: %w", err)
	}
	value, err := checkedAdd(a.quoteValue, converted)
	if err != nil {
		return Appraisal{}, fmt.Errorf("total value: %w", err)
	}
	margin, err := mulWadUpStrict(a.nativeMargin, exchangeRate)
	if err != nil {
		return Appraisal{}, fmt.Errorf("convert margin: %w", err)
	}
	return Appraisal{Value: value, Margin: margin}, nil
}

// Solvent reports whether the appraisal covers debt plus margin and the debt
// stays within maxDebtRatio of the value.
func (a Appraisal) Solvent(debt, maxDebtRatio *uint256.Int) (bool, error) {
	required, err := checkedAdd(a.Margin, debt)
	if err != nil {
		return false, err
	}
	if a.Value.Lt(required) {
		return false, nil
	}
	ceiling, err := mulWadDown(a.Value, maxDebtRatio)
	if err != nil {
		return false, err
	}
	return !debt.Gt(ceiling), nil
}
