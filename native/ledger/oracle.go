package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	errOracleData        = errors.New("oracle: malformed oracle data")
	errNotDecomposable   = errors.New("oracle: kind cannot be decomposed")
	errNotQuotable       = errors.New("oracle: kind cannot be quoted")
	errUnknownOracleName = errors.New("oracle: unknown oracle")
)

// ParseWad converts a non-negative decimal string such as "0.1" into its WAD
// representation. More than eighteen fractional digits is an error.
func ParseWad(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", raw, err)
	}
	return decimalToWad(d)
}

func decimalToWad(d decimal.Decimal) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("negative value %s", d.String())
	}
	scaled := d.Shift(18)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("value %s exceeds 18 decimal places", d.String())
	}
	out, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, errMathOverflow
	}
	return out, nil
}

// FormatWad renders a WAD value as a decimal string.
func FormatWad(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -18).String()
}

// FixedPriceOracle prices every unit of a kind at a constant taken from its
// oracle data: a decimal price in native units. Fungible amounts are scaled by
// the price; each non-fungible item is worth the whole-unit part of it.
type FixedPriceOracle struct{}

func (FixedPriceOracle) QuoteFungible(kind AssetKind, amount *uint256.Int, data []byte) (*uint256.Int, error) {
	price, err := ParseWad(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %v", errOracleData, kind, err)
	}
	return mulWadDown(amount, price)
}

func (FixedPriceOracle) QuoteNonFungible(kind AssetKind, _ ItemID, data []byte) (*uint256.Int, error) {
	price, err := ParseWad(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %v", errOracleData, kind, err)
	}
	return new(uint256.Int).Div(price, wad), nil
}

func (FixedPriceOracle) DecomposeNonFungible(kind AssetKind, _ ItemID, _ []byte) ([]AssetKind, []*uint256.Int, error) {
	return nil, nil, fmt.Errorf("%w: %s", errNotDecomposable, kind)
}

// BasketOracle decomposes non-fungible items into fungible parts. The oracle
// data lists the default composition of every item as "KIND:amount,...";
// individual items can be overridden with SetItem.
type BasketOracle struct {
	items map[itemKey][]basketPart
}

type basketPart struct {
	kind   AssetKind
	amount uint256.Int
}

// NewBasketOracle returns an oracle with no per-item overrides.
func NewBasketOracle() *BasketOracle {
	return &BasketOracle{items: make(map[itemKey][]basketPart)}
}

// SetItem fixes the composition of a single item.
func (b *BasketOracle) SetItem(kind AssetKind, item ItemID, kinds []AssetKind, amounts []*uint256.Int) error {
	if len(kinds) != len(amounts) {
		return fmt.Errorf("%w: %d kinds for %d amounts", errOracleData, len(kinds), len(amounts))
	}
	parts := make([]basketPart, len(kinds))
	for i := range kinds {
		parts[i].kind = kinds[i]
		parts[i].amount.Set(amounts[i])
	}
	if b.items == nil {
		b.items = make(map[itemKey][]basketPart)
	}
	b.items[itemKey{kind: kind, item: item}] = parts
	return nil
}

func (b *BasketOracle) QuoteFungible(kind AssetKind, _ *uint256.Int, _ []byte) (*uint256.Int, error) {
	return nil, fmt.Errorf("%w: %s", errNotQuotable, kind)
}

func (b *BasketOracle) QuoteNonFungible(kind AssetKind, item ItemID, _ []byte) (*uint256.Int, error) {
	return nil, fmt.Errorf("%w: %s/%d", errNotQuotable, kind, item)
}

func (b *BasketOracle) DecomposeNonFungible(kind AssetKind, item ItemID, data []byte) ([]AssetKind, []*uint256.Int, error) {
	parts, ok := b.items[itemKey{kind: kind, item: item}]
	if !ok {
		var err error
		if parts, err = parseBasket(string(data)); err != nil {
			return nil, nil, fmt.Errorf("basket %s: %w", kind, err)
		}
	}
	kinds := make([]AssetKind, len(parts))
	amounts := make([]*uint256.Int, len(parts))
	for i := range parts {
		kinds[i] = parts[i].kind
		amounts[i] = new(uint256.Int).Set(&parts[i].amount)
	}
	return kinds, amounts, nil
}

func parseBasket(raw string) ([]basketPart, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	fields := strings.Split(raw, ",")
	parts := make([]basketPart, 0, len(fields))
	for _, field := range fields {
		kind, amount, ok := strings.Cut(strings.TrimSpace(field), ":")
		kind = strings.TrimSpace(kind)
		if !ok || kind == "" {
			return nil, fmt.Errorf("%w: %q", errOracleData, field)
		}
		var part basketPart
		part.kind = AssetKind(kind)
		if err := part.amount.SetFromDecimal(strings.TrimSpace(amount)); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", errOracleData, field, err)
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// OracleRegistry resolves oracle names used in configuration.
type OracleRegistry map[string]Oracle

// DefaultOracles returns the built-in oracles keyed by configuration name.
func DefaultOracles() OracleRegistry {
	return OracleRegistry{
		"fixed":  FixedPriceOracle{},
		"basket": NewBasketOracle(),
	}
}

// Lookup returns the oracle registered under name. An empty name resolves to
// no oracle, which leaves the kind unvalued.
func (r OracleRegistry) Lookup(name string) (Oracle, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "none" {
		return nil, nil
	}
	oracle, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", errUnknownOracleName, name)
	}
	return oracle, nil
}
