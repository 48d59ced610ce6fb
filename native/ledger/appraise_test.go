package ledger

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

// tableOracle quotes fungible kinds from a per-unit price table and items from
// a per-item table.
type tableOracle struct {
	unit  map[AssetKind]uint64
	items map[ItemID]uint64
	fail  error
}

func (o *tableOracle) QuoteFungible(kind AssetKind, amount *uint256.Int, _ []byte) (*uint256.Int, error) {
	if o.fail != nil {
		return nil, o.fail
	}
	return new(uint256.Int).Mul(amount, uint256.NewInt(o.unit[kind])), nil
}

func (o *tableOracle) QuoteNonFungible(_ AssetKind, item ItemID, _ []byte) (*uint256.Int, error) {
	return uint256.NewInt(o.items[item]), nil
}

func (o *tableOracle) DecomposeNonFungible(AssetKind, ItemID, []byte) ([]AssetKind, []*uint256.Int, error) {
	return nil, nil, errNotDecomposable
}

func TestAppraiseQuoteKindCountsDirectly(t *testing.T) {
	p := NewPosition(1)
	p.AddFungible("NHB", uint256.NewInt(1_000))
	risk := NewStaticRiskConfig(RiskParams{})

	a, err := Appraise(p, risk, "NHB", mustWad(t, "1.5"))
	if err != nil {
		t.Fatalf("appraise: %v", err)
	}
	if a.Value.Uint64() != 1_000 || !a.Margin.IsZero() {
		t.Fatalf("expected value 1000 margin 0, got %s / %s", a.Value.Dec(), a.Margin.Dec())
	}
	solvent, err := a.Solvent(new(uint256.Int), new(uint256.Int))
	if err != nil || !solvent {
		t.Fatalf("debt-free position should be solvent: %v %v", solvent, err)
	}
}

func TestAppraiseMarginRoundsUpAfterConversion(t *testing.T) {
	p := NewPosition(1)
	p.AddFungible("ETH", uint256.NewInt(500))
	risk := NewStaticRiskConfig(RiskParams{})
	entry := AssetRisk{Oracle: FixedPriceOracle{}, OracleData: []byte("1")}
	entry.MarginRatio.Set(mustWad(t, "0.1"))
	risk.Set("ETH", entry)

	a, err := Appraise(p, risk, "NHB", wad)
	if err != nil {
		t.Fatalf("appraise: %v", err)
	}
	if a.Value.Uint64() != 500 {
		t.Fatalf("value %s, want 500", a.Value.Dec())
	}
	if a.Margin.Uint64() != 51 {
		t.Fatalf("margin %s, want 51", a.Margin.Dec())
	}
}

func TestAppraiseSkipsKindsWithoutOracle(t *testing.T) {
	p := NewPosition(1)
	p.AddFungible("DOGE", uint256.NewInt(1_000_000))
	if err := p.AddNonFungible("ART", 1); err != nil {
		t.Fatalf("add item: %v", err)
	}
	risk := NewStaticRiskConfig(RiskParams{})

	a, err := Appraise(p, risk, "NHB", wad)
	if err != nil {
		t.Fatalf("appraise: %v", err)
	}
	if !a.Value.IsZero() || !a.Margin.IsZero() {
		t.Fatalf("unpriced holdings must contribute nothing, got %s / %s", a.Value.Dec(), a.Margin.Dec())
	}
}

func TestAppraiseCollectionsWholeAndDecomposed(t *testing.T) {
	p := NewPosition(1)
	for _, item := range []ItemID{1, 2} {
		if err := p.AddNonFungible("PUNK", item); err != nil {
			t.Fatalf("add punk: %v", err)
		}
	}
	if err := p.AddNonFungible("LP", 7); err != nil {
		t.Fatalf("add lp: %v", err)
	}

	punks := &tableOracle{items: map[ItemID]uint64{1: 100, 2: 300}}
	basket := NewBasketOracle()
	if err := basket.SetItem("LP", 7, []AssetKind{"NHB", "ETH"}, []*uint256.Int{uint256.NewInt(40), uint256.NewInt(10)}); err != nil {
		t.Fatalf("set basket item: %v", err)
	}

	risk := NewStaticRiskConfig(RiskParams{})
	punkRisk := AssetRisk{Oracle: punks}
	punkRisk.MarginRatio.Set(mustWad(t, "0.25"))
	risk.Set("PUNK", punkRisk)
	risk.Set("LP", AssetRisk{Oracle: basket})
	ethRisk := AssetRisk{Oracle: FixedPriceOracle{}, OracleData: []byte("3")}
	ethRisk.MarginRatio.Set(mustWad(t, "0.5"))
	risk.Set("ETH", ethRisk)

	a, err := Appraise(p, risk, "NHB", mustWad(t, "2"))
	if err != nil {
		t.Fatalf("appraise: %v", err)
	}
	// Native value: punks 400 + ETH 30 = 430, converted at 2 -> 860 plus 40 NHB.
	if a.Value.Uint64() != 900 {
		t.Fatalf("value %s, want 900", a.Value.Dec())
	}
	// Native margin: 25 + 75 + 15 = 115, converted at 2 -> 230, plus one.
	if a.Margin.Uint64() != 231 {
		t.Fatalf("margin %s, want 231", a.Margin.Dec())
	}
}

func TestAppraisePropagatesOracleErrors(t *testing.T) {
	p := NewPosition(1)
	p.AddFungible("ETH", uint256.NewInt(5))
	boom := errors.New("oracle offline")
	risk := NewStaticRiskConfig(RiskParams{})
	risk.Set("ETH", AssetRisk{Oracle: &tableOracle{fail: boom}})

	if _, err := Appraise(p, risk, "NHB", wad); !errors.Is(err, boom) {
		t.Fatalf("expected oracle error, got %v", err)
	}
}

func TestAppraisalSolvent(t *testing.T) {
	ratio := mustWad(t, "0.8")
	tests := []struct {
		name    string
		value   uint64
		margin  uint64
		debt    uint64
		solvent bool
	}{
		{"empty", 0, 0, 0, true},
		{"covered", 1_000, 50, 500, true},
		{"margin plus debt exceeds value", 1_000, 600, 500, false},
		{"debt ratio exceeded", 1_000, 0, 801, false},
		{"debt ratio boundary", 1_000, 0, 800, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := Appraisal{Value: uint256.NewInt(tc.value), Margin: uint256.NewInt(tc.margin)}
			got, err := a.Solvent(uint256.NewInt(tc.debt), ratio)
			if err != nil {
				t.Fatalf("solvent: %v", err)
			}
			if got != tc.solvent {
				t.Fatalf("solvent = %v, want %v", got, tc.solvent)
			}
		})
	}
}
