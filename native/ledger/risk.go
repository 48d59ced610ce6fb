package ledger

import (
	"github.com/holiman/uint256"
)

// Oracle prices holdings in the ledger's native unit. Implementations must be
// side-effect free and deterministic for the duration of a cycle.
type Oracle interface {
	QuoteFungible(kind AssetKind, amount *uint256.Int, data []byte) (*uint256.Int, error)
	QuoteNonFungible(kind AssetKind, item ItemID, data []byte) (*uint256.Int, error)
	DecomposeNonFungible(kind AssetKind, item ItemID, data []byte) ([]AssetKind, []*uint256.Int, error)
}

// AssetRisk is the per-kind risk entry. A nil Oracle means the kind carries no
// collateral value. A zero MarginRatio on a collection selects decomposition.
type AssetRisk struct {
	MarginRatio uint256.Int
	Oracle      Oracle
	OracleData  []byte
}

// RiskParams groups the global limits consumed by the ledger. Rates are WAD
// per second; ratios are WAD fractions.
type RiskParams struct {
	MaxDebtRatio               uint256.Int
	MaxExchangeRateAdjustRatio uint256.Int
	MaxInterestRate            uint256.Int
	FeeRate                    uint256.Int
	Curve                      InterestCurve
}

// RiskConfig supplies risk entries and global parameters.
type RiskConfig interface {
	AssetRisk(kind AssetKind) AssetRisk
	Params() RiskParams
}

// StaticRiskConfig is an in-memory RiskConfig.
type StaticRiskConfig struct {
	Assets map[AssetKind]AssetRisk
	Global RiskParams
}

// NewStaticRiskConfig returns an empty configuration with the given params.
func NewStaticRiskConfig(params RiskParams) *StaticRiskConfig {
	return &StaticRiskConfig{Assets: make(map[AssetKind]AssetRisk), Global: params}
}

// Set registers the risk entry for kind.
func (c *StaticRiskConfig) Set(kind AssetKind, risk AssetRisk) {
	if c.Assets == nil {
		c.Assets = make(map[AssetKind]AssetRisk)
	}
	c.Assets[kind] = risk
}

func (c *StaticRiskConfig) AssetRisk(kind AssetKind) AssetRisk {
	if c == nil {
		return AssetRisk{}
	}
	return c.Assets[kind]
}

func (c *StaticRiskConfig) Params() RiskParams {
	if c == nil {
		return RiskParams{}
	}
	return c.Global
}
