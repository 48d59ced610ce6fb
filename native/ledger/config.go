package ledger

import (
	"fmt"
	"strings"

	"nhbledger/crypto"
)

// Config captures the runtime configuration for the ledger module. Ratios and
// rates are decimal strings converted to WAD when the risk configuration is
// built.
type Config struct {
	QuoteKind                  string        `toml:"QuoteKind" yaml:"quoteKind"`
	LedgerAddress              string        `toml:"LedgerAddress" yaml:"ledgerAddress"`
	MaxDebtRatio               string        `toml:"MaxDebtRatio" yaml:"maxDebtRatio"`
	MaxExchangeRateAdjustRatio string        `toml:"MaxExchangeRateAdjustRatio" yaml:"maxExchangeRateAdjustRatio"`
	MaxAnnualInterestRate      string        `toml:"MaxAnnualInterestRate" yaml:"maxAnnualInterestRate"`
	AnnualFeeRate              string        `toml:"AnnualFeeRate" yaml:"annualFeeRate"`
	InterestCurve              string        `toml:"InterestCurve" yaml:"interestCurve"`
	InitialExchangeRate        string        `toml:"InitialExchangeRate" yaml:"initialExchangeRate"`
	InterestRecipient          string        `toml:"InterestRecipient" yaml:"interestRecipient"`
	FeeRecipient               string        `toml:"FeeRecipient" yaml:"feeRecipient"`
	Assets                     []AssetConfig `toml:"asset" yaml:"assets"`
}

// AssetConfig is one risk entry. An empty Oracle leaves the kind unvalued.
type AssetConfig struct {
	Kind        string `toml:"Kind" yaml:"kind"`
	MarginRatio string `toml:"MarginRatio" yaml:"marginRatio"`
	Oracle      string `toml:"Oracle" yaml:"oracle"`
	OracleData  string `toml:"OracleData" yaml:"oracleData"`
}

// DefaultConfig returns conservative parameters for a single quote asset.
func DefaultConfig() Config {
	return Config{
		QuoteKind:                  "NHB",
		MaxDebtRatio:               "0.8",
		MaxExchangeRateAdjustRatio: "0.01",
		MaxAnnualInterestRate:      "0.5",
		AnnualFeeRate:              "0.005",
		InterestCurve:              CurveNormal.String(),
		InitialExchangeRate:        "1.0001",
	}
}

// EnsureDefaults fills blank fields from DefaultConfig.
func (c *Config) EnsureDefaults() {
	def := DefaultConfig()
	if strings.TrimSpace(c.QuoteKind) == "" {
		c.QuoteKind = def.QuoteKind
	}
	if strings.TrimSpace(c.MaxDebtRatio) == "" {
		c.MaxDebtRatio = def.MaxDebtRatio
	}
	if strings.TrimSpace(c.MaxExchangeRateAdjustRatio) == "" {
		c.MaxExchangeRateAdjustRatio = def.MaxExchangeRateAdjustRatio
	}
	if strings.TrimSpace(c.MaxAnnualInterestRate) == "" {
		c.MaxAnnualInterestRate = def.MaxAnnualInterestRate
	}
	if strings.TrimSpace(c.InterestCurve) == "" {
		c.InterestCurve = def.InterestCurve
	}
}

// Params converts the global limits into their WAD form. Annual rates are
// spread over a year to give per-second rates.
func (c Config) Params() (RiskParams, error) {
	var params RiskParams
	maxDebt, err := ParseWad(c.MaxDebtRatio)
	if err != nil {
		return params, fmt.Errorf("MaxDebtRatio: %w", err)
	}
	if maxDebt.Gt(wad) {
		return params, fmt.Errorf("MaxDebtRatio: %s exceeds 1", c.MaxDebtRatio)
	}
	adjust, err := ParseWad(c.MaxExchangeRateAdjustRatio)
	if err != nil {
		return params, fmt.Errorf("MaxExchangeRateAdjustRatio: %w", err)
	}
	if adjust.Gt(wad) {
		return params, fmt.Errorf("MaxExchangeRateAdjustRatio: %s exceeds 1", c.MaxExchangeRateAdjustRatio)
	}
	maxRate, err := ParseWad(c.MaxAnnualInterestRate)
	if err != nil {
		return params, fmt.Errorf("MaxAnnualInterestRate: %w", err)
	}
	feeRate, err := ParseWad(c.AnnualFeeRate)
	if err != nil {
		return params, fmt.Errorf("AnnualFeeRate: %w", err)
	}
	curve, err := ParseInterestCurve(c.InterestCurve)
	if err != nil {
		return params, fmt.Errorf("InterestCurve: %w", err)
	}
	params.MaxDebtRatio.Set(maxDebt)
	params.MaxExchangeRateAdjustRatio.Set(adjust)
	params.MaxInterestRate.Set(AnnualToPerSecond(maxRate))
	params.FeeRate.Set(AnnualToPerSecond(feeRate))
	params.Curve = curve
	return params, nil
}

// BuildRisk resolves every asset entry against registry.
func (c Config) BuildRisk(registry OracleRegistry) (*StaticRiskConfig, error) {
	params, err := c.Params()
	if err != nil {
		return nil, err
	}
	risk := NewStaticRiskConfig(params)
	seen := make(map[string]struct{}, len(c.Assets))
	for i, asset := range c.Assets {
		kind := strings.TrimSpace(asset.Kind)
		if kind == "" {
			return nil, fmt.Errorf("asset %d: kind required", i)
		}
		if _, dup := seen[kind]; dup {
			return nil, fmt.Errorf("asset %s: duplicate entry", kind)
		}
		seen[kind] = struct{}{}
		ratio, err := ParseWad(asset.MarginRatio)
		if err != nil {
			return nil, fmt.Errorf("asset %s MarginRatio: %w", kind, err)
		}
		if ratio.Gt(wad) {
			return nil, fmt.Errorf("asset %s MarginRatio: %s exceeds 1", kind, asset.MarginRatio)
		}
		oracle, err := registry.Lookup(asset.Oracle)
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", kind, err)
		}
		entry := AssetRisk{Oracle: oracle, OracleData: []byte(asset.OracleData)}
		entry.MarginRatio.Set(ratio)
		risk.Set(AssetKind(kind), entry)
	}
	return risk, nil
}

// Address returns the ledger identity, derived from the module name when not
// configured.
func (c Config) Address() (crypto.Address, error) {
	if strings.TrimSpace(c.LedgerAddress) == "" {
		return crypto.DeriveAddress(crypto.LedgerPrefix, "module/"+moduleName), nil
	}
	return crypto.DecodeAddress(c.LedgerAddress)
}

// Recipients decodes the interest and fee recipients. Blank entries yield the
// zero address.
func (c Config) Recipients() (interest, fee crypto.Address, err error) {
	if interest, err = decodeOptional(c.InterestRecipient); err != nil {
		return interest, fee, fmt.Errorf("InterestRecipient: %w", err)
	}
	if fee, err = decodeOptional(c.FeeRecipient); err != nil {
		return interest, fee, fmt.Errorf("FeeRecipient: %w", err)
	}
	return interest, fee, nil
}

// Validate checks that every field parses.
func (c Config) Validate() error {
	if strings.TrimSpace(c.QuoteKind) == "" {
		return fmt.Errorf("QuoteKind required")
	}
	if _, err := c.BuildRisk(DefaultOracles()); err != nil {
		return err
	}
	if _, err := c.Address(); err != nil {
		return fmt.Errorf("LedgerAddress: %w", err)
	}
	if _, _, err := c.Recipients(); err != nil {
		return err
	}
	if raw := strings.TrimSpace(c.InitialExchangeRate); raw != "" {
		rate, err := ParseWad(raw)
		if err != nil {
			return fmt.Errorf("InitialExchangeRate: %w", err)
		}
		if !rate.Gt(wad) {
			return fmt.Errorf("InitialExchangeRate: %w", ErrRateBelowPar)
		}
	}
	return nil
}

// NewFromConfig assembles a ledger from cfg, resolving oracles through
// registry.
func NewFromConfig(cfg Config, registry OracleRegistry, custody Custody, prices PriceSource) (*Ledger, error) {
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	risk, err := cfg.BuildRisk(registry)
	if err != nil {
		return nil, err
	}
	self, err := cfg.Address()
	if err != nil {
		return nil, err
	}
	l, err := New(self, AssetKind(strings.TrimSpace(cfg.QuoteKind)), risk, custody, prices)
	if err != nil {
		return nil, err
	}
	interest, fee, err := cfg.Recipients()
	if err != nil {
		return nil, err
	}
	l.SetRecipients(interest, fee)
	if raw := strings.TrimSpace(cfg.InitialExchangeRate); raw != "" {
		rate, err := ParseWad(raw)
		if err != nil {
			return nil, err
		}
		if err := l.SetExchangeRate(rate); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func decodeOptional(raw string) (crypto.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return crypto.Address{}, nil
	}
	return crypto.DecodeAddress(raw)
}
