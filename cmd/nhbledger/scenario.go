package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"nhbledger/crypto"
	"nhbledger/native/ledger"
)

// Scenario is a batch of ledger steps executed inside one checkpoint cycle.
type Scenario struct {
	// Advance moves the ledger clock forward before the cycle, in seconds.
	Advance int64 `yaml:"advance"`
	// Rate, when set, is the observed exchange rate for the cycle.
	Rate  string `yaml:"rate"`
	Steps []Step `yaml:"steps"`
}

// Step is one entry point call. Identities are bech32 addresses or labels
// hashed into an address.
type Step struct {
	Op         string `yaml:"op"`
	ID         uint64 `yaml:"id"`
	Caller     string `yaml:"caller"`
	Owner      string `yaml:"owner"`
	Originator string `yaml:"originator"`
	To         string `yaml:"to"`
	Kind       string `yaml:"kind"`
	Amount     string `yaml:"amount"`
	Item       uint64 `yaml:"item"`
}

// LoadScenario decodes a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer file.Close()

	var sc Scenario
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario has no steps")
	}
	return &sc, nil
}

// Action returns the cycle action executing every step in order. External
// transfers into custody are simulated for deposits and repayments.
func (sc *Scenario) Action(l *ledger.Ledger, custody *ledger.MemoryCustody) ledger.Action {
	return func(_ context.Context, _ []byte) ([]byte, error) {
		for i, step := range sc.Steps {
			if err := step.apply(l, custody); err != nil {
				return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
			}
		}
		return nil, nil
	}
}

func (s Step) apply(l *ledger.Ledger, custody *ledger.MemoryCustody) error {
	id := ledger.PositionID(s.ID)
	kind := ledger.AssetKind(strings.TrimSpace(s.Kind))
	switch strings.ToLower(strings.TrimSpace(s.Op)) {
	case "open":
		owner, err := identity(s.Owner)
		if err != nil {
			return err
		}
		originator, err := identity(s.Originator)
		if err != nil {
			return err
		}
		return l.OpenPosition(id, owner, originator)
	case "close":
		caller, err := identity(s.Caller)
		if err != nil {
			return err
		}
		return l.ClosePosition(caller, id)
	case "deposit":
		amount, err := parseAmount(s.Amount)
		if err != nil {
			return err
		}
		custody.Fund(kind, amount)
		return l.DepositFungible(id, kind, amount)
	case "deposit_item":
		custody.FundItem(kind, ledger.ItemID(s.Item))
		return l.DepositNonFungible(id, kind, ledger.ItemID(s.Item))
	case "withdraw":
		caller, to, err := s.callerAndRecipient()
		if err != nil {
			return err
		}
		amount, err := parseAmount(s.Amount)
		if err != nil {
			return err
		}
		return l.WithdrawFungible(caller, id, kind, amount, to)
	case "withdraw_item":
		caller, to, err := s.callerAndRecipient()
		if err != nil {
			return err
		}
		return l.WithdrawNonFungible(caller, id, kind, ledger.ItemID(s.Item), to)
	case "borrow":
		caller, to, err := s.callerAndRecipient()
		if err != nil {
			return err
		}
		amount, err := parseAmount(s.Amount)
		if err != nil {
			return err
		}
		return l.Borrow(caller, id, amount, to)
	case "repay":
		amount, err := parseAmount(s.Amount)
		if err != nil {
			return err
		}
		custody.Fund(l.QuoteKind(), amount)
		_, err = l.Repay(id, amount)
		return err
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
}

func (s Step) callerAndRecipient() (crypto.Address, crypto.Address, error) {
	caller, err := identity(s.Caller)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, err
	}
	to, err := identity(s.To)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, err
	}
	return caller, to, nil
}

func identity(raw string) (crypto.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return crypto.Address{}, nil
	}
	if addr, err := crypto.DecodeAddress(raw); err == nil {
		return addr, nil
	}
	if strings.ContainsAny(raw, " \t") {
		return crypto.Address{}, fmt.Errorf("invalid identity %q", raw)
	}
	return crypto.DeriveAddress(crypto.NHBPrefix, raw), nil
}

func parseAmount(raw string) (*uint256.Int, error) {
	amount := new(uint256.Int)
	if err := amount.SetFromDecimal(strings.TrimSpace(raw)); err != nil {
		return nil, fmt.Errorf("amount %q: %w", raw, err)
	}
	return amount, nil
}
