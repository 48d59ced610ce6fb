package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"nhbledger/internal/ledgernode"
	"nhbledger/config"
	"nhbledger/native/ledger"
	"nhbledger/observability/logging"
	"nhbledger/storage"
)

type positionSummary struct {
	ID          uint64 `json:"id"`
	Owner       string `json:"owner"`
	RealDebt    string `json:"realDebt"`
	NominalDebt string `json:"nominalDebt"`
	Value       string `json:"value"`
	Margin      string `json:"margin"`
}

type summary struct {
	CycleID      string            `json:"cycleId"`
	Touched      []uint64          `json:"touched"`
	Settlements  int               `json:"settlements"`
	Interest     string            `json:"interest"`
	Fees         string            `json:"fees"`
	ExchangeRate string            `json:"exchangeRate"`
	Positions    []positionSummary `json:"positions"`
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	scenarioFile := flag.String("scenario", "", "Path to a YAML scenario executed as one cycle")
	dryRun := flag.Bool("dry-run", false, "Run against an in-memory copy and discard the result")
	flag.Parse()

	if err := run(*configFile, *scenarioFile, *dryRun, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "nhbledger: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, scenarioPath string, dryRun bool, out io.Writer) error {
	if scenarioPath == "" {
		return fmt.Errorf("-scenario is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// Logs go to stderr so stdout carries only the JSON summary.
	logger := slog.New(logging.NewHandler(os.Stderr, slog.LevelWarn)).With("service", "nhbledger", "env", cfg.Environment)

	sc, err := LoadScenario(scenarioPath)
	if err != nil {
		return err
	}

	node, err := openNode(cfg, dryRun, logger)
	if err != nil {
		return err
	}
	defer node.Close()

	l := node.Ledger
	base := time.Now()
	if last := l.Deflator().LastUpdate; last > base.Unix() {
		base = time.Unix(last, 0)
	}
	at := base.Add(time.Duration(sc.Advance) * time.Second)
	l.SetClock(func() time.Time { return at })
	if sc.Rate != "" {
		rate, err := ledger.ParseWad(sc.Rate)
		if err != nil {
			return fmt.Errorf("scenario rate: %w", err)
		}
		l.SetPriceSource(ledger.NewStaticPriceSource(rate))
	}

	if _, err := l.Unlock(context.Background(), sc.Action(l, node.Custody), nil); err != nil {
		return fmt.Errorf("cycle aborted: %w", err)
	}
	report, err := summarize(l)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func openNode(cfg *config.Config, dryRun bool, logger *slog.Logger) (*ledgernode.Node, error) {
	if !dryRun {
		return ledgernode.Open(cfg, logger)
	}
	return ledgernode.OpenWith(cfg, storage.NewMemDB(), logger)
}

func summarize(l *ledger.Ledger) (summary, error) {
	last := l.LastCycle()
	out := summary{
		CycleID:      last.ID,
		Touched:      make([]uint64, len(last.Touched)),
		Settlements:  last.Settlements,
		Interest:     last.Interest.Dec(),
		Fees:         last.Fees.Dec(),
		ExchangeRate: ledger.FormatWad(last.ExchangeRate),
		Positions:    []positionSummary{},
	}
	for i, id := range last.Touched {
		out.Touched[i] = uint64(id)
	}
	for _, id := range l.PositionIDs() {
		p, _ := l.Position(id)
		appraisal, debt, err := l.Appraise(id)
		if err != nil {
			return summary{}, fmt.Errorf("appraise %d: %w", id, err)
		}
		out.Positions = append(out.Positions, positionSummary{
			ID:          uint64(id),
			Owner:       p.Owner.String(),
			RealDebt:    p.RealDebt.Dec(),
			NominalDebt: debt.Dec(),
			Value:       appraisal.Value.Dec(),
			Margin:      appraisal.Margin.Dec(),
		})
	}
	return out, nil
}
