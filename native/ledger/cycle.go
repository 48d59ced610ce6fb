package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nhbledger/core/events"
	"nhbledger/crypto"
)

// Action is the untrusted callback run once per cycle. It may call any entry
// point on the ledger, including Unlock, which it will find locked.
type Action func(ctx context.Context, data []byte) ([]byte, error)

// CycleReport summarises a committed cycle.
type CycleReport struct {
	ID           string
	Touched      []PositionID
	Settlements  int
	Interest     *uint256.Int
	Fees         *uint256.Int
	ExchangeRate *uint256.Int
}

// Unlock runs one checkpoint cycle: accrue and disburse interest, move the
// exchange rate toward the observed price, hand control to action, then
// re-validate every touched position. Any failure restores the ledger to its
// state before the call and drops all queued settlements.
//
// Settlement starts only after every queued movement has been checked against
// custody. A movement that custody still rejects does not undo the commit: it
// and the movements after it are kept, retried at the start of the next cycle
// and reported through ErrSettlementIncomplete. A persistence failure is also
// returned alongside the result; the in-memory commit stands and the positions
// it wrote are retried by the next commit or Flush.
func (l *Ledger) Unlock(ctx context.Context, action Action, data []byte) ([]byte, error) {
	if err := l.guard(); err != nil {
		return nil, err
	}
	if action == nil {
		return nil, fmt.Errorf("unlock: %w", ErrNilCollaborator)
	}
	if err := l.checkpoint.Begin(); err != nil {
		return nil, err
	}
	report := CycleReport{ID: uuid.NewString()}
	ctx, span := l.tracer.Start(ctx, "ledger.cycle", trace.WithAttributes(attribute.String("ledger.cycle_id", report.ID)))
	defer span.End()

	logger := l.logger.With("cycle_id", report.ID)
	l.retryOwed(logger)
	l.beginJournal()
	l.pending.reset()
	logger.Debug("ledger cycle started")

	result, err := l.run(ctx, action, data, &report)
	if err != nil {
		l.abort(report.ID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("ledger cycle aborted", "error", err)
		return nil, err
	}

	dirty := append(l.unsaved.Keys(), l.journal.dirty()...)
	l.totals.Cycles++
	l.last = report
	held := l.release()
	var errs []error
	if err := l.settle(); err != nil {
		logger.Error("ledger settlement incomplete", "error", err, "owed", len(l.owed.queue))
		errs = append(errs, fmt.Errorf("settle cycle %s: %w", report.ID, err))
	}
	l.pending.reset()
	l.checkpoint.Finish()

	span.SetAttributes(
		attribute.Int("ledger.touched", len(report.Touched)),
		attribute.Int("ledger.settlements", report.Settlements),
	)
	l.metrics.ObserveCycle("committed", len(report.Touched))
	l.publishAccrual()
	for _, evt := range held {
		l.emit(evt)
	}
	logger.Info("ledger cycle committed",
		"touched", len(report.Touched),
		"settlements", report.Settlements,
		"interest", report.Interest.Dec(),
		"fees", report.Fees.Dec())
	l.emit(events.LedgerCycleCommitted{
		CycleID:      report.ID,
		Touched:      len(report.Touched),
		Settlements:  report.Settlements,
		ExchangeRate: report.ExchangeRate.Dec(),
		Interest:     report.Interest.Dec(),
		Fees:         report.Fees.Dec(),
	})

	if err := l.persist(dirty); err != nil {
		logger.Error("ledger persist failed", "error", err)
		errs = append(errs, fmt.Errorf("persist cycle %s: %w", report.ID, err))
	}
	return result, errors.Join(errs...)
}

// Flush persists positions opened or closed outside a cycle.
func (l *Ledger) Flush() error {
	if l.checkpoint.InCycle() {
		return ErrReentrantCycle
	}
	return l.persist(l.unsaved.Keys())
}

func (l *Ledger) persist(dirty []PositionID) error {
	if l.store == nil {
		return nil
	}
	if err := l.store.Commit(l, dirty); err != nil {
		for _, id := range dirty {
			l.unsaved.Insert(id)
		}
		return err
	}
	l.unsaved.Clear()
	return nil
}

// settle executes the queued movements of a validated cycle. Movements from
// the first rejected one onwards are carried into the owed queue.
func (l *Ledger) settle() error {
	queue := l.pending.queue
	applied, err := l.pending.execute(l.custody)
	for _, s := range queue[:applied] {
		l.metrics.RecordSettlement(s.kind.String())
	}
	if err == nil {
		return nil
	}
	for _, s := range queue[applied:] {
		l.owed.add(s)
	}
	return fmt.Errorf("%w after %d of %d movements: %w", ErrSettlementIncomplete, applied, len(queue), err)
}

// retryOwed replays movements left over by earlier cycles. Whatever custody
// still rejects stays owed.
func (l *Ledger) retryOwed(logger *slog.Logger) {
	if len(l.owed.queue) == 0 {
		return
	}
	retry := l.owed
	l.owed = pendingSettlements{}
	applied, err := retry.execute(l.custody)
	for _, s := range retry.queue[:applied] {
		l.metrics.RecordSettlement(s.kind.String())
	}
	if err != nil {
		for _, s := range retry.queue[applied:] {
			l.owed.add(s)
		}
		logger.Warn("ledger owed settlements still failing", "error", err, "owed", len(l.owed.queue))
		return
	}
	logger.Info("ledger owed settlements applied", "settlements", applied)
}

// Owed returns the number of settlements still waiting on custody.
func (l *Ledger) Owed() int { return len(l.owed.queue) }

// LastCycle returns the summary of the most recent committed cycle.
func (l *Ledger) LastCycle() CycleReport { return l.last }

func (l *Ledger) run(ctx context.Context, action Action, data []byte, report *CycleReport) ([]byte, error) {
	params := l.risk.Params()

	interest, fees, err := l.accrue(&params)
	if err != nil {
		return nil, err
	}
	report.Interest, report.Fees = interest, fees

	if err := l.adjustRate(ctx, &params); err != nil {
		return nil, err
	}
	report.ExchangeRate = l.ExchangeRate()

	result, err := action(ctx, data)
	if err != nil {
		return nil, err
	}

	report.Touched = l.checkpoint.Touched()
	if err := l.validate(report.Touched, &params.MaxDebtRatio); err != nil {
		return nil, err
	}

	report.Settlements = len(l.pending.queue)
	if err := l.pending.check(l.custody, &l.owed); err != nil {
		return nil, err
	}
	return result, nil
}

// accrue grows the deflator and queues the interest and fees it produced on
// the aggregate debt. The growth of the nominal aggregate debt is split into
// the interest share and the remainder, which is booked as fees.
func (l *Ledger) accrue(params *RiskParams) (*uint256.Int, *uint256.Int, error) {
	before, err := l.deflator.Combined()
	if err != nil {
		return nil, nil, err
	}
	rate, err := InterestRate(&l.rate.Rate, params.Curve, &params.MaxInterestRate)
	if err != nil {
		return nil, nil, fmt.Errorf("interest rate: %w", err)
	}
	interestGrowth, _, err := l.deflator.Grow(l.nowFn().Unix(), rate, &params.FeeRate)
	if err != nil {
		return nil, nil, err
	}
	after, err := l.deflator.Combined()
	if err != nil {
		return nil, nil, err
	}

	debtBefore, err := mulWadDown(&l.global.RealDebt, before)
	if err != nil {
		return nil, nil, err
	}
	debtAfter, err := mulWadDown(&l.global.RealDebt, after)
	if err != nil {
		return nil, nil, err
	}
	accrued := new(uint256.Int)
	if debtAfter.Gt(debtBefore) {
		accrued.Sub(debtAfter, debtBefore)
	}
	interest, err := mulWadDown(debtBefore, interestGrowth)
	if err != nil {
		return nil, nil, err
	}
	interest = minInt(interest, accrued)
	fees := new(uint256.Int).Sub(accrued, interest)

	if err := l.disburse(&l.totals.InterestDisbursed, interest, l.interestRecipient); err != nil {
		return nil, nil, fmt.Errorf("disburse interest: %w", err)
	}
	if err := l.disburse(&l.totals.FeesDisbursed, fees, l.feeRecipient); err != nil {
		return nil, nil, fmt.Errorf("disburse fees: %w", err)
	}
	return interest, fees, nil
}

// disburse books amount against total and queues its issuance to the
// recipient when one is configured.
func (l *Ledger) disburse(total, amount *uint256.Int, to crypto.Address) error {
	if amount.IsZero() {
		return nil
	}
	sum, err := checkedAdd(total, amount)
	if err != nil {
		return err
	}
	total.Set(sum)
	if !to.IsZero() {
		l.pending.issue(to, l.quoteKind, amount)
	}
	return nil
}

// adjustRate moves the exchange rate toward the observed price. An
// uninitialised tracker jumps straight to it.
func (l *Ledger) adjustRate(ctx context.Context, params *RiskParams) error {
	if l.prices == nil {
		return nil
	}
	observed, err := l.prices.ObservedRate(ctx)
	if err != nil {
		return fmt.Errorf("observe exchange rate: %w", err)
	}
	if observed == nil || !observed.Gt(wad) {
		return ErrRateBelowPar
	}
	if err := l.rate.Adjust(observed, !l.rate.Initialized(), &params.MaxExchangeRateAdjustRatio); err != nil {
		return fmt.Errorf("adjust exchange rate: %w", err)
	}
	return nil
}

// validate appraises each touched position in insertion order and fails on the
// first one that is not solvent. Positions closed during the cycle are
// skipped.
func (l *Ledger) validate(touched []PositionID, maxDebtRatio *uint256.Int) error {
	for _, id := range touched {
		p, ok := l.positions[id]
		if !ok {
			continue
		}
		appraisal, debt, err := l.appraise(p)
		if err != nil {
			return fmt.Errorf("appraise position %d: %w", id, err)
		}
		solvent, err := appraisal.Solvent(debt, maxDebtRatio)
		if err != nil {
			return fmt.Errorf("solvency of position %d: %w", id, err)
		}
		if !solvent {
			l.metrics.RecordAtRisk()
			return &PositionAtRiskError{ID: id, Value: appraisal.Value, Margin: appraisal.Margin, Debt: debt}
		}
	}
	return nil
}

func (l *Ledger) abort(cycleID string, cause error) {
	l.rollback()
	l.pending.reset()
	l.checkpoint.Finish()
	l.metrics.ObserveCycle("aborted", 0)

	evt := events.LedgerCycleAborted{CycleID: cycleID, Reason: cause.Error()}
	var risk *PositionAtRiskError
	if errors.As(cause, &risk) {
		id := uint64(risk.ID)
		evt.PositionID = &id
	}
	l.emit(evt)
}

func (l *Ledger) publishAccrual() {
	if l.metrics == nil {
		return
	}
	l.metrics.SetAccrual(wadToFloat(&l.rate.Rate), wadToFloat(&l.deflator.Interest), wadToFloat(&l.deflator.Fee))
	l.metrics.SetOpenPositions(len(l.positions))
}

func wadToFloat(v *uint256.Int) float64 {
	return decimal.NewFromBigInt(v.ToBig(), -18).InexactFloat64()
}
