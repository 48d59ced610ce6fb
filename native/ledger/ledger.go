package ledger

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"nhbledger/core/events"
	"nhbledger/crypto"
	nativecommon "nhbledger/native/common"
	"nhbledger/observability/metrics"
)

const moduleName = "ledger"

// Totals aggregates lifetime counters that roll back with a cycle.
type Totals struct {
	InterestDisbursed uint256.Int
	FeesDisbursed     uint256.Int
	Cycles            uint64
}

// Ledger is the single state aggregate of the collateral ledger. It owns the
// position table, the aggregate position, the deflator and the exchange rate
// and composes the checkpoint controller, custody and risk services behind the
// entry points.
//
// A Ledger is not safe for concurrent use. Actions run inside Unlock call back
// into the same instance, so callers exposing it concurrently serialise access
// around whole calls.
type Ledger struct {
	self      crypto.Address
	quoteKind AssetKind
	risk      RiskConfig
	custody   Custody
	prices    PriceSource

	positions map[PositionID]*Position
	global    *Position
	deflator  Deflator
	rate      ExchangeRate
	totals    Totals
	last      CycleReport

	checkpoint Checkpoint
	pending    pendingSettlements
	owed       pendingSettlements
	journal    *journal
	unsaved    nativecommon.IndexedSet[PositionID]

	interestRecipient crypto.Address
	feeRecipient      crypto.Address

	pauses  nativecommon.PauseView
	emitter events.Emitter
	store   *Store
	logger  *slog.Logger
	metrics *metrics.LedgerMetrics
	tracer  trace.Tracer
	nowFn   func() time.Time
}

// New constructs a ledger owned by self that values positions in quoteKind.
// The price source is optional; without one the exchange rate only moves
// through SetExchangeRate.
func New(self crypto.Address, quoteKind AssetKind, risk RiskConfig, custody Custody, prices PriceSource) (*Ledger, error) {
	if risk == nil || custody == nil {
		return nil, fmt.Errorf("new ledger: %w", ErrNilCollaborator)
	}
	if self.IsZero() {
		return nil, fmt.Errorf("new ledger: ledger address required")
	}
	if quoteKind == "" {
		return nil, fmt.Errorf("new ledger: quote kind required")
	}
	global := NewPosition(GlobalPositionID)
	global.Owner = self
	return &Ledger{
		self:      self,
		quoteKind: quoteKind,
		risk:      risk,
		custody:   custody,
		prices:    prices,
		positions: make(map[PositionID]*Position),
		global:    global,
		deflator:  NewDeflator(),
		emitter:   events.NoopEmitter{},
		logger:    slog.Default(),
		tracer:    otel.Tracer("nhbledger/native/ledger"),
		nowFn:     time.Now,
	}, nil
}

func (l *Ledger) SetPauses(p nativecommon.PauseView) {
	if l == nil {
		return
	}
	l.pauses = p
}

// SetEmitter configures the event sink. A nil emitter discards events.
func (l *Ledger) SetEmitter(e events.Emitter) {
	if l == nil {
		return
	}
	if e == nil {
		e = events.NoopEmitter{}
	}
	l.emitter = e
}

func (l *Ledger) SetLogger(logger *slog.Logger) {
	if l == nil || logger == nil {
		return
	}
	l.logger = logger
}

// SetStore wires persistence. Committed cycles are written through it.
func (l *Ledger) SetStore(store *Store) {
	if l == nil {
		return
	}
	l.store = store
}

func (l *Ledger) SetMetrics(m *metrics.LedgerMetrics) {
	if l == nil {
		return
	}
	l.metrics = m
}

func (l *Ledger) SetTracer(tracer trace.Tracer) {
	if l == nil || tracer == nil {
		return
	}
	l.tracer = tracer
}

// SetClock overrides the time source used to advance the deflator.
func (l *Ledger) SetClock(now func() time.Time) {
	if l == nil || now == nil {
		return
	}
	l.nowFn = now
}

func (l *Ledger) SetPriceSource(src PriceSource) {
	if l == nil {
		return
	}
	l.prices = src
}

// SetRecipients configures who receives minted interest and fees. A zero
// address keeps the corresponding accrual on the books without issuing it.
func (l *Ledger) SetRecipients(interest, fee crypto.Address) {
	if l == nil {
		return
	}
	l.interestRecipient = interest
	l.feeRecipient = fee
}

// SetExchangeRate initialises or resynchronises the exchange rate outside a
// cycle. The rate must be above par.
func (l *Ledger) SetExchangeRate(rate *uint256.Int) error {
	if l.checkpoint.InCycle() {
		return fmt.Errorf("set exchange rate: %w", ErrReentrantCycle)
	}
	if rate == nil || !rate.Gt(wad) {
		return ErrRateBelowPar
	}
	l.rate.Rate.Set(rate)
	return nil
}

// Address returns the identity owning the aggregate position.
func (l *Ledger) Address() crypto.Address { return l.self }

// QuoteKind returns the kind positions are valued in.
func (l *Ledger) QuoteKind() AssetKind { return l.quoteKind }

// Risk returns the configured risk collaborator.
func (l *Ledger) Risk() RiskConfig { return l.risk }

// CycleState reports whether a checkpoint cycle is running.
func (l *Ledger) CycleState() CycleState { return l.checkpoint.State() }

// Position returns a copy of the open position id.
func (l *Ledger) Position(id PositionID) (*Position, bool) {
	if id == GlobalPositionID {
		return l.global.Clone(), true
	}
	p, ok := l.positions[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Global returns a copy of the aggregate position.
func (l *Ledger) Global() *Position { return l.global.Clone() }

// PositionIDs returns the ids of every open position in ascending order.
func (l *Ledger) PositionIDs() []PositionID {
	ids := make([]PositionID, 0, len(l.positions))
	for id := range l.positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Deflator returns a copy of the current multipliers.
func (l *Ledger) Deflator() Deflator { return l.deflator }

// ExchangeRate returns the current exchange rate; zero when uninitialised.
func (l *Ledger) ExchangeRate() *uint256.Int { return new(uint256.Int).Set(&l.rate.Rate) }

// Totals returns the lifetime counters.
func (l *Ledger) Totals() Totals { return l.totals }

// NominalDebt returns the current repayable debt of position id.
func (l *Ledger) NominalDebt(id PositionID) (*uint256.Int, error) {
	p, err := l.existing(id)
	if err != nil {
		return nil, err
	}
	combined, err := l.deflator.Combined()
	if err != nil {
		return nil, err
	}
	return p.NominalDebt(combined)
}

// Appraise values position id under the current exchange rate and returns the
// appraisal together with its nominal debt.
func (l *Ledger) Appraise(id PositionID) (Appraisal, *uint256.Int, error) {
	p, err := l.existing(id)
	if err != nil {
		return Appraisal{}, nil, err
	}
	return l.appraise(p)
}

func (l *Ledger) appraise(p *Position) (Appraisal, *uint256.Int, error) {
	appraisal, err := Appraise(p, l.risk, l.quoteKind, l.effectiveRate())
	if err != nil {
		return Appraisal{}, nil, err
	}
	combined, err := l.deflator.Combined()
	if err != nil {
		return Appraisal{}, nil, err
	}
	debt, err := p.NominalDebt(combined)
	if err != nil {
		return Appraisal{}, nil, err
	}
	return appraisal, debt, nil
}

// effectiveRate converts native values at par until the tracker is
// initialised.
func (l *Ledger) effectiveRate() *uint256.Int {
	if !l.rate.Initialized() {
		return wad
	}
	return &l.rate.Rate
}

func (l *Ledger) existing(id PositionID) (*Position, error) {
	if id == GlobalPositionID {
		return nil, ErrDoesNotExist
	}
	p, ok := l.positions[id]
	if !ok || !p.Exists() {
		return nil, ErrDoesNotExist
	}
	return p, nil
}

func (l *Ledger) guard() error {
	if l == nil {
		return ErrNilCollaborator
	}
	return nativecommon.Guard(l.pauses, moduleName)
}

func (l *Ledger) requireCycle() error {
	if !l.checkpoint.InCycle() {
		return ErrRestrictedExecutionContext
	}
	return nil
}

// emit publishes evt, holding it back until commit while a cycle runs.
func (l *Ledger) emit(evt events.Event) {
	if evt == nil {
		return
	}
	if l.journal != nil {
		l.journal.events = append(l.journal.events, evt)
		return
	}
	if l.emitter != nil {
		l.emitter.Emit(evt)
	}
}

// Reconcile checks that the aggregate position mirrors the sum of every open
// position: balances per kind, booked items and real debt.
func (l *Ledger) Reconcile() error {
	balances := make(map[AssetKind]*uint256.Int)
	items := make(map[itemKey]PositionID)
	debt := new(uint256.Int)
	for _, id := range l.PositionIDs() {
		p := l.positions[id]
		if err := p.Validate(); err != nil {
			return err
		}
		for _, kind := range p.FungibleKinds() {
			sum, ok := balances[kind]
			if !ok {
				sum = new(uint256.Int)
				balances[kind] = sum
			}
			sum.Add(sum, p.Balance(kind))
		}
		for _, kind := range p.Collections() {
			for _, item := range p.Items(kind) {
				key := itemKey{kind: kind, item: item}
				if other, dup := items[key]; dup {
					return fmt.Errorf("reconcile: %s/%d booked by positions %d and %d", kind, item, other, id)
				}
				items[key] = id
			}
		}
		debt.Add(debt, &p.RealDebt)
	}
	if !debt.Eq(&l.global.RealDebt) {
		return fmt.Errorf("reconcile: real debt %s, aggregate %s", debt.Dec(), l.global.RealDebt.Dec())
	}
	for kind, sum := range balances {
		if !sum.IsZero() && !sum.Eq(l.global.Balance(kind)) {
			return fmt.Errorf("reconcile: %s sums to %s, aggregate %s", kind, sum.Dec(), l.global.Balance(kind).Dec())
		}
	}
	for _, kind := range l.global.FungibleKinds() {
		if sum, ok := balances[kind]; !ok || !sum.Eq(l.global.Balance(kind)) {
			return fmt.Errorf("reconcile: aggregate books %s %s without matching positions", l.global.Balance(kind).Dec(), kind)
		}
	}
	booked := 0
	for _, kind := range l.global.Collections() {
		for _, item := range l.global.Items(kind) {
			if _, ok := items[itemKey{kind: kind, item: item}]; !ok {
				return fmt.Errorf("reconcile: aggregate books %s/%d without a position", kind, item)
			}
			booked++
		}
	}
	if booked != len(items) {
		return fmt.Errorf("reconcile: %d items in positions, %d in aggregate", len(items), booked)
	}
	return l.global.Validate()
}
