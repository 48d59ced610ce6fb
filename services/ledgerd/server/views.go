package server

import (
	"nhbledger/native/ledger"
)

type fungibleView struct {
	Kind   string `json:"kind"`
	Amount string `json:"amount"`
}

type collectionView struct {
	Kind  string   `json:"kind"`
	Items []uint64 `json:"items"`
}

type positionView struct {
	ID          uint64           `json:"id"`
	Owner       string           `json:"owner,omitempty"`
	Originator  string           `json:"originator,omitempty"`
	RealDebt    string           `json:"realDebt"`
	NominalDebt string           `json:"nominalDebt"`
	Fungibles   []fungibleView   `json:"fungibles"`
	Collections []collectionView `json:"collections"`
}

type appraisalView struct {
	ID      uint64 `json:"id"`
	Value   string `json:"value"`
	Margin  string `json:"margin"`
	Debt    string `json:"debt"`
	Solvent bool   `json:"solvent"`
}

type totalsView struct {
	InterestDisbursed string `json:"interestDisbursed"`
	FeesDisbursed     string `json:"feesDisbursed"`
	Cycles            uint64 `json:"cycles"`
}

type stateView struct {
	Address            string       `json:"address"`
	QuoteKind          string       `json:"quoteKind"`
	CycleState         string       `json:"cycleState"`
	ExchangeRate       string       `json:"exchangeRate"`
	InterestMultiplier string       `json:"interestMultiplier"`
	FeeMultiplier      string       `json:"feeMultiplier"`
	LastUpdate         int64        `json:"lastUpdate"`
	OpenPositions      int          `json:"openPositions"`
	Global             positionView `json:"global"`
	Totals             totalsView   `json:"totals"`
	LastCycleID        string       `json:"lastCycleId,omitempty"`
	OwedSettlements    int          `json:"owedSettlements"`
}

func newStateView(l *ledger.Ledger) (stateView, error) {
	global, err := newPositionView(l, ledger.GlobalPositionID)
	if err != nil {
		return stateView{}, err
	}
	deflator := l.Deflator()
	totals := l.Totals()
	return stateView{
		Address:            l.Address().String(),
		QuoteKind:          string(l.QuoteKind()),
		CycleState:         l.CycleState().String(),
		ExchangeRate:       ledger.FormatWad(l.ExchangeRate()),
		InterestMultiplier: ledger.FormatWad(&deflator.Interest),
		FeeMultiplier:      ledger.FormatWad(&deflator.Fee),
		LastUpdate:         deflator.LastUpdate,
		OpenPositions:      len(l.PositionIDs()),
		Global:             global,
		Totals: totalsView{
			InterestDisbursed: totals.InterestDisbursed.Dec(),
			FeesDisbursed:     totals.FeesDisbursed.Dec(),
			Cycles:            totals.Cycles,
		},
		LastCycleID:     l.LastCycle().ID,
		OwedSettlements: l.Owed(),
	}, nil
}

func newPositionView(l *ledger.Ledger, id ledger.PositionID) (positionView, error) {
	p, ok := l.Position(id)
	if !ok {
		return positionView{}, ledger.ErrDoesNotExist
	}
	deflator := l.Deflator()
	combined, err := deflator.Combined()
	if err != nil {
		return positionView{}, err
	}
	nominal, err := p.NominalDebt(combined)
	if err != nil {
		return positionView{}, err
	}
	view := positionView{
		ID:          uint64(p.ID),
		Owner:       p.Owner.String(),
		Originator:  p.Originator.String(),
		RealDebt:    p.RealDebt.Dec(),
		NominalDebt: nominal.Dec(),
		Fungibles:   []fungibleView{},
		Collections: []collectionView{},
	}
	for _, kind := range p.FungibleKinds() {
		view.Fungibles = append(view.Fungibles, fungibleView{Kind: string(kind), Amount: p.Balance(kind).Dec()})
	}
	for _, kind := range p.Collections() {
		items := p.Items(kind)
		raw := make([]uint64, len(items))
		for i, item := range items {
			raw[i] = uint64(item)
		}
		view.Collections = append(view.Collections, collectionView{Kind: string(kind), Items: raw})
	}
	return view, nil
}

func newAppraisalView(l *ledger.Ledger, id ledger.PositionID) (appraisalView, error) {
	appraisal, debt, err := l.Appraise(id)
	if err != nil {
		return appraisalView{}, err
	}
	params := l.Risk().Params()
	solvent, err := appraisal.Solvent(debt, &params.MaxDebtRatio)
	if err != nil {
		return appraisalView{}, err
	}
	return appraisalView{
		ID:      uint64(id),
		Value:   appraisal.Value.Dec(),
		Margin:  appraisal.Margin.Dec(),
		Debt:    debt.Dec(),
		Solvent: solvent,
	}, nil
}
