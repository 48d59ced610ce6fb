package events

import (
	"strconv"

	"nhbledger/core/types"
)

const (
	TypeLedgerPositionOpened = "ledger.position.opened"
	TypeLedgerPositionClosed = "ledger.position.closed"
	TypeLedgerCycleCommitted = "ledger.cycle.committed"
	TypeLedgerCycleAborted   = "ledger.cycle.aborted"
)

type LedgerPositionOpened struct {
	ID         uint64
	Owner      string
	Originator string
}

func (LedgerPositionOpened) EventType() string { return TypeLedgerPositionOpened }

func (e LedgerPositionOpened) Event() *types.Event {
	attrs := map[string]string{
		"id":    strconv.FormatUint(e.ID, 10),
		"owner": e.Owner,
	}
	if e.Originator != "" {
		attrs["originator"] = e.Originator
	}
	return &types.Event{Type: TypeLedgerPositionOpened, Attributes: attrs}
}

type LedgerPositionClosed struct {
	ID    uint64
	Owner string
}

func (LedgerPositionClosed) EventType() string { return TypeLedgerPositionClosed }

func (e LedgerPositionClosed) Event() *types.Event {
	return &types.Event{
		Type: TypeLedgerPositionClosed,
		Attributes: map[string]string{
			"id":    strconv.FormatUint(e.ID, 10),
			"owner": e.Owner,
		},
	}
}

// LedgerCycleCommitted is emitted once a checkpoint cycle validated every
// touched position and settled its transfers.
type LedgerCycleCommitted struct {
	CycleID      string
	Touched      int
	Settlements  int
	ExchangeRate string
	Interest     string
	Fees         string
}

func (LedgerCycleCommitted) EventType() string { return TypeLedgerCycleCommitted }

func (e LedgerCycleCommitted) Event() *types.Event {
	return &types.Event{
		Type: TypeLedgerCycleCommitted,
		Attributes: map[string]string{
			"cycleId":      e.CycleID,
			"touched":      strconv.Itoa(e.Touched),
			"settlements":  strconv.Itoa(e.Settlements),
			"exchangeRate": orZero(e.ExchangeRate),
			"interest":     orZero(e.Interest),
			"fees":         orZero(e.Fees),
		},
	}
}

// LedgerCycleAborted is emitted when a cycle was rolled back. PositionID is
// set only for solvency failures.
type LedgerCycleAborted struct {
	CycleID    string
	Reason     string
	PositionID *uint64
}

func (LedgerCycleAborted) EventType() string { return TypeLedgerCycleAborted }

func (e LedgerCycleAborted) Event() *types.Event {
	attrs := map[string]string{
		"cycleId": e.CycleID,
		"reason":  e.Reason,
	}
	if e.PositionID != nil {
		attrs["positionId"] = strconv.FormatUint(*e.PositionID, 10)
	}
	return &types.Event{Type: TypeLedgerCycleAborted, Attributes: attrs}
}

func orZero(v string) string {
	if v == "" {
		return "0"
	}
	return v
}
