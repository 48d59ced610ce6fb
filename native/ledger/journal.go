package ledger

import "nhbledger/core/events"

// journal holds the pre-cycle image of everything a cycle may mutate. Shared
// scalars are snapshotted on entry; positions are copied lazily the first time
// a cycle writes them, with a nil entry meaning the slot was vacant.
type journal struct {
	positions map[PositionID]*Position
	order     []PositionID
	global    *Position
	deflator  Deflator
	rate      ExchangeRate
	totals    Totals
	// events raised during the cycle, published only on commit
	events []events.Event
}

func (l *Ledger) beginJournal() {
	l.journal = &journal{
		positions: make(map[PositionID]*Position),
		global:    l.global.Clone(),
		deflator:  l.deflator,
		rate:      l.rate,
		totals:    l.totals,
	}
}

// record saves the pre-image of id before its first write in a cycle. Outside
// a cycle writes are applied directly and only remembered for persistence.
func (l *Ledger) record(id PositionID) {
	j := l.journal
	if j == nil {
		l.unsaved.Insert(id)
		return
	}
	if _, seen := j.positions[id]; seen {
		return
	}
	j.positions[id] = l.positions[id].Clone()
	j.order = append(j.order, id)
}

// dirty lists the positions written during the cycle in first-write order.
func (j *journal) dirty() []PositionID {
	if j == nil {
		return nil
	}
	return append([]PositionID(nil), j.order...)
}

// rollback restores every pre-image and discards the journal.
func (l *Ledger) rollback() {
	j := l.journal
	if j == nil {
		return
	}
	for id, before := range j.positions {
		if before == nil {
			delete(l.positions, id)
			continue
		}
		l.positions[id] = before
	}
	l.global = j.global
	l.deflator = j.deflator
	l.rate = j.rate
	l.totals = j.totals
	l.journal = nil
}

// release drops the journal after a commit and returns the events it held.
func (l *Ledger) release() []events.Event {
	j := l.journal
	l.journal = nil
	if j == nil {
		return nil
	}
	return j.events
}
