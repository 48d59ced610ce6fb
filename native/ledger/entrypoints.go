package ledger

import (
	"fmt"

	"github.com/holiman/uint256"

	"nhbledger/core/events"
	"nhbledger/crypto"
	"nhbledger/observability/logging"
)

// OpenPosition opens slot id for owner. Opening works in and out of a cycle.
func (l *Ledger) OpenPosition(id PositionID, owner, originator crypto.Address) error {
	if err := l.guard(); err != nil {
		return err
	}
	if id == GlobalPositionID {
		return ErrAlreadyExists
	}
	if _, ok := l.positions[id]; ok {
		return ErrAlreadyExists
	}
	p := NewPosition(id)
	if err := p.Open(owner, originator); err != nil {
		return err
	}
	l.record(id)
	l.positions[id] = p
	l.logger.Info("ledger position opened", "id", uint64(id), logging.MaskField("owner", owner.String()))
	l.emit(events.LedgerPositionOpened{ID: uint64(id), Owner: owner.String(), Originator: originator.String()})
	return nil
}

// ClosePosition releases id. Only the owner may close and only an empty
// position can be closed.
func (l *Ledger) ClosePosition(caller crypto.Address, id PositionID) error {
	if err := l.guard(); err != nil {
		return err
	}
	p, err := l.existing(id)
	if err != nil {
		return err
	}
	if !p.Owner.Equal(caller) {
		return ErrNotOwner
	}
	if !p.IsEmpty() {
		return ErrNotEmpty
	}
	owner := p.Owner
	l.record(id)
	if err := p.Close(); err != nil {
		return err
	}
	delete(l.positions, id)
	l.logger.Info("ledger position closed", "id", uint64(id))
	l.emit(events.LedgerPositionClosed{ID: uint64(id), Owner: owner.String()})
	return nil
}

// DepositFungible credits amount of kind to id. The ledger must already hold
// the units: custody balance minus everything already booked or promised away
// is what counts as received.
func (l *Ledger) DepositFungible(id PositionID, kind AssetKind, amount *uint256.Int) error {
	if err := l.preflight(amount); err != nil {
		return err
	}
	p, err := l.existing(id)
	if err != nil {
		return err
	}
	if received := l.received(kind); received.Lt(amount) {
		return fmt.Errorf("deposit %s %s into %d: %w", amount.Dec(), kind, id, ErrAmountNotReceived)
	}
	l.record(id)
	p.AddFungible(kind, amount)
	l.global.AddFungible(kind, amount)
	return nil
}

// WithdrawFungible debits amount of kind from id and queues the transfer to
// recipient, defaulting to the caller. The position is re-validated when the
// cycle ends.
func (l *Ledger) WithdrawFungible(caller crypto.Address, id PositionID, kind AssetKind, amount *uint256.Int, to crypto.Address) error {
	if err := l.preflight(amount); err != nil {
		return err
	}
	p, err := l.owned(caller, id)
	if err != nil {
		return err
	}
	if p.Balance(kind).Lt(amount) {
		return fmt.Errorf("withdraw %s %s from %d: %w", amount.Dec(), kind, id, ErrInsufficientBalance)
	}
	l.record(id)
	p.RemoveFungible(kind, amount)
	l.global.RemoveFungible(kind, amount)
	l.pending.transfer(recipientOr(to, caller), kind, amount)
	l.checkpoint.Mark(id)
	return nil
}

// DepositNonFungible records item of collection kind under id. The ledger
// must hold the item and it must not already be booked.
func (l *Ledger) DepositNonFungible(id PositionID, kind AssetKind, item ItemID) error {
	if err := l.preflight(nil); err != nil {
		return err
	}
	p, err := l.existing(id)
	if err != nil {
		return err
	}
	if p.HasItem(kind, item) {
		return ErrAlreadyContainsItem
	}
	if !l.custody.HoldsItem(kind, item) || l.global.HasItem(kind, item) || l.pending.itemPending(kind, item) || l.owed.itemPending(kind, item) {
		return fmt.Errorf("deposit %s/%d into %d: %w", kind, item, id, ErrAmountNotReceived)
	}
	l.record(id)
	if err := p.AddNonFungible(kind, item); err != nil {
		return err
	}
	if err := l.global.AddNonFungible(kind, item); err != nil {
		panic(fmt.Sprintf("ledger: aggregate already books %s/%d", kind, item))
	}
	return nil
}

// WithdrawNonFungible releases item of collection kind from id to recipient,
// defaulting to the caller.
func (l *Ledger) WithdrawNonFungible(caller crypto.Address, id PositionID, kind AssetKind, item ItemID, to crypto.Address) error {
	if err := l.preflight(nil); err != nil {
		return err
	}
	p, err := l.owned(caller, id)
	if err != nil {
		return err
	}
	if !p.HasItem(kind, item) {
		return ErrDoesNotContainItem
	}
	l.record(id)
	if err := p.RemoveNonFungible(kind, item); err != nil {
		return err
	}
	if err := l.global.RemoveNonFungible(kind, item); err != nil {
		panic(fmt.Sprintf("ledger: aggregate missing %s/%d", kind, item))
	}
	l.pending.transferItem(recipientOr(to, caller), kind, item)
	l.checkpoint.Mark(id)
	return nil
}

// Borrow issues amount of the quote kind against id. The real debt grows by the
// amount divided by the current deflator, rounded up.
func (l *Ledger) Borrow(caller crypto.Address, id PositionID, amount *uint256.Int, to crypto.Address) error {
	if err := l.preflight(amount); err != nil {
		return err
	}
	p, err := l.owned(caller, id)
	if err != nil {
		return err
	}
	combined, err := l.deflator.Combined()
	if err != nil {
		return err
	}
	delta, err := divWadUp(amount, combined)
	if err != nil {
		return fmt.Errorf("borrow real debt: %w", err)
	}
	debt, err := checkedAdd(&p.RealDebt, delta)
	if err != nil {
		return fmt.Errorf("borrow real debt: %w", err)
	}
	total, err := checkedAdd(&l.global.RealDebt, delta)
	if err != nil {
		return fmt.Errorf("borrow aggregate debt: %w", err)
	}
	l.record(id)
	p.RealDebt.Set(debt)
	l.global.RealDebt.Set(total)
	l.pending.issue(recipientOr(to, caller), l.quoteKind, amount)
	l.checkpoint.Mark(id)
	return nil
}

// Repay applies up to amount of received quote units to the debt of id and
// returns the amount applied. Anyone may repay. Units sent beyond the nominal
// debt stay unbooked in custody. A partial repayment too small to retire one
// unit of real debt is rejected with ErrInvalidAmount.
func (l *Ledger) Repay(id PositionID, amount *uint256.Int) (*uint256.Int, error) {
	if err := l.preflight(amount); err != nil {
		return nil, err
	}
	p, err := l.existing(id)
	if err != nil {
		return nil, err
	}
	if received := l.received(l.quoteKind); received.Lt(amount) {
		return nil, fmt.Errorf("repay %s into %d: %w", amount.Dec(), id, ErrAmountNotReceived)
	}
	combined, err := l.deflator.Combined()
	if err != nil {
		return nil, err
	}
	nominal, err := p.NominalDebt(combined)
	if err != nil {
		return nil, err
	}
	paid := minInt(amount, nominal)
	if paid.IsZero() {
		return paid, nil
	}
	delta := new(uint256.Int).Set(&p.RealDebt)
	if paid.Lt(nominal) {
		if delta, err = divWadDown(paid, combined); err != nil {
			return nil, fmt.Errorf("repay real debt: %w", err)
		}
		delta = minInt(delta, &p.RealDebt)
		if delta.IsZero() {
			return nil, fmt.Errorf("repay %s into %d: below one debt unit: %w", amount.Dec(), id, ErrInvalidAmount)
		}
	}
	l.record(id)
	p.RealDebt.Sub(&p.RealDebt, delta)
	l.global.RealDebt.Sub(&l.global.RealDebt, delta)
	l.pending.retire(l.quoteKind, paid)
	return paid, nil
}

// preflight applies the checks shared by balance-affecting entry points. A nil
// amount skips the amount check.
func (l *Ledger) preflight(amount *uint256.Int) error {
	if err := l.guard(); err != nil {
		return err
	}
	if err := l.requireCycle(); err != nil {
		return err
	}
	if amount != nil && amount.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}

func (l *Ledger) owned(caller crypto.Address, id PositionID) (*Position, error) {
	p, err := l.existing(id)
	if err != nil {
		return nil, err
	}
	if !p.Owner.Equal(caller) {
		return nil, ErrNotOwner
	}
	return p, nil
}

// received is what custody holds of kind beyond the booked aggregate and the
// outflows queued this cycle or still owed from earlier ones. The subtraction
// saturates at zero so a custody shortfall never reads as a surplus.
func (l *Ledger) received(kind AssetKind) *uint256.Int {
	booked := new(uint256.Int).Add(l.global.Balance(kind), l.pending.outflow(kind))
	booked.Add(booked, l.owed.outflow(kind))
	held := l.custody.BalanceOf(kind)
	if held.Lt(booked) {
		return new(uint256.Int)
	}
	return booked.Sub(held, booked)
}

func recipientOr(to, fallback crypto.Address) crypto.Address {
	if to.IsZero() {
		return fallback
	}
	return to
}
