package ledger

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"nhbledger/crypto"
)

// Custody is the ledger's view of the assets it actually holds together with
// the transfer mechanics used to move them out. Outgoing movements are only
// requested after a cycle validates and after every movement of the cycle has
// been checked against BalanceOf and HoldsItem. A movement that fails anyway is
// kept by the ledger and retried at the start of the next cycle.
type Custody interface {
	BalanceOf(kind AssetKind) *uint256.Int
	HoldsItem(kind AssetKind, item ItemID) bool
	Transfer(to crypto.Address, kind AssetKind, amount *uint256.Int) error
	TransferItem(to crypto.Address, kind AssetKind, item ItemID) error
	// Issue mints newly created units, used for borrowed funds and interest.
	Issue(to crypto.Address, kind AssetKind, amount *uint256.Int) error
	// Retire burns units the ledger holds, used for repaid debt.
	Retire(kind AssetKind, amount *uint256.Int) error
}

// PriceSource reports the externally observed exchange rate of the ledger's
// unit against the reference asset.
type PriceSource interface {
	ObservedRate(ctx context.Context) (*uint256.Int, error)
}

// StaticPriceSource returns a fixed, settable rate.
type StaticPriceSource struct {
	Rate uint256.Int
}

// NewStaticPriceSource returns a source reporting rate.
func NewStaticPriceSource(rate *uint256.Int) *StaticPriceSource {
	src := &StaticPriceSource{}
	src.Rate.Set(rate)
	return src
}

func (s *StaticPriceSource) ObservedRate(context.Context) (*uint256.Int, error) {
	return new(uint256.Int).Set(&s.Rate), nil
}

// SetRate replaces the reported rate.
func (s *StaticPriceSource) SetRate(rate *uint256.Int) { s.Rate.Set(rate) }

type settlementKind uint8

const (
	settleTransfer settlementKind = iota
	settleTransferItem
	settleIssue
	settleRetire
)

func (k settlementKind) String() string {
	switch k {
	case settleTransfer:
		return "transfer"
	case settleTransferItem:
		return "transfer_item"
	case settleIssue:
		return "issue"
	default:
		return "retire"
	}
}

type settlement struct {
	kind   settlementKind
	to     crypto.Address
	asset  AssetKind
	amount uint256.Int
	item   ItemID
}

type itemKey struct {
	kind AssetKind
	item ItemID
}

// pendingSettlements queues custody movements made during a cycle and tracks
// the outflows they represent so received-amount checks do not count assets
// that are already promised away.
type pendingSettlements struct {
	queue    []settlement
	outflows map[AssetKind]uint256.Int
	items    map[itemKey]struct{}
}

func (p *pendingSettlements) reset() {
	p.queue = nil
	p.outflows = nil
	p.items = nil
}

func (p *pendingSettlements) outflow(kind AssetKind) *uint256.Int {
	out := p.outflows[kind]
	return &out
}

func (p *pendingSettlements) itemPending(kind AssetKind, item ItemID) bool {
	_, ok := p.items[itemKey{kind: kind, item: item}]
	return ok
}

func (p *pendingSettlements) addOutflow(kind AssetKind, amount *uint256.Int) {
	if p.outflows == nil {
		p.outflows = make(map[AssetKind]uint256.Int)
	}
	out := p.outflows[kind]
	out.Add(&out, amount)
	p.outflows[kind] = out
}

func (p *pendingSettlements) transfer(to crypto.Address, kind AssetKind, amount *uint256.Int) {
	s := settlement{kind: settleTransfer, to: to, asset: kind}
	s.amount.Set(amount)
	p.queue = append(p.queue, s)
	p.addOutflow(kind, amount)
}

func (p *pendingSettlements) transferItem(to crypto.Address, kind AssetKind, item ItemID) {
	p.queue = append(p.queue, settlement{kind: settleTransferItem, to: to, asset: kind, item: item})
	if p.items == nil {
		p.items = make(map[itemKey]struct{})
	}
	p.items[itemKey{kind: kind, item: item}] = struct{}{}
}

func (p *pendingSettlements) issue(to crypto.Address, kind AssetKind, amount *uint256.Int) {
	s := settlement{kind: settleIssue, to: to, asset: kind}
	s.amount.Set(amount)
	p.queue = append(p.queue, s)
}

func (p *pendingSettlements) retire(kind AssetKind, amount *uint256.Int) {
	s := settlement{kind: settleRetire, asset: kind}
	s.amount.Set(amount)
	p.queue = append(p.queue, s)
	p.addOutflow(kind, amount)
}

func (p *pendingSettlements) add(s settlement) {
	switch s.kind {
	case settleTransfer:
		p.transfer(s.to, s.asset, &s.amount)
	case settleTransferItem:
		p.transferItem(s.to, s.asset, s.item)
	case settleIssue:
		p.issue(s.to, s.asset, &s.amount)
	case settleRetire:
		p.retire(s.asset, &s.amount)
	}
}

// check verifies that custody can cover every queued movement on top of the
// movements still owed from earlier cycles, without moving anything.
func (p *pendingSettlements) check(c Custody, owed *pendingSettlements) error {
	for kind, out := range p.outflows {
		need, err := checkedAdd(&out, owed.outflow(kind))
		if err != nil {
			return fmt.Errorf("settle %s: %w", kind, err)
		}
		if held := c.BalanceOf(kind); held.Lt(need) {
			return fmt.Errorf("settle %s %s against %s held: %w", need.Dec(), kind, held.Dec(), ErrSettlementPrecondition)
		}
	}
	for key := range p.items {
		if !c.HoldsItem(key.kind, key.item) {
			return fmt.Errorf("settle %s/%d: %w", key.kind, key.item, ErrSettlementPrecondition)
		}
	}
	return nil
}

// execute runs the queue in order and reports how many movements were applied
// before the first failure.
func (p *pendingSettlements) execute(c Custody) (int, error) {
	for i := range p.queue {
		s := &p.queue[i]
		var err error
		switch s.kind {
		case settleTransfer:
			err = c.Transfer(s.to, s.asset, &s.amount)
		case settleTransferItem:
			err = c.TransferItem(s.to, s.asset, s.item)
		case settleIssue:
			err = c.Issue(s.to, s.asset, &s.amount)
		case settleRetire:
			err = c.Retire(s.asset, &s.amount)
		}
		if err != nil {
			return i, fmt.Errorf("settle %s of %s: %w", s.kind, s.asset, err)
		}
	}
	return len(p.queue), nil
}
