package ledger

import (
	"fmt"

	"github.com/holiman/uint256"

	"nhbledger/crypto"
	nativecommon "nhbledger/native/common"
)

// PositionID keys a position inside the ledger. GlobalPositionID is reserved
// for the aggregate position owned by the ledger itself.
type PositionID uint64

const GlobalPositionID PositionID = 0

// AssetKind identifies a fungible asset or a non-fungible collection.
type AssetKind string

// ItemID identifies a single item within a non-fungible collection.
type ItemID uint64

// Position is one account's record of collateral holdings and debt.
//
// Fungible kinds and non-fungible collections are tracked in indexed sets so
// that additions and removals stay O(1) while the holdings can still be
// walked in order during appraisal.
type Position struct {
	ID         PositionID
	Owner      crypto.Address
	Originator crypto.Address
	// RealDebt is invariant under interest accrual; NominalDebt applies the
	// current deflator at read time.
	RealDebt uint256.Int

	fungibles   nativecommon.IndexedSet[AssetKind]
	balances    map[AssetKind]uint256.Int
	collections nativecommon.IndexedSet[AssetKind]
	items       map[AssetKind]*nativecommon.IndexedSet[ItemID]
}

// NewPosition returns an unopened position for id.
func NewPosition(id PositionID) *Position {
	return &Position{
		ID:       id,
		balances: make(map[AssetKind]uint256.Int),
		items:    make(map[AssetKind]*nativecommon.IndexedSet[ItemID]),
	}
}

// Exists reports whether the position has an owner.
func (p *Position) Exists() bool { return !p.Owner.IsZero() }

// IsEmpty reports whether the position carries no debt and no holdings.
func (p *Position) IsEmpty() bool {
	return p.RealDebt.IsZero() && p.fungibles.Len() == 0 && p.collections.Len() == 0
}

// Open assigns the owner and, when provided, the originator.
func (p *Position) Open(owner, originator crypto.Address) error {
	if p.Exists() {
		return ErrAlreadyExists
	}
	if owner.IsZero() {
		return fmt.Errorf("open position %d: owner required", p.ID)
	}
	p.Owner = owner
	if !originator.IsZero() && p.Originator.IsZero() {
		p.Originator = originator
	}
	return nil
}

// Close releases the slot. Only empty positions can be closed.
func (p *Position) Close() error {
	if !p.IsEmpty() {
		return ErrNotEmpty
	}
	p.Owner = crypto.Address{}
	p.Originator = crypto.Address{}
	return nil
}

// Balance returns the fungible balance held for kind.
func (p *Position) Balance(kind AssetKind) *uint256.Int {
	bal := p.balances[kind]
	return &bal
}

// AddFungible credits amount of kind. The addition wraps modulo 2^256; callers
// guard against over-supply before calling in.
func (p *Position) AddFungible(kind AssetKind, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	bal := p.balances[kind]
	if bal.IsZero() {
		p.fungibles.Insert(kind)
	}
	bal.Add(&bal, amount)
	p.storeBalance(kind, &bal)
}

// RemoveFungible debits amount of kind. The subtraction wraps modulo 2^256;
// sufficiency is checked by the caller. A balance that lands exactly on zero
// removes the kind.
func (p *Position) RemoveFungible(kind AssetKind, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	bal := p.balances[kind]
	if bal.IsZero() {
		p.fungibles.Insert(kind)
	}
	bal.Sub(&bal, amount)
	p.storeBalance(kind, &bal)
}

func (p *Position) storeBalance(kind AssetKind, bal *uint256.Int) {
	if bal.IsZero() {
		p.fungibles.Remove(kind)
		delete(p.balances, kind)
		return
	}
	if p.balances == nil {
		p.balances = make(map[AssetKind]uint256.Int)
	}
	p.balances[kind] = *bal
}

// FungibleKinds returns the held fungible kinds in slot order.
func (p *Position) FungibleKinds() []AssetKind { return p.fungibles.Keys() }

// FungibleIndex returns the 1-based slot of kind, or 0 when absent.
func (p *Position) FungibleIndex(kind AssetKind) int { return p.fungibles.IndexOf(kind) }

// HasItem reports whether item of collection kind is recorded.
func (p *Position) HasItem(kind AssetKind, item ItemID) bool {
	set := p.items[kind]
	return set != nil && set.Contains(item)
}

// AddNonFungible records item under collection kind.
func (p *Position) AddNonFungible(kind AssetKind, item ItemID) error {
	set := p.items[kind]
	if set != nil && set.Contains(item) {
		return ErrAlreadyContainsItem
	}
	if set == nil {
		set = nativecommon.NewIndexedSet[ItemID](1)
		if p.items == nil {
			p.items = make(map[AssetKind]*nativecommon.IndexedSet[ItemID])
		}
		p.items[kind] = set
		p.collections.Insert(kind)
	}
	set.Insert(item)
	return nil
}

// RemoveNonFungible drops item from collection kind, removing the collection
// itself when its last item leaves.
func (p *Position) RemoveNonFungible(kind AssetKind, item ItemID) error {
	set := p.items[kind]
	if set == nil || !set.Remove(item) {
		return ErrDoesNotContainItem
	}
	if set.Len() == 0 {
		p.collections.Remove(kind)
		delete(p.items, kind)
	}
	return nil
}

// Collections returns the held non-fungible collections in slot order.
func (p *Position) Collections() []AssetKind { return p.collections.Keys() }

// CollectionIndex returns the 1-based slot of collection kind, or 0.
func (p *Position) CollectionIndex(kind AssetKind) int { return p.collections.IndexOf(kind) }

// Items returns the items held for collection kind in slot order.
func (p *Position) Items(kind AssetKind) []ItemID {
	set := p.items[kind]
	if set == nil {
		return nil
	}
	return set.Keys()
}

// ItemIndex returns the 1-based slot of item within collection kind, or 0.
func (p *Position) ItemIndex(kind AssetKind, item ItemID) int {
	set := p.items[kind]
	if set == nil {
		return 0
	}
	return set.IndexOf(item)
}

// NominalDebt applies deflator to the real debt, rounding strictly up so a
// debtor is never under-billed.
func (p *Position) NominalDebt(deflator *uint256.Int) (*uint256.Int, error) {
	return mulWadUpStrict(&p.RealDebt, deflator)
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{
		ID:          p.ID,
		Owner:       p.Owner,
		Originator:  p.Originator,
		RealDebt:    p.RealDebt,
		fungibles:   *p.fungibles.Clone(),
		balances:    make(map[AssetKind]uint256.Int, len(p.balances)),
		collections: *p.collections.Clone(),
		items:       make(map[AssetKind]*nativecommon.IndexedSet[ItemID], len(p.items)),
	}
	for kind, bal := range p.balances {
		clone.balances[kind] = bal
	}
	for kind, set := range p.items {
		clone.items[kind] = set.Clone()
	}
	return clone
}

// Validate checks every index invariant of the position.
func (p *Position) Validate() error {
	if err := p.fungibles.Validate(); err != nil {
		return fmt.Errorf("position %d fungibles: %w", p.ID, err)
	}
	if len(p.balances) != p.fungibles.Len() {
		return fmt.Errorf("position %d: %d balances for %d kinds", p.ID, len(p.balances), p.fungibles.Len())
	}
	for _, kind := range p.fungibles.Keys() {
		bal, ok := p.balances[kind]
		if !ok || bal.IsZero() {
			return fmt.Errorf("position %d: kind %s listed with zero balance", p.ID, kind)
		}
	}
	if err := p.collections.Validate(); err != nil {
		return fmt.Errorf("position %d collections: %w", p.ID, err)
	}
	if len(p.items) != p.collections.Len() {
		return fmt.Errorf("position %d: %d item sets for %d collections", p.ID, len(p.items), p.collections.Len())
	}
	for _, kind := range p.collections.Keys() {
		set := p.items[kind]
		if set == nil || set.Len() == 0 {
			return fmt.Errorf("position %d: collection %s listed without items", p.ID, kind)
		}
		if err := set.Validate(); err != nil {
			return fmt.Errorf("position %d collection %s: %w", p.ID, kind, err)
		}
	}
	return nil
}
