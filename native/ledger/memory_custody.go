package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"nhbledger/crypto"
)

var errCustodyShortfall = errors.New("custody: insufficient holdings")

// MemoryCustody is an in-process Custody used by the CLI and tests. Funding the
// ledger simulates an external transfer into its custody; outgoing movements
// credit the recipient's account.
type MemoryCustody struct {
	held     map[AssetKind]uint256.Int
	items    map[itemKey]struct{}
	accounts map[string]map[AssetKind]uint256.Int
	owners   map[itemKey]string
}

// NewMemoryCustody returns an empty custody.
func NewMemoryCustody() *MemoryCustody {
	return &MemoryCustody{
		held:     make(map[AssetKind]uint256.Int),
		items:    make(map[itemKey]struct{}),
		accounts: make(map[string]map[AssetKind]uint256.Int),
		owners:   make(map[itemKey]string),
	}
}

// Fund adds amount of kind to the ledger's holdings.
func (m *MemoryCustody) Fund(kind AssetKind, amount *uint256.Int) {
	bal := m.held[kind]
	bal.Add(&bal, amount)
	m.held[kind] = bal
}

// FundItem places item of collection kind into the ledger's holdings.
func (m *MemoryCustody) FundItem(kind AssetKind, item ItemID) {
	key := itemKey{kind: kind, item: item}
	m.items[key] = struct{}{}
	delete(m.owners, key)
}

// AccountBalance returns what addr has received from the ledger.
func (m *MemoryCustody) AccountBalance(addr crypto.Address, kind AssetKind) *uint256.Int {
	bal := m.accounts[string(addr.Bytes())][kind]
	return &bal
}

// ItemOwner returns the account an item was released to.
func (m *MemoryCustody) ItemOwner(kind AssetKind, item ItemID) (string, bool) {
	owner, ok := m.owners[itemKey{kind: kind, item: item}]
	return owner, ok
}

// HeldKinds lists the fungible kinds currently held, sorted.
func (m *MemoryCustody) HeldKinds() []AssetKind {
	kinds := make([]AssetKind, 0, len(m.held))
	for kind := range m.held {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (m *MemoryCustody) BalanceOf(kind AssetKind) *uint256.Int {
	bal := m.held[kind]
	return &bal
}

func (m *MemoryCustody) HoldsItem(kind AssetKind, item ItemID) bool {
	_, ok := m.items[itemKey{kind: kind, item: item}]
	return ok
}

func (m *MemoryCustody) Transfer(to crypto.Address, kind AssetKind, amount *uint256.Int) error {
	bal := m.held[kind]
	if bal.Lt(amount) {
		return fmt.Errorf("transfer %s %s: %w", amount.Dec(), kind, errCustodyShortfall)
	}
	bal.Sub(&bal, amount)
	m.held[kind] = bal
	m.credit(to, kind, amount)
	return nil
}

func (m *MemoryCustody) TransferItem(to crypto.Address, kind AssetKind, item ItemID) error {
	key := itemKey{kind: kind, item: item}
	if _, ok := m.items[key]; !ok {
		return fmt.Errorf("transfer %s/%d: %w", kind, item, errCustodyShortfall)
	}
	delete(m.items, key)
	m.owners[key] = to.String()
	return nil
}

func (m *MemoryCustody) Issue(to crypto.Address, kind AssetKind, amount *uint256.Int) error {
	m.credit(to, kind, amount)
	return nil
}

func (m *MemoryCustody) Retire(kind AssetKind, amount *uint256.Int) error {
	bal := m.held[kind]
	if bal.Lt(amount) {
		return fmt.Errorf("retire %s %s: %w", amount.Dec(), kind, errCustodyShortfall)
	}
	bal.Sub(&bal, amount)
	m.held[kind] = bal
	return nil
}

func (m *MemoryCustody) credit(to crypto.Address, kind AssetKind, amount *uint256.Int) {
	key := string(to.Bytes())
	account := m.accounts[key]
	if account == nil {
		account = make(map[AssetKind]uint256.Int)
		m.accounts[key] = account
	}
	bal := account[kind]
	bal.Add(&bal, amount)
	account[kind] = bal
}
