package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"nhbledger/crypto"
	"nhbledger/storage"
)

const storeVersion = 1

var (
	positionPrefix = []byte("ledger/position/")
	metaKey        = []byte("ledger/meta")
)

var (
	errStoreVersion = errors.New("ledger store: unsupported record version")
	errStoreRange   = errors.New("ledger store: value out of range")
)

func positionKey(id PositionID) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return []byte(fmt.Sprintf("%s%x", positionPrefix, ethcrypto.Keccak256(buf[:])))
}

type fungibleRecord struct {
	Kind   string
	Amount *big.Int
}

type collectionRecord struct {
	Kind  string
	Items []uint64
}

type positionRecord struct {
	ID               uint64
	OwnerPrefix      string
	Owner            []byte
	OriginatorPrefix string
	Originator       []byte
	RealDebt         *big.Int
	Fungibles        []fungibleRecord
	Collections      []collectionRecord
}

type metaRecord struct {
	Version           uint64
	Interest          *big.Int
	Fee               *big.Int
	LastUpdate        uint64
	Rate              *big.Int
	InterestDisbursed *big.Int
	FeesDisbursed     *big.Int
	Cycles            uint64
	Positions         []uint64
}

// Store persists ledger state to a key-value database. Each committed cycle is
// written as one batch holding the positions it wrote, the aggregate position
// and the shared metadata.
type Store struct {
	db storage.Database
}

// NewStore binds a store to db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// Commit writes the positions listed in dirty together with the aggregate
// position and metadata. Positions no longer open are deleted.
func (s *Store) Commit(l *Ledger, dirty []PositionID) error {
	if s == nil || s.db == nil {
		return ErrNilCollaborator
	}
	batch := s.db.NewBatch()
	for _, id := range dirty {
		p, ok := l.positions[id]
		if !ok {
			batch.Delete(positionKey(id))
			continue
		}
		if err := putRLP(batch, positionKey(id), encodePosition(p)); err != nil {
			return fmt.Errorf("encode position %d: %w", id, err)
		}
	}
	if err := putRLP(batch, positionKey(GlobalPositionID), encodePosition(l.global)); err != nil {
		return fmt.Errorf("encode aggregate position: %w", err)
	}
	if err := putRLP(batch, metaKey, encodeMeta(l)); err != nil {
		return fmt.Errorf("encode ledger meta: %w", err)
	}
	return batch.Write()
}

// Snapshot writes every open position, used when seeding a fresh database.
func (s *Store) Snapshot(l *Ledger) error {
	return s.Commit(l, l.PositionIDs())
}

// Load restores persisted state into l, which must be outside a cycle. It
// reports false when the database holds no ledger.
func (s *Store) Load(l *Ledger) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrNilCollaborator
	}
	if l.checkpoint.InCycle() {
		return false, ErrReentrantCycle
	}
	var meta metaRecord
	found, err := getRLP(s.db, metaKey, &meta)
	if err != nil || !found {
		return false, err
	}
	if meta.Version != storeVersion {
		return false, fmt.Errorf("%w: %d", errStoreVersion, meta.Version)
	}

	positions := make(map[PositionID]*Position, len(meta.Positions))
	for _, raw := range meta.Positions {
		id := PositionID(raw)
		p, err := s.loadPosition(id)
		if err != nil {
			return false, err
		}
		positions[id] = p
	}
	global, err := s.loadPosition(GlobalPositionID)
	if err != nil {
		return false, err
	}
	global.Owner = l.self

	deflator := Deflator{LastUpdate: int64(meta.LastUpdate)}
	totals := Totals{Cycles: meta.Cycles}
	var rate uint256.Int
	for _, field := range []struct {
		name string
		dst  *uint256.Int
		src  *big.Int
	}{
		{"interest multiplier", &deflator.Interest, meta.Interest},
		{"fee multiplier", &deflator.Fee, meta.Fee},
		{"exchange rate", &rate, meta.Rate},
		{"interest disbursed", &totals.InterestDisbursed, meta.InterestDisbursed},
		{"fees disbursed", &totals.FeesDisbursed, meta.FeesDisbursed},
	} {
		if err := fromBig(field.dst, field.src); err != nil {
			return false, fmt.Errorf("load ledger meta %s: %w", field.name, err)
		}
	}

	l.positions = positions
	l.global = global
	l.deflator = deflator
	l.rate.Rate.Set(&rate)
	l.totals = totals
	return true, nil
}

func (s *Store) loadPosition(id PositionID) (*Position, error) {
	var rec positionRecord
	found, err := getRLP(s.db, positionKey(id), &rec)
	if err != nil {
		return nil, fmt.Errorf("load position %d: %w", id, err)
	}
	if !found {
		return nil, fmt.Errorf("load position %d: %w", id, storage.ErrNotFound)
	}
	p, err := decodePosition(&rec)
	if err != nil {
		return nil, fmt.Errorf("load position %d: %w", id, err)
	}
	return p, nil
}

func encodePosition(p *Position) *positionRecord {
	rec := &positionRecord{
		ID:               uint64(p.ID),
		OwnerPrefix:      string(p.Owner.Prefix()),
		Owner:            p.Owner.Bytes(),
		OriginatorPrefix: string(p.Originator.Prefix()),
		Originator:       p.Originator.Bytes(),
		RealDebt:         p.RealDebt.ToBig(),
	}
	for _, kind := range p.FungibleKinds() {
		rec.Fungibles = append(rec.Fungibles, fungibleRecord{Kind: string(kind), Amount: p.Balance(kind).ToBig()})
	}
	for _, kind := range p.Collections() {
		items := p.Items(kind)
		raw := make([]uint64, len(items))
		for i, item := range items {
			raw[i] = uint64(item)
		}
		rec.Collections = append(rec.Collections, collectionRecord{Kind: string(kind), Items: raw})
	}
	return rec
}

func decodePosition(rec *positionRecord) (*Position, error) {
	p := NewPosition(PositionID(rec.ID))
	var err error
	if p.Owner, err = decodeIdentity(rec.OwnerPrefix, rec.Owner); err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	if p.Originator, err = decodeIdentity(rec.OriginatorPrefix, rec.Originator); err != nil {
		return nil, fmt.Errorf("originator: %w", err)
	}
	if err := fromBig(&p.RealDebt, rec.RealDebt); err != nil {
		return nil, fmt.Errorf("real debt: %w", err)
	}
	for _, f := range rec.Fungibles {
		var amount uint256.Int
		if err := fromBig(&amount, f.Amount); err != nil {
			return nil, fmt.Errorf("balance %s: %w", f.Kind, err)
		}
		p.AddFungible(AssetKind(f.Kind), &amount)
	}
	for _, c := range rec.Collections {
		for _, item := range c.Items {
			if err := p.AddNonFungible(AssetKind(c.Kind), ItemID(item)); err != nil {
				return nil, fmt.Errorf("collection %s item %d: %w", c.Kind, item, err)
			}
		}
	}
	return p, nil
}

func decodeIdentity(prefix string, raw []byte) (crypto.Address, error) {
	switch len(raw) {
	case 0:
		return crypto.Address{}, nil
	case crypto.AddressLength:
		return crypto.NewAddress(crypto.AddressPrefix(prefix), raw), nil
	default:
		return crypto.Address{}, fmt.Errorf("identity of %d bytes", len(raw))
	}
}

func encodeMeta(l *Ledger) *metaRecord {
	ids := l.PositionIDs()
	raw := make([]uint64, len(ids))
	for i, id := range ids {
		raw[i] = uint64(id)
	}
	return &metaRecord{
		Version:           storeVersion,
		Interest:          l.deflator.Interest.ToBig(),
		Fee:               l.deflator.Fee.ToBig(),
		LastUpdate:        uint64(l.deflator.LastUpdate),
		Rate:              l.rate.Rate.ToBig(),
		InterestDisbursed: l.totals.InterestDisbursed.ToBig(),
		FeesDisbursed:     l.totals.FeesDisbursed.ToBig(),
		Cycles:            l.totals.Cycles,
		Positions:         raw,
	}
}

func putRLP(batch storage.Batch, key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	batch.Put(key, encoded)
	return nil
}

func getRLP(db storage.Database, key []byte, out interface{}) (bool, error) {
	encoded, err := db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

// fromBig sets dst from a decoded value. A nil value reads as zero; anything
// negative or wider than 256 bits is rejected.
func fromBig(dst *uint256.Int, v *big.Int) error {
	if v == nil {
		dst.Clear()
		return nil
	}
	if v.Sign() < 0 {
		return fmt.Errorf("%w: %s", errStoreRange, v)
	}
	if dst.SetFromBig(v) {
		return fmt.Errorf("%w: %s", errStoreRange, v)
	}
	return nil
}
