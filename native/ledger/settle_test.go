package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"nhbledger/crypto"
	"nhbledger/storage"
)

var errRejected = errors.New("transfer rejected")

// rejectingCustody rejects the next rejectItems item transfers.
type rejectingCustody struct {
	*MemoryCustody
	rejectItems int
}

func (c *rejectingCustody) TransferItem(to crypto.Address, kind AssetKind, item ItemID) error {
	if c.rejectItems > 0 {
		c.rejectItems--
		return errRejected
	}
	return c.MemoryCustody.TransferItem(to, kind, item)
}

func withCustody(t *testing.T, f *fixture, custody Custody) {
	t.Helper()
	l, err := New(f.l.Address(), "NHB", f.risk, custody, nil)
	require.NoError(t, err)
	l.SetClock(func() time.Time { return f.clock })
	f.l = l
}

func TestRejectedSettlementIsCarriedToNextCycle(t *testing.T) {
	f := newFixture(t)
	custody := &rejectingCustody{MemoryCustody: f.custody}
	withCustody(t, f, custody)
	f.open(t, 1)
	require.NoError(t, f.cycle(func(context.Context) error {
		if err := f.deposit(1, "NHB", 1_000); err != nil {
			return err
		}
		f.custody.FundItem("PUNK", 3)
		return f.l.DepositNonFungible(1, "PUNK", 3)
	}))

	custody.rejectItems = 1
	err := f.cycle(func(context.Context) error {
		if err := f.l.WithdrawFungible(f.owner, 1, "NHB", uint256.NewInt(400), f.other); err != nil {
			return err
		}
		return f.l.WithdrawNonFungible(f.owner, 1, "PUNK", 3, f.other)
	})
	require.ErrorIs(t, err, ErrSettlementIncomplete)
	require.ErrorIs(t, err, errRejected)

	// The cycle stands: books and custody agree on the fungible movement.
	p, _ := f.l.Position(1)
	require.Equal(t, "600", p.Balance("NHB").Dec())
	require.False(t, p.HasItem("PUNK", 3))
	require.Equal(t, "600", f.custody.BalanceOf("NHB").Dec())
	require.Equal(t, "400", f.custody.AccountBalance(f.other, "NHB").Dec())
	require.Equal(t, uint64(2), f.l.Totals().Cycles)
	require.Equal(t, 1, f.l.Owed())
	require.NoError(t, f.l.Reconcile())

	// The next cycle replays the owed movement before anything else.
	require.NoError(t, f.cycle(func(context.Context) error { return nil }))
	require.Equal(t, 0, f.l.Owed())
	require.False(t, f.custody.HoldsItem("PUNK", 3))
	owner, ok := f.custody.ItemOwner("PUNK", 3)
	require.True(t, ok)
	require.Equal(t, f.other.String(), owner)
}

func TestOwedOutflowIsNotReadAsReceived(t *testing.T) {
	f := newFixture(t)
	custody := &rejectingCustody{MemoryCustody: f.custody}
	withCustody(t, f, custody)
	f.open(t, 1)
	f.open(t, 2)
	require.NoError(t, f.cycle(func(context.Context) error {
		f.custody.FundItem("PUNK", 3)
		return f.l.DepositNonFungible(1, "PUNK", 3)
	}))

	custody.rejectItems = 2
	err := f.cycle(func(context.Context) error {
		return f.l.WithdrawNonFungible(f.owner, 1, "PUNK", 3, f.other)
	})
	require.ErrorIs(t, err, ErrSettlementIncomplete)

	// The retry at cycle start fails again, so the item is still owed.
	err = f.cycle(func(context.Context) error {
		return f.l.DepositNonFungible(2, "PUNK", 3)
	})
	require.ErrorIs(t, err, ErrAmountNotReceived)
	require.Equal(t, 1, f.l.Owed())
}

func TestSettlementPreconditionAbortsWithoutMovement(t *testing.T) {
	f := newFixture(t)
	f.open(t, 1)
	require.NoError(t, f.cycle(func(context.Context) error {
		return f.deposit(1, "NHB", 1_000)
	}))
	// Custody loses holdings behind the ledger's back.
	require.NoError(t, f.custody.Transfer(testAddress("sink"), "NHB", uint256.NewInt(500)))

	err := f.cycle(func(context.Context) error {
		if err := f.l.WithdrawFungible(f.owner, 1, "NHB", uint256.NewInt(400), f.other); err != nil {
			return err
		}
		return f.l.WithdrawFungible(f.owner, 1, "NHB", uint256.NewInt(400), f.other)
	})
	require.ErrorIs(t, err, ErrSettlementPrecondition)

	p, _ := f.l.Position(1)
	require.Equal(t, "1000", p.Balance("NHB").Dec())
	require.Equal(t, "500", f.custody.BalanceOf("NHB").Dec())
	require.True(t, f.custody.AccountBalance(f.other, "NHB").IsZero())
	require.Equal(t, 0, f.l.Owed())
}

// failingDB fails the next failures batch writes.
type failingDB struct {
	*storage.MemDB
	failures int
}

var errDiskFull = errors.New("disk full")

func (db *failingDB) NewBatch() storage.Batch {
	return &failingBatch{Batch: db.MemDB.NewBatch(), db: db}
}

type failingBatch struct {
	storage.Batch
	db *failingDB
}

func (b *failingBatch) Write() error {
	if b.db.failures > 0 {
		b.db.failures--
		return errDiskFull
	}
	return b.Batch.Write()
}

func TestFailedPersistIsRetriedByNextCommit(t *testing.T) {
	f := newFixture(t)
	db := &failingDB{MemDB: storage.NewMemDB(), failures: 1}
	f.l.SetStore(NewStore(db))

	err := f.cycle(func(context.Context) error {
		if err := f.l.OpenPosition(7, f.owner, crypto.Address{}); err != nil {
			return err
		}
		return f.deposit(7, "NHB", 100)
	})
	require.ErrorIs(t, err, errDiskFull)
	p, ok := f.l.Position(7)
	require.True(t, ok)
	require.Equal(t, "100", p.Balance("NHB").Dec())

	require.NoError(t, f.cycle(func(context.Context) error { return nil }))

	restored, err := New(f.l.Address(), "NHB", f.risk, f.custody, nil)
	require.NoError(t, err)
	found, err := NewStore(db).Load(restored)
	require.NoError(t, err)
	require.True(t, found)
	got, ok := restored.Position(7)
	require.True(t, ok)
	require.Equal(t, "100", got.Balance("NHB").Dec())
	require.NoError(t, restored.Reconcile())
}

func TestFailedFlushIsRetried(t *testing.T) {
	f := newFixture(t)
	db := &failingDB{MemDB: storage.NewMemDB(), failures: 1}
	f.l.SetStore(NewStore(db))
	f.open(t, 3)

	require.ErrorIs(t, f.l.Flush(), errDiskFull)
	require.NoError(t, f.l.Flush())
	_, err := db.Get(positionKey(3))
	require.NoError(t, err)
}

func TestRepayBelowOneDebtUnitRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.l.SetExchangeRate(mustWad(t, "1.1")))
	f.open(t, 1)
	require.NoError(t, f.cycle(func(context.Context) error {
		if err := f.deposit(1, "NHB", 1_000_000); err != nil {
			return err
		}
		return f.l.Borrow(f.owner, 1, uint256.NewInt(100_000), crypto.Address{})
	}))
	f.clock = f.clock.Add(365 * 24 * time.Hour)
	require.NoError(t, f.cycle(func(context.Context) error { return nil }))

	before, _ := f.l.Position(1)
	debt := new(uint256.Int).Set(&before.RealDebt)
	held := f.custody.BalanceOf("NHB")

	err := f.cycle(func(context.Context) error {
		f.custody.Fund("NHB", uint256.NewInt(1))
		_, err := f.l.Repay(1, uint256.NewInt(1))
		return err
	})
	require.ErrorIs(t, err, ErrInvalidAmount)

	after, _ := f.l.Position(1)
	require.True(t, after.RealDebt.Eq(debt))
	// The unit stays in custody, unbooked; nothing was retired.
	require.Equal(t, new(uint256.Int).AddUint64(held, 1).Dec(), f.custody.BalanceOf("NHB").Dec())
}
