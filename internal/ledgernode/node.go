// Package ledgernode assembles a persistent ledger from node configuration.
package ledgernode

import (
	"fmt"
	"log/slog"

	"nhbledger/config"
	"nhbledger/core/events"
	"nhbledger/native/ledger"
	"nhbledger/observability/metrics"
	"nhbledger/storage"
)

// Node bundles a ledger with the database backing it.
type Node struct {
	Ledger  *ledger.Ledger
	Custody *ledger.MemoryCustody
	Store   *ledger.Store
	Events  *events.Recorder
	db      storage.Database
}

const recentEvents = 256

// Open opens the LevelDB store under the configured data directory and
// restores the ledger persisted there. A fresh store is seeded with the
// configured initial state.
func Open(cfg *config.Config, logger *slog.Logger) (*Node, error) {
	db, err := storage.NewLevelDB(cfg.LedgerDBPath())
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	node, err := OpenWith(cfg, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return node, nil
}

// OpenWith restores a ledger from db, which the returned node takes ownership of.
func OpenWith(cfg *config.Config, db storage.Database, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	custody := ledger.NewMemoryCustody()
	l, err := ledger.NewFromConfig(cfg.Ledger, ledger.DefaultOracles(), custody, nil)
	if err != nil {
		return nil, fmt.Errorf("build ledger: %w", err)
	}
	store := ledger.NewStore(db)
	found, err := store.Load(l)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if !found {
		if err := store.Snapshot(l); err != nil {
			return nil, fmt.Errorf("seed ledger: %w", err)
		}
	}
	// Custody is not persisted; rebuild it from the booked aggregate so the
	// received checks of later cycles start from a consistent balance.
	global := l.Global()
	for _, kind := range global.FungibleKinds() {
		custody.Fund(kind, global.Balance(kind))
	}
	for _, kind := range global.Collections() {
		for _, item := range global.Items(kind) {
			custody.FundItem(kind, item)
		}
	}

	recorder := events.NewRecorder(recentEvents)
	l.SetEmitter(recorder)
	l.SetStore(store)
	l.SetLogger(logger.With("component", "ledger"))
	l.SetMetrics(metrics.Ledger())
	l.SetPauses(cfg.Pauses())
	metrics.Ledger().SetOpenPositions(len(l.PositionIDs()))
	logger.Info("ledger ready", "restored", found, "positions", len(l.PositionIDs()))

	return &Node{Ledger: l, Custody: custody, Store: store, Events: recorder, db: db}, nil
}

// Close releases the database.
func (n *Node) Close() {
	if n != nil && n.db != nil {
		n.db.Close()
	}
}
