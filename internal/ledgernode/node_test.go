package ledgernode

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"nhbledger/config"
	"nhbledger/crypto"
	"nhbledger/native/ledger"
)

func TestOpenSeedsAndRestores(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	owner := crypto.DeriveAddress(crypto.NHBPrefix, "owner")

	node, err := Open(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, node.Ledger.OpenPosition(1, owner, crypto.Address{}))
	_, err = node.Ledger.Unlock(context.Background(), func(context.Context, []byte) ([]byte, error) {
		node.Custody.Fund("NHB", uint256.NewInt(250))
		return nil, node.Ledger.DepositFungible(1, "NHB", uint256.NewInt(250))
	}, nil)
	require.NoError(t, err)
	require.Len(t, node.Events.Events(), 2)
	node.Close()

	reopened, err := Open(cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()
	p, ok := reopened.Ledger.Position(1)
	require.True(t, ok)
	require.True(t, p.Owner.Equal(owner))
	require.Equal(t, "250", p.Balance("NHB").Dec())
	require.Equal(t, "250", reopened.Custody.BalanceOf("NHB").Dec())

	// A withdrawal after restart settles against the rebuilt custody.
	_, err = reopened.Ledger.Unlock(context.Background(), func(context.Context, []byte) ([]byte, error) {
		return nil, reopened.Ledger.WithdrawFungible(owner, 1, "NHB", uint256.NewInt(250), crypto.Address{})
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "250", reopened.Custody.AccountBalance(owner, "NHB").Dec())
}

func TestOpenHonoursPausedModules(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.PausedModules = []string{"ledger"}

	node, err := Open(cfg, nil)
	require.NoError(t, err)
	defer node.Close()
	require.Error(t, node.Ledger.OpenPosition(1, crypto.DeriveAddress(crypto.NHBPrefix, "owner"), crypto.Address{}))
}

func TestOpenRejectsInvalidLedgerConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Ledger.Assets = []ledger.AssetConfig{{Kind: "ETH", Oracle: "chainlink"}}
	_, err := Open(cfg, nil)
	require.Error(t, err)
}
