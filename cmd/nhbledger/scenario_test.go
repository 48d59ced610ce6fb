package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"nhbledger/crypto"
)

const testConfig = `ListenAddress = ":8090"
DataDir = %q

[ledger]
QuoteKind = "NHB"
InitialExchangeRate = "1.1"

[[ledger.asset]]
Kind = "ETH"
MarginRatio = "0.1"
Oracle = "fixed"
OracleData = "2"
`

const borrowScenario = `rate: "1.1"
steps:
  - op: open
    id: 1
    owner: alice
  - op: deposit
    id: 1
    kind: ETH
    amount: "1000"
  - op: borrow
    id: 1
    caller: alice
    amount: "500"
`

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	return writeFile(t, dir, "config.toml", strings.Replace(testConfig, "%q", `"`+filepath.ToSlash(filepath.Join(dir, "data"))+`"`, 1))
}

func TestLoadScenarioRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadScenario(writeFile(t, dir, "bad.yaml", "steps:\n  - op: open\n    colour: red\n"))
	require.Error(t, err)
	_, err = LoadScenario(writeFile(t, dir, "empty.yaml", "advance: 10\n"))
	require.Error(t, err)
}

func TestRunDryRunPrintsSummary(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	scPath := writeFile(t, dir, "borrow.yaml", borrowScenario)

	var out bytes.Buffer
	require.NoError(t, run(cfgPath, scPath, true, &out))

	var got summary
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.NotEmpty(t, got.CycleID)
	require.Equal(t, []uint64{1}, got.Touched)
	require.Equal(t, "1.1", got.ExchangeRate)
	require.Len(t, got.Positions, 1)
	require.Equal(t, "500", got.Positions[0].RealDebt)
	require.Equal(t, "501", got.Positions[0].NominalDebt)
	require.Equal(t, "2200", got.Positions[0].Value)
	require.Equal(t, crypto.DeriveAddress(crypto.NHBPrefix, "alice").String(), got.Positions[0].Owner)

	_, err := os.Stat(filepath.Join(dir, "data"))
	require.True(t, os.IsNotExist(err), "dry run must not create the data directory")
}

func TestRunPersistsAcrossInvocations(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	require.NoError(t, run(cfgPath, writeFile(t, dir, "borrow.yaml", borrowScenario), false, &bytes.Buffer{}))

	repay := `steps:
  - op: repay
    id: 1
    amount: "1000"
  - op: withdraw
    id: 1
    caller: alice
    kind: ETH
    amount: "1000"
  - op: close
    id: 1
    caller: alice
`
	var out bytes.Buffer
	require.NoError(t, run(cfgPath, writeFile(t, dir, "repay.yaml", repay), false, &out))
	var got summary
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Empty(t, got.Positions)
}

func TestRunReportsAbortedCycle(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	risky := strings.Replace(borrowScenario, `amount: "500"`, `amount: "2000"`, 1)
	err := run(cfgPath, writeFile(t, dir, "risky.yaml", risky), true, &bytes.Buffer{})
	require.ErrorContains(t, err, "cycle aborted")
}

func TestIdentity(t *testing.T) {
	addr := crypto.DeriveAddress(crypto.LedgerPrefix, "module/ledger")
	got, err := identity(addr.String())
	require.NoError(t, err)
	require.True(t, got.Equal(addr))

	got, err = identity("bob")
	require.NoError(t, err)
	require.True(t, got.Equal(crypto.DeriveAddress(crypto.NHBPrefix, "bob")))

	got, err = identity("")
	require.NoError(t, err)
	require.True(t, got.IsZero())

	_, err = identity("two words")
	require.Error(t, err)
}

func TestStepRejectsUnknownOp(t *testing.T) {
	err := Step{Op: "liquidate"}.apply(nil, nil)
	require.ErrorContains(t, err, "unknown op")
}
