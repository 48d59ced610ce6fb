package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"nhbledger/core/events"
	"nhbledger/core/types"
	"nhbledger/crypto"
	"nhbledger/native/common"
	"nhbledger/native/ledger"
)

var testOwner = crypto.DeriveAddress(crypto.NHBPrefix, "owner")

func newTestLedger(t *testing.T, emitter events.Emitter) (*ledger.Ledger, *ledger.MemoryCustody) {
	t.Helper()
	cfg := ledger.DefaultConfig()
	cfg.Assets = []ledger.AssetConfig{{Kind: "ETH", MarginRatio: "0.1", Oracle: "fixed", OracleData: "2"}}
	custody := ledger.NewMemoryCustody()
	l, err := ledger.NewFromConfig(cfg, ledger.DefaultOracles(), custody, nil)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	clock := time.Unix(1_700_000_000, 0)
	l.SetClock(func() time.Time { return clock })
	if emitter != nil {
		l.SetEmitter(emitter)
	}
	if err := l.OpenPosition(1, testOwner, crypto.Address{}); err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = l.Unlock(context.Background(), func(context.Context, []byte) ([]byte, error) {
		custody.Fund("ETH", uint256.NewInt(1_000))
		if err := l.DepositFungible(1, "ETH", uint256.NewInt(1_000)); err != nil {
			return nil, err
		}
		return nil, l.Borrow(testOwner, 1, uint256.NewInt(500), crypto.Address{})
	}, nil)
	if err != nil {
		t.Fatalf("seed cycle: %v", err)
	}
	return l, custody
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Events == nil {
		cfg.Events = events.NewRecorder(16)
	}
	l, _ := newTestLedger(t, cfg.Events)
	srv, err := New(cfg, l, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func get(t *testing.T, srv *Server, path string, out any) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return rec.Code
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, Config{})
	if code := get(t, srv, "/healthz", nil); code != http.StatusOK {
		t.Fatalf("healthz status %d", code)
	}
	if code := get(t, srv, "/metrics", nil); code != http.StatusOK {
		t.Fatalf("metrics status %d", code)
	}
}

func TestStateView(t *testing.T) {
	srv := newTestServer(t, Config{})
	var state stateView
	if code := get(t, srv, "/v1/state", &state); code != http.StatusOK {
		t.Fatalf("state status %d", code)
	}
	if state.QuoteKind != "NHB" || state.OpenPositions != 1 || state.CycleState != "open" {
		t.Fatalf("unexpected state %+v", state)
	}
	if state.ExchangeRate != "1.0001" || state.Totals.Cycles != 1 || state.LastCycleID == "" {
		t.Fatalf("unexpected accrual state %+v", state)
	}
	if len(state.Global.Fungibles) != 1 || state.Global.Fungibles[0].Amount != "1000" {
		t.Fatalf("unexpected global holdings %+v", state.Global)
	}
}

func TestPositionAndAppraisal(t *testing.T) {
	srv := newTestServer(t, Config{})
	var ids struct {
		Positions []uint64 `json:"positions"`
	}
	if code := get(t, srv, "/v1/positions", &ids); code != http.StatusOK || len(ids.Positions) != 1 || ids.Positions[0] != 1 {
		t.Fatalf("unexpected position list %d %v", code, ids.Positions)
	}

	var pos positionView
	if code := get(t, srv, "/v1/positions/1", &pos); code != http.StatusOK {
		t.Fatalf("position status %d", code)
	}
	if pos.Owner != testOwner.String() || pos.RealDebt != "500" || pos.NominalDebt != "501" {
		t.Fatalf("unexpected position %+v", pos)
	}

	var appraisal appraisalView
	if code := get(t, srv, "/v1/positions/1/appraisal", &appraisal); code != http.StatusOK {
		t.Fatalf("appraisal status %d", code)
	}
	// 1000 ETH at 2 is 2000 native units, converted at 1.0001.
	if appraisal.Value != "2000" || appraisal.Margin != "201" || appraisal.Debt != "501" || !appraisal.Solvent {
		t.Fatalf("unexpected appraisal %+v", appraisal)
	}
}

func TestPositionErrors(t *testing.T) {
	srv := newTestServer(t, Config{})
	tests := map[string]int{
		"/v1/positions/7":           http.StatusNotFound,
		"/v1/positions/0/appraisal": http.StatusNotFound,
		"/v1/positions/x":           http.StatusBadRequest,
		"/v1/positions/-1":          http.StatusBadRequest,
	}
	for path, want := range tests {
		if code := get(t, srv, path, nil); code != want {
			t.Fatalf("%s: status %d, want %d", path, code, want)
		}
	}
}

func TestAccrueRunsEmptyCycle(t *testing.T) {
	srv := newTestServer(t, Config{})
	report, err := srv.Accrue(context.Background())
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if report.ID == "" || len(report.Touched) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	var state stateView
	get(t, srv, "/v1/state", &state)
	if state.Totals.Cycles != 2 || state.LastCycleID != report.ID || state.OwedSettlements != 0 {
		t.Fatalf("state not updated after accrue: %+v", state)
	}
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{RequestsPerMinute: 1, Burst: 2})
	for i := 0; i < 2; i++ {
		if code := get(t, srv, "/v1/state", nil); code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, code)
		}
	}
	if code := get(t, srv, "/v1/state", nil); code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %d", code)
	}
	if code := get(t, srv, "/healthz", nil); code != http.StatusOK {
		t.Fatalf("health checks must not be limited, got %d", code)
	}
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	now := time.Unix(0, 0)
	rl := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1}, nil)
	rl.clockNow = func() time.Time { return now }
	rl.obtainLimiter("a")
	now = now.Add(visitorTTL + time.Second)
	rl.obtainLimiter("b")
	if _, ok := rl.visitors["a"]; ok || len(rl.visitors) != 1 {
		t.Fatalf("idle client not swept: %v", rl.visitors)
	}
}

func TestClientID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	if got := clientID(req); got != "10.0.0.9" {
		t.Fatalf("remote addr client %q", got)
	}
	req.Header.Set("X-Forwarded-For", "192.0.2.1, 10.0.0.1")
	if got := clientID(req); got != "192.0.2.1" {
		t.Fatalf("forwarded client %q", got)
	}
	req.Header.Set("X-Real-IP", "198.51.100.4")
	if got := clientID(req); got != "198.51.100.4" {
		t.Fatalf("real ip client %q", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("wrap: %w", ledger.ErrDoesNotExist), http.StatusNotFound},
		{&ledger.PositionAtRiskError{ID: 3}, http.StatusUnprocessableEntity},
		{ledger.ErrNotEmpty, http.StatusConflict},
		{ledger.ErrAmountNotReceived, http.StatusConflict},
		{ledger.ErrNotOwner, http.StatusForbidden},
		{common.ErrModulePaused, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestRecentEvents(t *testing.T) {
	srv := newTestServer(t, Config{})
	var body struct {
		Events []types.Event `json:"events"`
	}
	if code := get(t, srv, "/v1/events", &body); code != http.StatusOK {
		t.Fatalf("events status %d", code)
	}
	if len(body.Events) != 2 {
		t.Fatalf("expected open and commit events, got %+v", body.Events)
	}
	if body.Events[0].Type != events.TypeLedgerPositionOpened || body.Events[0].Attr("id") != "1" {
		t.Fatalf("unexpected first event %+v", body.Events[0])
	}
	if body.Events[1].Type != events.TypeLedgerCycleCommitted || body.Events[1].Attr("touched") != "1" {
		t.Fatalf("unexpected second event %+v", body.Events[1])
	}
}
