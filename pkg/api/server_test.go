package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/tbcoin-labs/core/pkg/eventlog"
	"github.com/tbcoin-labs/core/pkg/governance"
	"github.com/tbcoin-labs/core/pkg/orders"
	"github.com/tbcoin-labs/core/pkg/recovery"
	"github.com/tbcoin-labs/core/pkg/signing"
	"github.com/tbcoin-labs/core/pkg/token"
)

const (
	testAuthority = "authority-1"
	testSecret    = "api-secret"
)

type fixture struct {
	handler http.Handler
	events  *eventlog.Store
	ledger  *token.Ledger
	now     time.Time
}

func newFixture(t *testing.T, limiter *rate.Limiter) *fixture {
	t.Helper()
	events, err := eventlog.Open(filepath.Join(t.TempDir(), "event-logs.json"), nil)
	require.NoError(t, err)
	ledger := token.NewLedger(token.Params{Mint: "m", Symbol: "TBC", Name: "TB Coin", Decimals: 9})
	book := orders.NewBook()
	now := time.Now()
	engine := governance.NewEngine(governance.Config{
		UpdateAuthority: testAuthority,
		Secret:          testSecret,
	}, ledger, events, nil).WithClock(func() time.Time { return now })
	coordinator := recovery.NewCoordinator(events, ledger, book, nil)

	server := NewServer(ledger, book, engine, events, coordinator, limiter, nil)
	return &fixture{handler: server.Handler(), events: events, ledger: ledger, now: now}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(0), body["last_event_sequence"])
}

func TestMintFlow(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/token/mint", map[string]any{
		"wallet": "w1", "amount": "100",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "100", body["balance"])
	assert.Equal(t, "100", body["supply"])

	logged := f.events.Query(eventlog.Filter{Type: eventlog.TypeTokenMint})
	require.Len(t, logged, 1)
	assert.Equal(t, "100", logged[0].Payload["amount"])

	rec = f.do(t, http.MethodGet, "/api/token/balance/w1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", decodeBody(t, rec)["balance"])
}

func TestMintRejectsNonIntegerAmount(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/token/mint", map[string]any{
		"wallet": "w1", "amount": "1.5",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestTransferAndBurn(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/api/token/mint", map[string]any{"wallet": "w1", "amount": "100"})

	rec := f.do(t, http.MethodPost, "/api/token/transfer", map[string]any{
		"from": "w1", "to": "w2", "amount": "40",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	balances := decodeBody(t, rec)["balances"].(map[string]any)
	assert.Equal(t, "60", balances["from"])
	assert.Equal(t, "40", balances["to"])

	rec = f.do(t, http.MethodPost, "/api/token/burn", map[string]any{
		"wallet": "w2", "amount": "40",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "60", decodeBody(t, rec)["supply"])
}

func TestOverdraftTransferMapsToConflict(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/token/transfer", map[string]any{
		"from": "w1", "to": "w2", "amount": "1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	// No event is logged for a rejected transfer.
	assert.Empty(t, f.events.Query(eventlog.Filter{Type: eventlog.TypeTokenTransfer}))
}

func (f *fixture) signedModification(t *testing.T, instruction governance.Instruction, params governance.Parameters) governance.Modification {
	t.Helper()
	timestamp := f.now.UnixMilli()
	payload := struct {
		Instruction governance.Instruction `json:"instruction"`
		Parameters  governance.Parameters  `json:"parameters"`
		Authority   string                 `json:"authority"`
		Timestamp   int64                  `json:"timestamp"`
	}{instruction, params, testAuthority, timestamp}
	sig, err := signing.Compute(payload, testSecret)
	require.NoError(t, err)
	return governance.Modification{
		Instruction: instruction,
		Parameters:  params,
		Authority:   testAuthority,
		Timestamp:   timestamp,
		Signature:   sig,
	}
}

func TestContractModify(t *testing.T) {
	f := newFixture(t, nil)
	mod := f.signedModification(t, governance.InstructionModifyTax, governance.Parameters{
		Field: "taxRate", Value: 0.02,
	})

	rec := f.do(t, http.MethodPost, "/api/contract/modify", mod)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	snapshot := body["snapshot"].(map[string]any)
	assert.Equal(t, 0.02, snapshot["taxRate"])

	logged := f.events.Query(eventlog.Filter{Type: eventlog.TypeContractModified})
	assert.Len(t, logged, 1)
}

func TestContractModifyRejectsBadSignature(t *testing.T) {
	f := newFixture(t, nil)
	mod := f.signedModification(t, governance.InstructionModifyTax, governance.Parameters{
		Field: "taxRate", Value: 0.02,
	})
	mod.Signature = "deadbeef"

	rec := f.do(t, http.MethodPost, "/api/contract/modify", mod)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0.0, f.ledger.Snapshot().TaxRate)
}

func TestContractStatusAndSelfCheck(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/contract/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody(t, rec)["status"].(map[string]any)
	tokenBody := status["token"].(map[string]any)
	assert.Equal(t, "TBC", tokenBody["symbol"])

	rec = f.do(t, http.MethodPost, "/api/contract/test-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	results := decodeBody(t, rec)["results"].(map[string]any)
	for _, group := range []string{"mint", "transfer", "burn", "modify", "orders"} {
		checks := results[group].([]any)
		require.NotEmpty(t, checks, group)
		for _, c := range checks {
			check := c.(map[string]any)
			assert.Equal(t, true, check["success"], check["name"])
		}
	}
}

func TestOrderLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/orders/create", map[string]any{
		"order_type": "LIMIT_BUY", "amount": 100, "price": 0.05, "wallet": "w1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	created := decodeBody(t, rec)["order"].(map[string]any)
	id := created["id"].(string)
	require.NotEmpty(t, id)

	rec = f.do(t, http.MethodPut, "/api/orders/edit/"+id, map[string]any{"amount": 150})
	require.Equal(t, http.StatusOK, rec.Code)
	edited := decodeBody(t, rec)["order"].(map[string]any)
	assert.Equal(t, float64(150), edited["amount"])

	rec = f.do(t, http.MethodDelete, "/api/orders/cancel/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cancelled := decodeBody(t, rec)["order"].(map[string]any)
	assert.Equal(t, "CANCELLED", cancelled["status"])

	rec = f.do(t, http.MethodGet, "/api/orders/history?wallet=w1&status=CANCELLED", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody(t, rec)["history"].([]any)
	assert.Len(t, history, 1)
}

func TestOrderEditUnknownIDMapsToConflict(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPut, "/api/orders/edit/missing", map[string]any{"amount": 1})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEventLogsFilters(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/api/token/mint", map[string]any{"wallet": "w1", "amount": "1"})
	f.do(t, http.MethodPost, "/api/token/mint", map[string]any{"wallet": "w1", "amount": "2"})
	f.do(t, http.MethodPost, "/api/token/burn", map[string]any{"wallet": "w1", "amount": "1"})

	rec := f.do(t, http.MethodGet, "/api/events/logs?type=TOKEN_MINT", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decodeBody(t, rec)["logs"].([]any)
	assert.Len(t, logs, 2)

	rec = f.do(t, http.MethodGet, "/api/events/logs?limit=1", nil)
	logs = decodeBody(t, rec)["logs"].([]any)
	require.Len(t, logs, 1)
	assert.Equal(t, float64(3), logs[0].(map[string]any)["sequence"])

	rec = f.do(t, http.MethodGet, "/api/events/logs?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResumeEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.events.Append(eventlog.TypeTokenMint,
		map[string]any{"wallet": "w9", "amount": "7"}, eventlog.StatusFailed)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/events/resume", map[string]any{"only_failed": true})
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody(t, rec)["summary"].(map[string]any)
	assert.Equal(t, float64(1), summary["resumedOperations"])
	assert.Equal(t, float64(1), summary["successRate"])
	assert.Equal(t, "7", f.ledger.Balance("w9").Balance.String())
}

func TestResumeWithEmptyBodyUsesDefaults(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.events.Append(eventlog.TypeTokenMint,
		map[string]any{"wallet": "w9", "amount": "3"}, eventlog.StatusFailed)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/events/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody(t, rec)["summary"].(map[string]any)
	assert.Equal(t, float64(1), summary["resumedOperations"])
	assert.Equal(t, "3", f.ledger.Balance("w9").Balance.String())
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, rate.NewLimiter(rate.Limit(0.0001), 1))

	rec := f.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestMalformedJSONBody(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/token/mint", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
