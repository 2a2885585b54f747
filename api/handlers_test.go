package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kbeggemot/fiscal-engine/api"
	"github.com/kbeggemot/fiscal-engine/bus"
	"github.com/kbeggemot/fiscal-engine/cluster"
	"github.com/kbeggemot/fiscal-engine/fiscal"
	"github.com/kbeggemot/fiscal-engine/ledger"
	"github.com/kbeggemot/fiscal-engine/payout"
	"github.com/kbeggemot/fiscal-engine/store/memory"
	"github.com/kbeggemot/fiscal-engine/worker"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// stubStatusClient answers every status query with one scripted result.
type stubStatusClient struct {
	res fiscal.StatusResult
	err error
}

func (s *stubStatusClient) ReceiptStatus(context.Context, string) (fiscal.StatusResult, error) {
	return s.res, s.err
}

// stubTaskClient answers every task query with one scripted task.
type stubTaskClient struct {
	task payout.Task
	err  error
}

func (s *stubTaskClient) GetTask(context.Context, string) (payout.Task, error) {
	return s.task, s.err
}

type testEnv struct {
	store  *memory.Store
	router http.Handler
	bus    *bus.Bus
	fiscal *stubStatusClient
	payout *stubTaskClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { store.Close() })

	fiscalStub := &stubStatusClient{res: fiscal.StatusResult{Outcome: fiscal.OutcomePending}}
	payoutStub := &stubTaskClient{task: payout.Task{Type: "withdrawal", Status: "processing"}}
	events := bus.New()
	log := zap.NewNop()

	repair := &worker.Repair{Ledger: store, Fiscal: fiscalStub, Bus: events, Log: log}
	poller := &worker.Poller{Ledger: store, Payout: payoutStub, Bus: events, Log: log}
	loop := cluster.NewLeaderLoop(cluster.NewMemoryLease(), cluster.LoopConfig{
		Interval: time.Hour,
		TTL:      time.Hour,
	}, log, repair)

	h := &api.Handler{
		Ledger: store,
		Repair: repair,
		Poller: poller,
		Loop:   loop,
		Bus:    events,
		Log:    log,
	}
	return &testEnv{store: store, router: api.NewRouter(h), bus: events, fiscal: fiscalStub, payout: payoutStub}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func seedSale(t *testing.T, store *memory.Store) {
	t.Helper()
	require.NoError(t, store.InsertSale(context.Background(), ledger.Sale{
		UserID:          "u-1",
		OrderID:         "o-1",
		TaskID:          "task-1",
		Amount:          decimal.NewFromInt(1500),
		Status:          "pending",
		PrepayInvoiceID: "inv-prepay-1",
	}))
}

// =============================================================================
// SALES
// =============================================================================

func TestListSales(t *testing.T) {
	env := newTestEnv(t)
	seedSale(t, env.store)

	rec := env.do(t, http.MethodGet, "/api/sales?user=u-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var sales []api.SaleDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sales))
	require.Len(t, sales, 1)
	assert.Equal(t, "o-1", sales[0].OrderID)
	assert.Equal(t, "1500", sales[0].Amount)
	assert.Equal(t, "absent", sales[0].Receipts["prepay"].State)
}

func TestListSales_MissingUserParam(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/sales", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_param", decodeError(t, rec).Code)
}

func TestGetSaleByTask(t *testing.T) {
	env := newTestEnv(t)
	seedSale(t, env.store)

	rec := env.do(t, http.MethodGet, "/api/sales/by-task/task-1?user=u-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var sale api.SaleDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sale))
	assert.Equal(t, "o-1", sale.OrderID)
}

func TestGetSaleByTask_UnknownTask(t *testing.T) {
	env := newTestEnv(t)
	seedSale(t, env.store)

	rec := env.do(t, http.MethodGet, "/api/sales/by-task/unknown?user=u-1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Code)

	// A lookup miss must never create a placeholder sale.
	_, err := env.store.GetSale(context.Background(), "u-1", "unknown")
	assert.ErrorIs(t, err, ledger.ErrSaleNotFound)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestResyncSale(t *testing.T) {
	env := newTestEnv(t)
	seedSale(t, env.store)
	env.fiscal.res = fiscal.StatusResult{
		Outcome: fiscal.OutcomeResolved, ReceiptID: "rcpt-1", URL: "https://receipt.example/1",
	}

	rec := env.do(t, http.MethodPost, "/api/admin/sales/o-1/resync",
		`{"userId":"u-1","kind":"prepay"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var sale api.SaleDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sale))
	assert.Equal(t, "resolved", sale.Receipts["prepay"].State)
	assert.Equal(t, "https://receipt.example/1", sale.Receipts["prepay"].URL)
}

func TestResyncSale_InvalidKind(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/admin/sales/o-1/resync",
		`{"userId":"u-1","kind":"bogus"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_param", decodeError(t, rec).Code)
}

func TestResyncSale_NotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/admin/sales/missing/resync",
		`{"userId":"u-1","kind":"prepay"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunScheduleNow(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/admin/schedule/run", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.RunNowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Leader, "an uncontended lease makes this instance the leader")
}

func TestRebuildIndexes(t *testing.T) {
	env := newTestEnv(t)
	seedSale(t, env.store)

	rec := env.do(t, http.MethodPost, "/api/admin/indexes/rebuild", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var rep ledger.RebuildReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, 1, rep.Processed)
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

func TestRefreshWithdrawal(t *testing.T) {
	env := newTestEnv(t)
	env.payout.task = payout.Task{Type: "withdrawal", Status: "paid", PaidAt: "2026-03-05T10:00:00Z"}

	rec := env.do(t, http.MethodPost, "/api/withdrawals/t-1/refresh?user=u-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res worker.PollResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Done)
	assert.Equal(t, "paid", res.Status)
}

func TestRefreshWithdrawal_MissingUserParam(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/withdrawals/t-1/refresh", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWithdrawalAudit(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.AppendWithdrawalAudit(context.Background(), "u-1", "t-1", "noted"))

	rec := env.do(t, http.MethodGet, "/api/withdrawals/t-1/audit?user=u-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var lines []api.AuditLineDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lines))
	require.Len(t, lines, 1)
	assert.Equal(t, "noted", lines[0].Text)
}

// =============================================================================
// EVENTS (SSE)
// =============================================================================

func TestEvents_MissingUserParam(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_param", decodeError(t, rec).Code)
}

func TestEvents_DeliversPastServerWriteTimeout(t *testing.T) {
	// GIVEN: a server whose write timeout is far shorter than the life
	// of the stream, as in production
	env := newTestEnv(t)
	srv := httptest.NewUnstartedServer(env.router)
	srv.Config.WriteTimeout = 250 * time.Millisecond
	srv.Start()
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/events?user=u-1")
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool {
		return env.bus.Subscribers("u-1") == 1
	}, time.Second, 5*time.Millisecond)

	// WHEN: an event is published after the connection has outlived
	// the server's write timeout
	time.Sleep(400 * time.Millisecond)
	env.bus.Publish(bus.Event{Type: "receipt.resolved", UserID: "u-1", OrderID: "o-1"})

	frames := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
				frames <- strings.TrimPrefix(line, "data: ")
				return
			}
		}
	}()

	// THEN: the stream still delivers it
	select {
	case frame := <-frames:
		var ev bus.Event
		require.NoError(t, json.Unmarshal([]byte(frame), &ev))
		assert.Equal(t, "receipt.resolved", ev.Type)
		assert.Equal(t, "o-1", ev.OrderID)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered over the stream")
	}
}
