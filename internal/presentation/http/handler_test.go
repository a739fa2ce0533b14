package httppresentation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	appledger "github.com/Simply-Furaha/App/internal/application/ledger"
	appPayment "github.com/Simply-Furaha/App/internal/application/payment"
	dompay "github.com/Simply-Furaha/App/internal/domain/payment"
	"github.com/Simply-Furaha/App/internal/infrastructure/id"
	"github.com/Simply-Furaha/App/internal/infrastructure/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pendingGateway accepts every push and answers pending until told otherwise.
type pendingGateway struct {
	mu          sync.Mutex
	next        int
	initiateErr error
}

func (g *pendingGateway) Initiate(_ context.Context, _ appPayment.InitiateRequest) (*appPayment.InitiateResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	g.next++
	return &appPayment.InitiateResponse{
		CorrelationID: fmt.Sprintf("ws_CO_%03d", g.next),
		Instructions:  []string{"Enter your M-PESA PIN"},
	}, nil
}

func (g *pendingGateway) QueryStatus(context.Context, string) (dompay.Outcome, error) {
	return dompay.Outcome{Status: dompay.GatewayPending}, nil
}

func (g *pendingGateway) reject(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initiateErr = err
}

type testServer struct {
	t      *testing.T
	router http.Handler
	gw     *pendingGateway
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewLedgerStore()
	ledgerSvc := appledger.NewService(store, nil)
	gw := &pendingGateway{}
	orch := appPayment.NewOrchestrator(appPayment.Dependencies{
		Repo:        memory.NewPaymentRepository(),
		Gateway:     gw,
		Reconciler:  appledger.NewReconciler(store, id.NewUUIDGenerator(), nil),
		IDs:         id.NewUUIDGenerator(),
		Eligibility: ledgerSvc,
	}, appPayment.Config{Deadline: time.Minute, PollInterval: time.Second}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return &testServer{t: t, router: NewHandler(orch, ledgerSvc, nil, nil).Router(), gw: gw}
}

func (s *testServer) do(method, path, memberID string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if memberID != "" {
		req.Header.Set(headerMemberID, memberID)
		req.Header.Set(headerMemberPhone, "0712345678")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
}

func TestSubmitContributionRequiresMember(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/v1/payments/contributions", "", map[string]any{"period": "2024-05", "amount": 2000})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestContributionLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/v1/payments/contributions", "m-1", map[string]any{"period": "2024-05", "amount": "2000"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	sub := decode[submitResponse](t, rec)
	assert.Equal(t, "ws_CO_001", sub.CorrelationID)
	assert.Equal(t, string(dompay.StatePending), sub.State)
	assert.NotNil(t, sub.DeadlineAt)
	assert.Equal(t, []string{"Enter your M-PESA PIN"}, sub.Instructions)

	dup := s.do(http.MethodPost, "/v1/payments/contributions", "m-1", map[string]any{"period": "2024-05", "amount": 500})
	require.Equal(t, http.StatusConflict, dup.Code)
	assert.Equal(t, "ws_CO_001", decode[errorResponse](t, dup).CorrelationID)

	other := s.do(http.MethodGet, "/v1/payments/ws_CO_001", "m-2", nil)
	assert.Equal(t, http.StatusNotFound, other.Code)

	got := s.do(http.MethodGet, "/v1/payments/ws_CO_001", "m-1", nil)
	require.Equal(t, http.StatusOK, got.Code)
	view := decode[paymentResponse](t, got)
	assert.Equal(t, "pending", view.State)
	assert.Equal(t, "2000.00", view.Amount)
	assert.Equal(t, "254712***678", view.PhoneNumber)

	out := s.do(http.MethodPost, "/v1/admin/payments/ws_CO_001/outcome", "", map[string]any{
		"status":         "success",
		"receipt_number": "QKJ81XYZ",
	})
	require.Equal(t, http.StatusOK, out.Code, out.Body.String())
	assert.Equal(t, "succeeded", decode[paymentResponse](t, out).State)

	sum := s.do(http.MethodGet, "/v1/ledger/contributions/2024-05", "m-1", nil)
	require.Equal(t, http.StatusOK, sum.Code)
	summary := decode[contributionSummaryResponse](t, sum)
	assert.Equal(t, "2000.00", summary.Total)
	require.Len(t, summary.Entries, 1)
	assert.Equal(t, "QKJ81XYZ", summary.Entries[0].ReceiptNumber)

	hist := s.do(http.MethodGet, "/v1/payments?limit=10", "m-1", nil)
	require.Equal(t, http.StatusOK, hist.Code)
	assert.Len(t, decode[historyResponse](t, hist).Items, 1)
}

func TestSubmitValidation(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		body any
		want int
	}{
		{"amount below minimum", map[string]any{"period": "2024-05", "amount": 0}, http.StatusUnprocessableEntity},
		{"amount above maximum", map[string]any{"period": "2024-05", "amount": 70001}, http.StatusUnprocessableEntity},
		{"fractional amount", map[string]any{"period": "2024-05", "amount": "1.5"}, http.StatusUnprocessableEntity},
		{"bad phone", map[string]any{"period": "2024-05", "amount": 100, "phone_number": "12345"}, http.StatusUnprocessableEntity},
		{"bad period", map[string]any{"period": "May", "amount": 100}, http.StatusUnprocessableEntity},
		{"missing period", map[string]any{"amount": 100}, http.StatusBadRequest},
		{"unknown field", map[string]any{"period": "2024-05", "amount": 100, "tip": 5}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/v1/payments/contributions", "m-1", tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestLoanRepaymentRoutes(t *testing.T) {
	s := newTestServer(t)

	bad := s.do(http.MethodPost, "/v1/payments/loans/abc/repayments", "m-1", map[string]any{"amount": 100})
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	unknown := s.do(http.MethodPost, "/v1/payments/loans/42/repayments", "m-1", map[string]any{"amount": 100})
	assert.Equal(t, http.StatusNotFound, unknown.Code)

	reg := s.do(http.MethodPut, "/v1/admin/loans/42", "", map[string]any{"member_id": "m-1", "amount_due": "1500"})
	require.Equal(t, http.StatusCreated, reg.Code, reg.Body.String())
	assert.Equal(t, "1500.00", decode[loanResponse](t, reg).Balance)

	again := s.do(http.MethodPut, "/v1/admin/loans/42", "", map[string]any{"member_id": "m-2", "amount_due": "9000"})
	assert.Equal(t, http.StatusConflict, again.Code)

	foreign := s.do(http.MethodPost, "/v1/payments/loans/42/repayments", "m-2", map[string]any{"amount": 100})
	assert.Equal(t, http.StatusNotFound, foreign.Code)

	rec := s.do(http.MethodPost, "/v1/payments/loans/42/repayments", "m-1", map[string]any{"amount": 2000})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	cid := decode[submitResponse](t, rec).CorrelationID

	out := s.do(http.MethodPost, "/v1/admin/payments/"+cid+"/outcome", "", map[string]any{
		"status":         "success",
		"receipt_number": "QKJ90ABC",
	})
	require.Equal(t, http.StatusOK, out.Code, out.Body.String())

	loan := s.do(http.MethodGet, "/v1/ledger/loans/42", "m-1", nil)
	require.Equal(t, http.StatusOK, loan.Code)
	view := decode[loanResponse](t, loan)
	assert.Equal(t, "paid", view.Status)
	assert.Equal(t, "0.00", view.Balance)

	over := s.do(http.MethodGet, "/v1/ledger/overpayments", "m-1", nil)
	require.Equal(t, http.StatusOK, over.Code)
	items := decode[overpaymentsResponse](t, over).Items
	require.Len(t, items, 1)
	assert.Equal(t, "500.00", items[0].Excess)

	settled := s.do(http.MethodPost, "/v1/payments/loans/42/repayments", "m-1", map[string]any{"amount": 100})
	assert.Equal(t, http.StatusConflict, settled.Code)
}

func TestCancelAndResume(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/v1/payments/contributions", "m-1", map[string]any{"period": "2024-06", "amount": 300})
	require.Equal(t, http.StatusAccepted, rec.Code)

	cancelled := s.do(http.MethodPost, "/v1/payments/ws_CO_001/cancel", "m-1", nil)
	require.Equal(t, http.StatusOK, cancelled.Code)
	assert.Equal(t, "pending", decode[paymentResponse](t, cancelled).State)

	resumed := s.do(http.MethodPost, "/v1/payments/ws_CO_001/resume", "m-1", nil)
	require.Equal(t, http.StatusOK, resumed.Code)
	assert.Equal(t, "pending", decode[paymentResponse](t, resumed).State)

	missing := s.do(http.MethodPost, "/v1/payments/ws_CO_999/cancel", "m-1", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestGatewayRejectionReturnsBadGateway(t *testing.T) {
	s := newTestServer(t)
	s.gw.reject(errors.New("Invalid Access Token"))

	rec := s.do(http.MethodPost, "/v1/payments/contributions", "m-1", map[string]any{"period": "2024-05", "amount": 100})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode[submitResponse](t, rec)
	assert.Equal(t, "failed", body.State)
	assert.Contains(t, body.FailureReason, "Invalid Access Token")

	// the target is free again
	s.gw.reject(nil)
	again := s.do(http.MethodPost, "/v1/payments/contributions", "m-1", map[string]any{"period": "2024-05", "amount": 100})
	assert.Equal(t, http.StatusAccepted, again.Code)
}

func TestReportOutcomeValidation(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/v1/admin/payments/ws_CO_001/outcome", "", map[string]any{"status": "success"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/v1/admin/payments/ws_CO_001/outcome", "", map[string]any{"status": "failed"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryLimitValidation(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/v1/payments?limit=0", "m-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodGet, "/v1/payments", "m-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[historyResponse](t, rec).Items)
}
