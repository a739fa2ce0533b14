package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	appledger "github.com/Simply-Furaha/App/internal/application/ledger"
	domledger "github.com/Simply-Furaha/App/internal/domain/ledger"
	domoutbox "github.com/Simply-Furaha/App/internal/domain/outbox"
	dompay "github.com/Simply-Furaha/App/internal/domain/payment"
	"github.com/Simply-Furaha/App/internal/domain/phone"
	"github.com/Simply-Furaha/App/internal/infrastructure/id"
	"github.com/Simply-Furaha/App/internal/infrastructure/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	memberPhone = "0712345678"
	waitFor     = 2 * time.Second
	tick        = 5 * time.Millisecond
)

type step struct {
	outcome dompay.Outcome
	err     error
}

func pending() step { return step{outcome: dompay.Outcome{Status: dompay.GatewayPending}} }
func success(receipt string) step {
	return step{outcome: dompay.Outcome{Status: dompay.GatewaySuccess, ReceiptNumber: receipt}}
}
func declined(reason string) step {
	return step{outcome: dompay.Outcome{Status: dompay.GatewayFailed, FailureReason: reason}}
}
func transient() step { return step{err: errors.New("connection reset by peer")} }

// fakeGateway replays a script of query results per correlation id; the last
// step repeats. An empty script answers pending forever.
type fakeGateway struct {
	mu          sync.Mutex
	initiateErr error
	onInitiate  func()
	initiated   []InitiateRequest
	script      []step
	queries     map[string]int
	next        int
}

func newFakeGateway(script ...step) *fakeGateway {
	return &fakeGateway{script: script, queries: make(map[string]int)}
}

func (g *fakeGateway) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	if g.onInitiate != nil {
		g.onInitiate()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initiated = append(g.initiated, req)
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	g.next++
	return &InitiateResponse{
		CorrelationID:     fmt.Sprintf("ws_CO_%03d", g.next),
		MerchantRequestID: fmt.Sprintf("mr-%03d", g.next),
		Instructions:      []string{"Enter your M-PESA PIN"},
	}, nil
}

func (g *fakeGateway) QueryStatus(_ context.Context, correlationID string) (dompay.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.queries[correlationID]
	g.queries[correlationID]++
	if len(g.script) == 0 {
		return dompay.Outcome{Status: dompay.GatewayPending}, nil
	}
	if i >= len(g.script) {
		i = len(g.script) - 1
	}
	s := g.script[i]
	return s.outcome, s.err
}

func (g *fakeGateway) setScript(script ...step) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.script = script
}

func (g *fakeGateway) queryCount(correlationID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queries[correlationID]
}

func (g *fakeGateway) initiateCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.initiated)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e.EventName())
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type reconcilerFunc func(ctx context.Context, r *dompay.Request) error

func (f reconcilerFunc) Apply(ctx context.Context, r *dompay.Request) error { return f(ctx, r) }

type harness struct {
	orch      *Orchestrator
	repo      *memory.PaymentRepository
	ledger    *memory.LedgerStore
	ledgerSvc *appledger.Service
	gw        *fakeGateway
	pub       *recordingPublisher
}

type option func(*Dependencies, *Config)

func withReconciler(r Reconciler) option {
	return func(d *Dependencies, _ *Config) { d.Reconciler = r }
}

func withDeadline(d time.Duration) option {
	return func(_ *Dependencies, c *Config) { c.Deadline = d }
}

func newHarness(t *testing.T, gw *fakeGateway, opts ...option) *harness {
	t.Helper()
	repo := memory.NewPaymentRepository()
	store := memory.NewLedgerStore()
	ids := id.NewUUIDGenerator()
	svc := appledger.NewService(store, nil)
	pub := &recordingPublisher{}

	deps := Dependencies{
		Repo:        repo,
		Gateway:     gw,
		Reconciler:  appledger.NewReconciler(store, ids, nil),
		IDs:         ids,
		Eligibility: svc,
		Publisher:   pub,
	}
	cfg := Config{Deadline: waitFor, PollInterval: tick, QueryTimeout: time.Second}
	for _, opt := range opts {
		opt(&deps, &cfg)
	}

	orch := NewOrchestrator(deps, cfg, nil)
	t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })
	return &harness{orch: orch, repo: repo, ledger: store, ledgerSvc: svc, gw: gw, pub: pub}
}

func (h *harness) registerLoan(t *testing.T, loanID int64, memberID string, due int64) {
	t.Helper()
	_, err := h.ledgerSvc.RegisterLoan(context.Background(), loanID, memberID, decimal.NewFromInt(due))
	require.NoError(t, err)
}

func (h *harness) submit(t *testing.T, target dompay.Target, amount int64) *SubmitResult {
	t.Helper()
	res, err := h.orch.Execute(context.Background(), SubmitInput{
		Target:       target,
		Amount:       decimal.NewFromInt(amount),
		DefaultPhone: memberPhone,
	})
	require.NoError(t, err)
	require.Equal(t, dompay.StatePending, res.State)
	return res
}

func (h *harness) waitState(t *testing.T, ref string, want dompay.State) *dompay.Request {
	t.Helper()
	var last *dompay.Request
	require.Eventually(t, func() bool {
		req, err := h.orch.GetState(context.Background(), ref)
		if err != nil {
			return false
		}
		last = req
		return req.State == want
	}, waitFor, tick)
	return last
}

func TestContributionSucceedsAfterPendingPolls(t *testing.T) {
	h := newHarness(t, newFakeGateway(pending(), pending(), success("QGH7X1ABC")))
	target := dompay.ContributionTarget("m1", "2024-05")

	res := h.submit(t, target, 2000)
	assert.NotEmpty(t, res.CorrelationID)
	assert.Equal(t, []string{"Enter your M-PESA PIN"}, res.Instructions)

	req := h.waitState(t, res.CorrelationID, dompay.StateSucceeded)
	assert.Equal(t, 3, req.Attempts)
	assert.Equal(t, "QGH7X1ABC", req.ReceiptNumber)
	assert.Equal(t, "254712345678", req.PhoneNumber)
	assert.False(t, req.CompletedAt.IsZero())

	sum, err := h.ledger.ContributionSummary(context.Background(), "m1", "2024-05")
	require.NoError(t, err)
	require.Len(t, sum.Entries, 1)
	assert.True(t, sum.Total.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, res.CorrelationID, sum.Entries[0].CorrelationID)

	require.Eventually(t, func() bool { return h.orch.ActiveLoops() == 0 }, waitFor, tick)
	assert.Equal(t, []string{"payment.pending", "payment.succeeded"}, h.pub.names())
}

func TestDuplicateLoanSubmitReturnsExistingCorrelation(t *testing.T) {
	h := newHarness(t, newFakeGateway())
	h.registerLoan(t, 42, "m1", 5000)
	target := dompay.LoanRepaymentTarget("m1", 42)

	first := h.submit(t, target, 1000)

	_, err := h.orch.Execute(context.Background(), SubmitInput{
		Target:       target,
		Amount:       decimal.NewFromInt(1000),
		DefaultPhone: memberPhone,
	})
	require.ErrorIs(t, err, dompay.ErrDuplicateRequestInProgress)
	var dup *dompay.DuplicateRequestError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first.CorrelationID, dup.Existing.CorrelationID)
	assert.Equal(t, 1, h.gw.initiateCount())
}

func TestConcurrentSubmitsClaimTargetOnce(t *testing.T) {
	h := newHarness(t, newFakeGateway())
	target := dompay.ContributionTarget("m1", "2024-06")

	var wg sync.WaitGroup
	var ok, dup atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Execute(context.Background(), SubmitInput{
				Target:       target,
				Amount:       decimal.NewFromInt(500),
				DefaultPhone: memberPhone,
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, dompay.ErrDuplicateRequestInProgress):
				dup.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(15), dup.Load())
	assert.Equal(t, 1, h.gw.initiateCount())
	assert.Equal(t, 1, h.orch.ActiveLoops())
}

func TestSubmitAmountBoundaries(t *testing.T) {
	h := newHarness(t, newFakeGateway())

	for i, amount := range []string{"0", "70001", "1.5", "99.99"} {
		_, err := h.orch.Execute(context.Background(), SubmitInput{
			Target:       dompay.ContributionTarget("m1", fmt.Sprintf("2024-0%d", i+1)),
			Amount:       decimal.RequireFromString(amount),
			DefaultPhone: memberPhone,
		})
		assert.ErrorIs(t, err, dompay.ErrInvalidAmount, "amount %s", amount)
	}
	assert.Equal(t, 0, h.gw.initiateCount())

	_, err := h.repo.FindActive(context.Background(), dompay.ContributionTarget("m1", "2024-03"))
	assert.ErrorIs(t, err, dompay.ErrNotFound)

	h.submit(t, dompay.ContributionTarget("m1", "2024-09"), 70000)
	assert.Equal(t, 1, h.gw.initiateCount())
}

func TestSubmitSurvivesCallerCancellationDuringPush(t *testing.T) {
	gw := newFakeGateway()
	h := newHarness(t, gw)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.onInitiate = cancel

	res, err := h.orch.Execute(ctx, SubmitInput{
		Target:       dompay.ContributionTarget("m1", "2024-05"),
		Amount:       decimal.NewFromInt(100),
		DefaultPhone: memberPhone,
	})
	require.NoError(t, err)
	assert.Equal(t, dompay.StatePending, res.State)
	assert.Equal(t, "ws_CO_001", res.CorrelationID)

	stored, err := h.orch.GetState(context.Background(), res.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, dompay.StatePending, stored.State)
	assert.Empty(t, stored.FailureCode)
}

func TestSubmitPhoneHandling(t *testing.T) {
	h := newHarness(t, newFakeGateway())

	_, err := h.orch.Execute(context.Background(), SubmitInput{
		Target:       dompay.ContributionTarget("m1", "2024-05"),
		Amount:       decimal.NewFromInt(100),
		PhoneNumber:  "12345",
		DefaultPhone: memberPhone,
	})
	require.ErrorIs(t, err, phone.ErrInvalidFormat)

	res, err := h.orch.Execute(context.Background(), SubmitInput{
		Target:       dompay.ContributionTarget("m1", "2024-05"),
		Amount:       decimal.NewFromInt(100),
		PhoneNumber:  "+254 799 000 111",
		DefaultPhone: memberPhone,
	})
	require.NoError(t, err)
	req, err := h.orch.GetState(context.Background(), res.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, "254799000111", req.PhoneNumber)
}

func TestGatewayRejectionFailsRequestAndFreesTarget(t *testing.T) {
	gw := newFakeGateway()
	gw.initiateErr = errors.New("Invalid Access Token")
	h := newHarness(t, gw)
	target := dompay.ContributionTarget("m1", "2024-05")

	res, err := h.orch.Execute(context.Background(), SubmitInput{Target: target, Amount: decimal.NewFromInt(100), DefaultPhone: memberPhone})
	require.ErrorIs(t, err, dompay.ErrGatewayRejected)
	require.NotNil(t, res)
	assert.Equal(t, dompay.StateFailed, res.State)
	assert.Empty(t, res.CorrelationID)

	req, err := h.orch.GetState(context.Background(), res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, dompay.FailureGatewayRejected, req.FailureCode)
	assert.Equal(t, "Invalid Access Token", req.FailureReason)
	assert.Equal(t, 0, h.orch.ActiveLoops())

	gw.mu.Lock()
	gw.initiateErr = nil
	gw.mu.Unlock()
	h.submit(t, target, 100)
}

func TestDeclineKeepsReasonVerbatim(t *testing.T) {
	h := newHarness(t, newFakeGateway(pending(), declined("Request cancelled by user")))

	res := h.submit(t, dompay.ContributionTarget("m1", "2024-05"), 2000)
	req := h.waitState(t, res.CorrelationID, dompay.StateFailed)
	assert.Equal(t, dompay.FailureDeclined, req.FailureCode)
	assert.Equal(t, "Request cancelled by user", req.FailureReason)

	seen, err := h.ledger.HasEntry(context.Background(), res.CorrelationID)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestTransientQueryErrorsAreRetried(t *testing.T) {
	h := newHarness(t, newFakeGateway(transient(), transient(), success("R-1")))

	res := h.submit(t, dompay.ContributionTarget("m1", "2024-05"), 300)
	req := h.waitState(t, res.CorrelationID, dompay.StateSucceeded)
	assert.Equal(t, 3, req.Attempts)
}

func TestTimesOutAtDeadlineNotBefore(t *testing.T) {
	h := newHarness(t, newFakeGateway(), withDeadline(120*time.Millisecond))

	res := h.submit(t, dompay.ContributionTarget("m1", "2024-05"), 300)
	early, err := h.orch.GetState(context.Background(), res.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, dompay.StatePending, early.State)

	req := h.waitState(t, res.CorrelationID, dompay.StateTimedOut)
	assert.False(t, req.CompletedAt.Before(req.DeadlineAt))
	assert.Empty(t, req.FailureCode)

	seen, err := h.ledger.HasEntry(context.Background(), res.CorrelationID)
	require.NoError(t, err)
	assert.False(t, seen)
	assert.Contains(t, h.pub.names(), "payment.timed_out")
}

func TestCancelLeavesPendingAndResumeContinues(t *testing.T) {
	gw := newFakeGateway()
	h := newHarness(t, gw)

	res := h.submit(t, dompay.ContributionTarget("m1", "2024-05"), 750)
	require.Eventually(t, func() bool { return gw.queryCount(res.CorrelationID) >= 2 }, waitFor, tick)

	req, err := h.orch.Cancel(context.Background(), res.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, dompay.StatePending, req.State)
	assert.Equal(t, 0, h.orch.ActiveLoops())

	queried := gw.queryCount(res.CorrelationID)
	time.Sleep(10 * tick)
	assert.Equal(t, queried, gw.queryCount(res.CorrelationID))
	still, err := h.orch.GetState(context.Background(), res.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, dompay.StatePending, still.State)

	gw.setScript(success("R-RESUMED"))
	_, err = h.orch.Resume(context.Background(), res.CorrelationID)
	require.NoError(t, err)
	done := h.waitState(t, res.CorrelationID, dompay.StateSucceeded)
	assert.Equal(t, "R-RESUMED", done.ReceiptNumber)
}

func TestDuplicateSuccessReportAppliesLedgerOnce(t *testing.T) {
	h := newHarness(t, newFakeGateway(success("R-1")))

	res := h.submit(t, dompay.ContributionTarget("m1", "2024-05"), 2000)
	h.waitState(t, res.CorrelationID, dompay.StateSucceeded)

	req, err := h.orch.ReportOutcome(context.Background(), res.CorrelationID, dompay.Outcome{Status: dompay.GatewaySuccess, ReceiptNumber: "R-1"})
	require.NoError(t, err)
	assert.Equal(t, dompay.StateSucceeded, req.State)

	sum, err := h.ledger.ContributionSummary(context.Background(), "m1", "2024-05")
	require.NoError(t, err)
	assert.Len(t, sum.Entries, 1)
}

func TestTerminalStateIgnoresLaterOutcomes(t *testing.T) {
	h := newHarness(t, newFakeGateway(declined("Insufficient funds")))

	res := h.submit(t, dompay.ContributionTarget("m1", "2024-05"), 2000)
	h.waitState(t, res.CorrelationID, dompay.StateFailed)

	req, err := h.orch.ReportOutcome(context.Background(), res.CorrelationID, dompay.Outcome{Status: dompay.GatewaySuccess, ReceiptNumber: "R-X"})
	require.NoError(t, err)
	assert.Equal(t, dompay.StateFailed, req.State)
	assert.Equal(t, "Insufficient funds", req.FailureReason)

	seen, err := h.ledger.HasEntry(context.Background(), res.CorrelationID)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestLateSuccessAfterTimeoutCreditsLedgerOnly(t *testing.T) {
	h := newHarness(t, newFakeGateway(), withDeadline(50*time.Millisecond))

	res := h.submit(t, dompay.ContributionTarget("m1", "2024-05"), 1500)
	h.waitState(t, res.CorrelationID, dompay.StateTimedOut)

	for i := 0; i < 2; i++ {
		req, err := h.orch.ReportOutcome(context.Background(), res.CorrelationID, dompay.Outcome{Status: dompay.GatewaySuccess, ReceiptNumber: "R-LATE"})
		require.NoError(t, err)
		assert.Equal(t, dompay.StateTimedOut, req.State)
	}

	sum, err := h.ledger.ContributionSummary(context.Background(), "m1", "2024-05")
	require.NoError(t, err)
	require.Len(t, sum.Entries, 1)
	assert.Equal(t, "R-LATE", sum.Entries[0].ReceiptNumber)
	assert.Contains(t, h.pub.names(), "payment.late_confirmed")
}

func TestReportOutcomeResolvesPendingRequest(t *testing.T) {
	h := newHarness(t, newFakeGateway())

	res := h.submit(t, dompay.ContributionTarget("m1", "2024-05"), 900)
	req, err := h.orch.ReportOutcome(context.Background(), res.CorrelationID, dompay.Outcome{Status: dompay.GatewaySuccess, ReceiptNumber: "R-CB"})
	require.NoError(t, err)
	assert.Equal(t, dompay.StateSucceeded, req.State)
	require.Eventually(t, func() bool { return h.orch.ActiveLoops() == 0 }, waitFor, tick)

	_, err = h.orch.ReportOutcome(context.Background(), "ws_CO_missing", dompay.Outcome{Status: dompay.GatewaySuccess})
	assert.ErrorIs(t, err, dompay.ErrNotFound)
}

func TestReconcileFailureKeepsPendingUntilItSucceeds(t *testing.T) {
	store := memory.NewLedgerStore()
	real := appledger.NewReconciler(store, id.NewUUIDGenerator(), nil)
	var calls atomic.Int32
	flaky := reconcilerFunc(func(ctx context.Context, r *dompay.Request) error {
		if calls.Add(1) <= 2 {
			return errors.New("ledger unavailable")
		}
		return real.Apply(ctx, r)
	})
	h := newHarness(t, newFakeGateway(success("R-9")), withReconciler(flaky))

	res := h.submit(t, dompay.ContributionTarget("m1", "2024-05"), 400)
	req := h.waitState(t, res.CorrelationID, dompay.StateSucceeded)
	assert.GreaterOrEqual(t, req.Attempts, 3)

	seen, err := store.HasEntry(context.Background(), res.CorrelationID)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestLoanRepaymentOverpaymentSettlesLoan(t *testing.T) {
	h := newHarness(t, newFakeGateway(success("R-LOAN")))
	h.registerLoan(t, 42, "m1", 500)

	res := h.submit(t, dompay.LoanRepaymentTarget("m1", 42), 800)
	h.waitState(t, res.CorrelationID, dompay.StateSucceeded)

	loan, err := h.ledgerSvc.Loan(context.Background(), "m1", 42)
	require.NoError(t, err)
	assert.Equal(t, domledger.LoanPaid, loan.Status)
	assert.True(t, loan.Balance().IsZero())

	ops, err := h.ledgerSvc.Overpayments(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.True(t, ops[0].Excess.Equal(decimal.NewFromInt(300)))

	_, err = h.orch.Execute(context.Background(), SubmitInput{Target: dompay.LoanRepaymentTarget("m1", 42), Amount: decimal.NewFromInt(10), DefaultPhone: memberPhone})
	assert.ErrorIs(t, err, domledger.ErrLoanSettled)
}

func TestLoanRepaymentRequiresKnownLoan(t *testing.T) {
	h := newHarness(t, newFakeGateway())

	_, err := h.orch.Execute(context.Background(), SubmitInput{Target: dompay.LoanRepaymentTarget("m1", 7), Amount: decimal.NewFromInt(10), DefaultPhone: memberPhone})
	assert.ErrorIs(t, err, domledger.ErrLoanNotFound)
	assert.Equal(t, 0, h.gw.initiateCount())
}

func TestResumePendingAfterRestart(t *testing.T) {
	h := newHarness(t, newFakeGateway(success("R-RESTART")))
	ctx := context.Background()
	now := time.Now().UTC()

	stranded, err := dompay.NewRequest("req-pending", dompay.ContributionTarget("m1", "2024-05"), decimal.NewFromInt(100), "254712345678", now)
	require.NoError(t, err)
	require.NoError(t, stranded.BeginInitiating(now))
	require.NoError(t, h.repo.Claim(ctx, stranded))
	require.NoError(t, stranded.MarkPending("ws_CO_restart", "mr", now.Add(time.Second), now))
	require.NoError(t, h.repo.Update(ctx, stranded))

	interrupted, err := dompay.NewRequest("req-initiating", dompay.ContributionTarget("m1", "2024-06"), decimal.NewFromInt(100), "254712345678", now)
	require.NoError(t, err)
	require.NoError(t, interrupted.BeginInitiating(now))
	require.NoError(t, h.repo.Claim(ctx, interrupted))

	sum, err := h.orch.ResumePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResumeSummary{Resumed: 1, Failed: 1}, sum)

	failed, err := h.orch.GetState(ctx, "req-initiating")
	require.NoError(t, err)
	assert.Equal(t, dompay.StateFailed, failed.State)
	assert.Equal(t, dompay.FailureInitiationInterrupted, failed.FailureCode)

	h.waitState(t, "ws_CO_restart", dompay.StateSucceeded)
}

func TestResumeOfTerminalRequestIsNoop(t *testing.T) {
	h := newHarness(t, newFakeGateway(success("R-1")))

	res := h.submit(t, dompay.ContributionTarget("m1", "2024-05"), 100)
	h.waitState(t, res.CorrelationID, dompay.StateSucceeded)

	req, err := h.orch.Resume(context.Background(), res.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, dompay.StateSucceeded, req.State)
	assert.Equal(t, 0, h.orch.ActiveLoops())
}

func TestHistoryAndPrune(t *testing.T) {
	h := newHarness(t, newFakeGateway(declined("DS timeout user cannot be reached")))

	for _, period := range []string{"2024-01", "2024-02"} {
		res := h.submit(t, dompay.ContributionTarget("m1", period), 100)
		h.waitState(t, res.CorrelationID, dompay.StateFailed)
	}
	h.submit(t, dompay.ContributionTarget("m2", "2024-01"), 100)

	items, err := h.orch.History(context.Background(), "m1", 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "2024-02", items[0].Target.Period)

	n, err := h.orch.PruneCompleted(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	time.Sleep(20 * time.Millisecond)
	n, err = h.orch.PruneCompleted(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestShutdownStopsLoopsAndRefusesSubmits(t *testing.T) {
	h := newHarness(t, newFakeGateway())

	res := h.submit(t, dompay.ContributionTarget("m1", "2024-05"), 100)
	require.NoError(t, h.orch.Shutdown(context.Background()))
	assert.Equal(t, 0, h.orch.ActiveLoops())

	req, err := h.orch.GetState(context.Background(), res.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, dompay.StatePending, req.State)

	_, err = h.orch.Execute(context.Background(), SubmitInput{Target: dompay.ContributionTarget("m1", "2024-07"), Amount: decimal.NewFromInt(1), DefaultPhone: memberPhone})
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestKeyLockReleasesEntries(t *testing.T) {
	locks := newKeyLock()
	unlock := locks.Lock("a")
	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		locks.Lock("a")()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-acquired
	assert.Equal(t, 0, locks.size())
}
