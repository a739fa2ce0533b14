package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	appPayment "github.com/Simply-Furaha/App/internal/application/payment"
	domledger "github.com/Simply-Furaha/App/internal/domain/ledger"
	dompay "github.com/Simply-Furaha/App/internal/domain/payment"
	"github.com/Simply-Furaha/App/internal/domain/phone"
	"github.com/Simply-Furaha/App/internal/observability"
	"github.com/Simply-Furaha/App/internal/observability/logctx"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// PaymentService is the part of the orchestrator the HTTP surface drives.
type PaymentService interface {
	Execute(ctx context.Context, cmd appPayment.SubmitInput) (*appPayment.SubmitResult, error)
	GetState(ctx context.Context, correlationID string) (*dompay.Request, error)
	Cancel(ctx context.Context, correlationID string) (*dompay.Request, error)
	Resume(ctx context.Context, correlationID string) (*dompay.Request, error)
	History(ctx context.Context, memberID string, limit int) ([]*dompay.Request, error)
	ReportOutcome(ctx context.Context, correlationID string, outcome dompay.Outcome) (*dompay.Request, error)
}

// LedgerService answers member ledger reads and registers loans.
type LedgerService interface {
	ContributionSummary(ctx context.Context, memberID, period string) (domledger.ContributionSummary, error)
	Loan(ctx context.Context, memberID string, loanID int64) (*domledger.Loan, error)
	Overpayments(ctx context.Context, memberID string) ([]domledger.Overpayment, error)
	RegisterLoan(ctx context.Context, loanID int64, memberID string, amountDue decimal.Decimal) (*domledger.Loan, error)
}

type Handler struct {
	payments PaymentService
	ledger   LedgerService
	validate *validator.Validate
	log      observability.Logger
	tel      observability.Observability

	reqCounter   observability.Counter   // http_requests_total{method,route,status}
	durHistogram observability.Histogram // http_request_duration_seconds{method,route,status}
}

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerMemberID       = "X-Member-ID"
	headerMemberPhone    = "X-Member-Phone"
)

var errMemberRequired = errors.New("member identity is required")

func NewHandler(payments PaymentService, ledger LedgerService, logger observability.Logger,
	tel observability.Observability,
) *Handler {
	tel = observability.Or(tel)
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = tel.Logger()
	}
	return &Handler{
		payments:     payments,
		ledger:       ledger,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		log:          baseLogger.With(observability.F("component", componentHTTPHandler)),
		tel:          tel,
		reqCounter:   tel.Metrics().Counter(observability.MHTTPRequests),
		durHistogram: tel.Metrics().Histogram(observability.MHTTPRequestDuration),
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Trace → request logger → access log → metrics → handler, per route.
	h.handle(r, http.MethodPost, "/v1/payments/contributions", h.handleSubmitContribution)
	h.handle(r, http.MethodPost, "/v1/payments/loans/{loanID}/repayments", h.handleSubmitLoanRepayment)
	h.handle(r, http.MethodGet, "/v1/payments", h.handleHistory)
	h.handle(r, http.MethodGet, "/v1/payments/{correlationID}", h.handleGetPayment)
	h.handle(r, http.MethodPost, "/v1/payments/{correlationID}/cancel", h.handleCancelPayment)
	h.handle(r, http.MethodPost, "/v1/payments/{correlationID}/resume", h.handleResumePayment)

	h.handle(r, http.MethodGet, "/v1/ledger/contributions/{period}", h.handleContributionSummary)
	h.handle(r, http.MethodGet, "/v1/ledger/loans/{loanID}", h.handleGetLoan)
	h.handle(r, http.MethodGet, "/v1/ledger/overpayments", h.handleOverpayments)

	h.handle(r, http.MethodPost, "/v1/admin/payments/{correlationID}/outcome", h.handleReportOutcome)
	h.handle(r, http.MethodPut, "/v1/admin/loans/{loanID}", h.handleRegisterLoan)

	h.handle(r, http.MethodGet, "/health", h.handleHealth)

	return r
}

func (h *Handler) handle(r chi.Router, method, pattern string, handler http.HandlerFunc) {
	route := method + " " + pattern
	wrapped := h.withTrace(
		ObservabilityMiddleware(
			h.log,
			func(r *http.Request) string {
				return r.Header.Get(headerRequestID)
			},
			func(r *http.Request) string {
				return r.Header.Get(headerMemberID)
			},
			h.tel,
		)(
			h.withAccessLog(
				h.withHTTPMetrics(handler),
			),
		),
	)
	r.Method(method, pattern, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		// stable route template for low-cardinality labels
		wrapped.ServeHTTP(w, req.WithContext(contextWithRoute(req.Context(), route)))
	}))
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// member is the caller identity supplied by the upstream auth proxy.
type member struct {
	ID    string
	Phone string
}

func memberFrom(r *http.Request) (member, bool) {
	m := member{ID: r.Header.Get(headerMemberID), Phone: r.Header.Get(headerMemberPhone)}
	return m, m.ID != ""
}

// decodeBody decodes a JSON body and runs struct validation on it.
func (h *Handler) decodeBody(r *http.Request, dst any) error {
	if err := decodeJSON(r.Context(), r, dst); err != nil {
		return err
	}
	return h.validate.Struct(dst)
}

func decodeJSON(ctx context.Context, r *http.Request, dst any) error {
	_ = ctx
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var dup *dompay.DuplicateRequestError
	switch {
	case errors.As(err, &dup):
		body := errorResponse{Error: err.Error()}
		if dup.Existing != nil {
			body.CorrelationID = dup.Existing.CorrelationID
			body.State = string(dup.Existing.State)
		}
		writeJSON(w, http.StatusConflict, body)
	case errors.Is(err, dompay.ErrNotFound),
		errors.Is(err, domledger.ErrLoanNotFound),
		errors.Is(err, domledger.ErrLoanOwnership):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, dompay.ErrInvalidAmount),
		errors.Is(err, dompay.ErrInvalidTarget),
		errors.Is(err, phone.ErrInvalidFormat),
		errors.Is(err, domledger.ErrInvalidAmount):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, domledger.ErrLoanSettled),
		errors.Is(err, domledger.ErrLoanExists),
		errors.Is(err, dompay.ErrInvalidStateTransition),
		errors.Is(err, dompay.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, dompay.ErrGatewayRejected):
		writeError(w, http.StatusBadGateway, err)
	case errors.Is(err, appPayment.ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		logctx.FromOr(r.Context(), h.log).Error("http_internal_error", observability.F("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err)
	}
}
