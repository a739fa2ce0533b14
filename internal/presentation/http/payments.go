package httppresentation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	appPayment "github.com/Simply-Furaha/App/internal/application/payment"
	dompay "github.com/Simply-Furaha/App/internal/domain/payment"

	"github.com/go-chi/chi/v5"
)

const maxHistoryLimit = 200

func (h *Handler) handleSubmitContribution(w http.ResponseWriter, r *http.Request) {
	m, ok := memberFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errMemberRequired)
		return
	}
	var req submitContributionRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.submit(w, r, appPayment.SubmitInput{
		Target:       dompay.ContributionTarget(m.ID, req.Period),
		Amount:       req.Amount,
		PhoneNumber:  req.PhoneNumber,
		DefaultPhone: m.Phone,
	})
}

func (h *Handler) handleSubmitLoanRepayment(w http.ResponseWriter, r *http.Request) {
	m, ok := memberFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errMemberRequired)
		return
	}
	loanID, err := loanIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req submitLoanRepaymentRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.submit(w, r, appPayment.SubmitInput{
		Target:       dompay.LoanRepaymentTarget(m.ID, loanID),
		Amount:       req.Amount,
		PhoneNumber:  req.PhoneNumber,
		DefaultPhone: m.Phone,
	})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, cmd appPayment.SubmitInput) {
	res, err := h.payments.Execute(r.Context(), cmd)
	if err != nil {
		if res != nil && errors.Is(err, dompay.ErrGatewayRejected) {
			body := newSubmitResponse(res)
			body.Error = err.Error()
			writeJSON(w, http.StatusBadGateway, body)
			return
		}
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newSubmitResponse(res))
}

func (h *Handler) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	req, ok := h.ownedRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newPaymentResponse(req))
}

func (h *Handler) handleCancelPayment(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.payments.Cancel)
}

func (h *Handler) handleResumePayment(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.payments.Resume)
}

func (h *Handler) control(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (*dompay.Request, error)) {
	req, ok := h.ownedRequest(w, r)
	if !ok {
		return
	}
	updated, err := op(r.Context(), req.CorrelationID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPaymentResponse(updated))
}

// ownedRequest loads the request named in the path. Requests of other members
// are reported as missing.
func (h *Handler) ownedRequest(w http.ResponseWriter, r *http.Request) (*dompay.Request, bool) {
	m, ok := memberFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errMemberRequired)
		return nil, false
	}
	req, err := h.payments.GetState(r.Context(), chi.URLParam(r, "correlationID"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return nil, false
	}
	if req.Target.MemberID != m.ID {
		writeError(w, http.StatusNotFound, dompay.ErrNotFound)
		return nil, false
	}
	return req, true
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	m, ok := memberFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errMemberRequired)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and %d", maxHistoryLimit))
			return
		}
		limit = n
	}
	items, err := h.payments.History(r.Context(), m.ID, limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := historyResponse{Items: make([]paymentResponse, 0, len(items))}
	for _, it := range items {
		out.Items = append(out.Items, newPaymentResponse(it))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleReportOutcome(w http.ResponseWriter, r *http.Request) {
	var req reportOutcomeRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, err := h.payments.ReportOutcome(r.Context(), chi.URLParam(r, "correlationID"), req.outcome())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPaymentResponse(updated))
}

func loanIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "loanID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("loan id must be a positive integer")
	}
	return id, nil
}
