package httppresentation

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) handleContributionSummary(w http.ResponseWriter, r *http.Request) {
	m, ok := memberFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errMemberRequired)
		return
	}
	sum, err := h.ledger.ContributionSummary(r.Context(), m.ID, chi.URLParam(r, "period"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newContributionSummaryResponse(sum))
}

func (h *Handler) handleGetLoan(w http.ResponseWriter, r *http.Request) {
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
	loan, err := h.ledger.Loan(r.Context(), m.ID, loanID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanResponse(loan))
}

func (h *Handler) handleOverpayments(w http.ResponseWriter, r *http.Request) {
	m, ok := memberFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errMemberRequired)
		return
	}
	items, err := h.ledger.Overpayments(r.Context(), m.ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOverpaymentsResponse(items))
}

func (h *Handler) handleRegisterLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := loanIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req registerLoanRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	loan, err := h.ledger.RegisterLoan(r.Context(), loanID, req.MemberID, req.AmountDue)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLoanResponse(loan))
}
