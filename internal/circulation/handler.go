package circulation

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"librarium/internal/apperror"
	"librarium/internal/web"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts the loan endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/loans", func(r chi.Router) {
		r.Get("/", h.handleListLoans)
		r.Get("/active", h.handleActiveLoans)
		r.Get("/by-email", h.handleLoansByEmail)
		r.Get("/audit", h.handleAudit)
		r.Get("/{id}/history", h.handleHistory)
		r.Post("/borrow", h.handleBorrow)
		r.Post("/return", h.handleReturn)
	})
}

func (h *Handler) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req BorrowRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	days := DefaultLoanDays
	if req.Days != nil {
		days = *req.Days
	}

	loan, err := h.service.Borrow(r.Context(), req.MemberID, req.BookID, days)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	web.JSON(w, http.StatusCreated, loan)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req ReturnRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	loan, err := h.service.Return(r.Context(), req.LoanID)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	web.JSON(w, http.StatusOK, loan)
}

func (h *Handler) handleListLoans(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := LoanFilter{MemberID: query.Get("member_id")}
	if raw := query.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			web.Error(w, r, h.logger, apperror.Validation("active must be a boolean"))
			return
		}
		filter.Active = &active
	}

	loans, err := h.service.ListLoans(r.Context(), filter)
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	web.JSON(w, http.StatusOK, loans)
}

func (h *Handler) handleActiveLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.ActiveLoans(r.Context())
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	web.JSON(w, http.StatusOK, loans)
}

func (h *Handler) handleLoansByEmail(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.LoansByMemberEmail(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	web.JSON(w, http.StatusOK, loans)
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Audit(r.Context())
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	web.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		web.Error(w, r, h.logger, err)
		return
	}

	web.JSON(w, http.StatusOK, events)
}
