package loan

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"lendingapi/internal/httpx"
)

type HTTPHandler struct {
	service *Service
	logger  *slog.Logger
}

func NewHTTPHandler(service *Service, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{service: service, logger: logger}
}

// Register mounts the loan endpoints on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /loans", h.List)
	mux.HandleFunc("POST /loans", h.Create)
	mux.HandleFunc("POST /loans/return", h.Return)
	mux.HandleFunc("GET /loans/overdue", h.ListOverdue)
	mux.HandleFunc("GET /loans/by-title", h.FindByTitle)
}

type createLoanRequest struct {
	BookTitle     string `json:"bookTitle"`
	BorrowerName  string `json:"borrowerName"`
	BorrowerEmail string `json:"borrowerEmail"`
}

type returnLoanRequest struct {
	BookTitle    string `json:"bookTitle"`
	BorrowerName string `json:"borrowerName"`
}

type returnLoanResponse struct {
	Removed bool `json:"removed"`
}

// @Summary List loans
// @Description Every active loan, optionally narrowed to one borrower email
// @Tags loans
// @Produce json
// @Param borrowerEmail query string false "Borrower email"
// @Success 200 {array} LendRecord
// @Router /loans [get]
func (h *HTTPHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		records []LendRecord
		err     error
	)
	if r.URL.Query().Has("borrowerEmail") {
		records, err = h.service.ListLoansByBorrower(r.Context(), r.URL.Query().Get("borrowerEmail"))
	} else {
		records, err = h.service.ListLoans(r.Context())
	}
	if err != nil {
		h.writeError(w, r, "list loans", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, records)
}

// @Summary Lend a book
// @Tags loans
// @Accept json
// @Produce json
// @Param loan body createLoanRequest true "Loan"
// @Success 201 {object} LendRecord
// @Failure 400 {object} httpx.ErrorResponse
// @Router /loans [post]
func (h *HTTPHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if !h.decode(w, r, &req) {
		return
	}

	record, err := h.service.CreateLoan(r.Context(), req.BookTitle, req.BorrowerName, req.BorrowerEmail)
	if err != nil {
		h.writeError(w, r, "create loan", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, record)
}

// @Summary Return a book
// @Tags loans
// @Accept json
// @Produce json
// @Param loan body returnLoanRequest true "Book and borrower"
// @Success 200 {object} returnLoanResponse
// @Failure 404 {object} returnLoanResponse
// @Router /loans/return [post]
func (h *HTTPHandler) Return(w http.ResponseWriter, r *http.Request) {
	var req returnLoanRequest
	if !h.decode(w, r, &req) {
		return
	}

	removed, err := h.service.ReturnLoan(r.Context(), req.BookTitle, req.BorrowerName)
	if err != nil {
		h.writeError(w, r, "return loan", err)
		return
	}
	if !removed {
		httpx.WriteJSON(w, http.StatusNotFound, returnLoanResponse{Removed: false})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, returnLoanResponse{Removed: true})
}

// @Summary List overdue loans
// @Tags loans
// @Produce json
// @Success 200 {array} LendRecord
// @Router /loans/overdue [get]
func (h *HTTPHandler) ListOverdue(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListOverdueLoans(r.Context())
	if err != nil {
		h.writeError(w, r, "list overdue loans", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, records)
}

// @Summary Find a loan by book title
// @Tags loans
// @Produce json
// @Param title query string true "Exact book title"
// @Success 200 {object} LendRecord
// @Failure 404 {object} httpx.ErrorResponse
// @Router /loans/by-title [get]
func (h *HTTPHandler) FindByTitle(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.FindLoan(r.Context(), r.URL.Query().Get("title"))
	if err != nil {
		h.writeError(w, r, "find loan", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, record)
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := httpx.DecodeJSON(r, dst)
	switch {
	case err == nil:
		return true
	case errors.Is(err, httpx.ErrBodyTooLarge):
		httpx.JSONError(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large", nil)
	default:
		httpx.JSONError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
	}
	return false
}

// writeError is the only place loan errors become status codes.
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		details := make([]httpx.ErrorDetail, 0, len(verr.Errors))
		for _, fe := range verr.Errors {
			details = append(details, httpx.ErrorDetail{Field: fe.Field, Message: fe.Message})
		}
		httpx.JSONError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input", details)
	case errors.Is(err, ErrConstraintViolation):
		httpx.JSONError(w, r, http.StatusBadRequest, "CONSTRAINT_VIOLATION", "Loan rejected by store", nil)
	case errors.Is(err, ErrNotFound):
		httpx.JSONError(w, r, http.StatusNotFound, "NOT_FOUND", "Loan not found", nil)
	case errors.Is(err, ErrStoreUnavailable):
		h.logger.ErrorContext(r.Context(), "store unavailable",
			slog.String("op", op),
			slog.String("request_id", httpx.RequestIDFrom(r)),
			slog.Any("error", err),
		)
		httpx.JSONError(w, r, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Service temporarily unavailable", nil)
	case errors.Is(err, context.Canceled):
		h.logger.DebugContext(r.Context(), "request canceled by client",
			slog.String("op", op),
			slog.String("request_id", httpx.RequestIDFrom(r)),
		)
		httpx.JSONError(w, r, httpx.StatusClientClosedRequest, "CLIENT_CLOSED_REQUEST", "Request canceled", nil)
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("op", op),
			slog.String("request_id", httpx.RequestIDFrom(r)),
			slog.Any("error", err),
		)
		httpx.JSONError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
	}
}
