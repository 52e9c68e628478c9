package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/loanbook/pkg/ledger"
	"github.com/mcclellann/loanbook/pkg/loanerr"
	"github.com/mcclellann/loanbook/pkg/logger"
	"github.com/mcclellann/loanbook/pkg/models"
	"go.uber.org/zap"
)

// OwnerHeader carries the caller's owner id. Create and list require it; the
// per-loan reads use it to scope results when present.
const OwnerHeader = "X-Owner-ID"

const maxBodyBytes = 1 << 20

// Server exposes the ledger over HTTP.
type Server struct {
	ledger *ledger.Ledger
	log    *zap.SugaredLogger
}

func NewServer(l *ledger.Ledger) *Server {
	return &Server{
		ledger: l,
		log:    logger.WithComponent("api"),
	}
}

// Routes builds the router for every loan endpoint.
func (s *Server) Routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.logRequests)

	router.HandleFunc("/loans", s.listLoansHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans", s.createLoanHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods(http.MethodDelete)
	router.HandleFunc("/loans/{id}/schedule", s.getScheduleHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans/{id}/amortization", s.getAmortizationHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans/{id}/approval", s.approveHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{id}/payments", s.registerPaymentHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{id}/abonos", s.registerAbonoHandler).Methods(http.MethodPost)
	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debugw("request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorw("failed to write response", "status", status, "error", err)
	}
}

func statusFor(kind loanerr.Kind) int {
	switch kind {
	case loanerr.KindNotFound:
		return http.StatusNotFound
	case loanerr.KindConflict:
		return http.StatusConflict
	case loanerr.KindInvalidState:
		return http.StatusUnprocessableEntity
	case loanerr.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := loanerr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		s.log.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s.writeJSON(w, status, errorResponse{Error: "internal error", Kind: string(kind)})
		return
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(kind)})
}

func loanID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, loanerr.Validation("invalid loan id %q", mux.Vars(r)["id"])
	}
	return id, nil
}

// checkOwner hides another owner's loan when the caller identifies itself.
// Requests without the header are not scoped.
func checkOwner(r *http.Request, id uuid.UUID, ownerID string) error {
	if owner := r.Header.Get(OwnerHeader); owner != "" && owner != ownerID {
		return loanerr.NotFound("loan %s not found", id)
	}
	return nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return loanerr.Validation("request body exceeds %d bytes", tooLarge.Limit)
		}
		return loanerr.Validation("invalid request body: %v", err)
	}
	return nil
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var in ledger.CreateLoanInput
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	in.OwnerID = r.Header.Get(OwnerHeader)

	loan, err := s.ledger.CreateLoan(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.ListLoans(r.Context(), r.Header.Get(OwnerHeader))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	s.writeJSON(w, http.StatusOK, loans)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.ledger.GetLoan(r.Context(), id)
	if err == nil {
		err = checkOwner(r, id, detail.OwnerID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) getScheduleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.ledger.GetLoanWithSchedule(r.Context(), id)
	if err == nil {
		err = checkOwner(r, id, detail.OwnerID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) getAmortizationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.ledger.GetAmortization(r.Context(), id)
	if err == nil {
		err = checkOwner(r, id, res.OwnerID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) approveHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in ledger.ApproveInput
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	in.LoanID = id

	loan, err := s.ledger.Approve(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loan)
}

func (s *Server) registerPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in ledger.PaymentInput
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	in.LoanID = id

	detail, err := s.ledger.RegisterPayment(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, detail)
}

func (s *Server) registerAbonoHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in ledger.AbonoInput
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	in.LoanID = id

	detail, err := s.ledger.RegisterAbono(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, detail)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ledger.DeleteLoan(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
