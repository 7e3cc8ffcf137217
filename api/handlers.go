/*
handlers.go - HTTP API handlers for invoices, the ledger and balances

PURPOSE:
  Exposes the invoice lifecycle and the member ledger via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the invoice
  service and the balance aggregator.

ENDPOINTS:
  Invoices:
    POST   /api/invoices                       Create draft invoice
    GET    /api/invoices?user_id=&status=      List invoices
    GET    /api/invoices/{id}                  Invoice with items and payments
    POST   /api/invoices/{id}/items            Add line item
    DELETE /api/invoices/{id}/items/{itemID}   Remove line item
    POST   /api/invoices/{id}/totals           Recompute totals, sync debit
    POST   /api/invoices/{id}/status           Explicit status change
    POST   /api/invoices/{id}/payments         Record payment
    POST   /api/invoices/{id}/refresh          Re-derive status from clock

  Ledger:
    GET    /api/transactions/{id}              One transaction
    POST   /api/transactions/{id}/reverse      Reverse a payment or manual entry

  Balances:
    GET    /api/users/{id}/balance             Current balance
    GET    /api/users/{id}/balance/history     ?days= (default 30)
    GET    /api/users/{id}/balance/summary     Totals over the whole trail
    GET    /api/balances/outstanding           ?limit= members who owe or are owed

  Health:
    GET    /healthz                            200 ok, 503 if the store is down

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (cancelled invoice, reversing an invoice-owned entry)
  - 503: Store unreachable (healthz only)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. Put this behind the app's gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/callumsoutar/flight-service-pro-sub000/invoice"
	"github.com/callumsoutar/flight-service-pro-sub000/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Service *invoice.Service
	// Health is pinged by /healthz. Nil means always healthy.
	Health HealthChecker

	log      zerolog.Logger
	validate *validator.Validate
}

// NewHandler creates a handler over the invoice service.
func NewHandler(svc *invoice.Service, log zerolog.Logger) *Handler {
	return &Handler{
		Service:  svc,
		log:      log,
		validate: validator.New(),
	}
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := invoice.NewInvoice{UserID: req.UserID, Notes: req.Notes}
	if req.DueDate != "" {
		due, err := parseDate(req.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid due_date", err)
			return
		}
		in.DueDate = &due
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, toNewItem(it))
	}

	inv, err := h.Service.CreateInvoice(r.Context(), in)
	if err != nil {
		h.fail(w, r, "Failed to create invoice", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(*inv))
}

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := invoice.Filter{
		UserID: q.Get("user_id"),
		Status: invoice.Status(q.Get("status")),
	}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status filter", invoice.ErrInvalidStatus)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	f.Limit = limit

	invs, err := h.Service.ListInvoices(r.Context(), f)
	if err != nil {
		h.fail(w, r, "Failed to list invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTOs(invs))
}

// GetInvoice returns the invoice with its items and payments.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	inv, err := h.Service.GetInvoice(ctx, id)
	if err != nil {
		h.fail(w, r, "Failed to get invoice", err)
		return
	}
	items, err := h.Service.Items(ctx, id)
	if err != nil {
		h.fail(w, r, "Failed to get invoice items", err)
		return
	}
	payments, err := h.Service.Payments(ctx, id)
	if err != nil {
		h.fail(w, r, "Failed to get payments", err)
		return
	}

	dto := toInvoiceDTO(*inv)
	for _, it := range items {
		dto.Items = append(dto.Items, toItemDTO(it))
	}
	for _, p := range payments {
		dto.Payments = append(dto.Payments, toPaymentDTO(p))
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, err := h.Service.AddItem(r.Context(), chi.URLParam(r, "id"), toNewItem(req))
	if err != nil {
		h.fail(w, r, "Failed to add item", err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(*item))
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	err := h.Service.RemoveItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemID"))
	if err != nil {
		h.fail(w, r, "Failed to remove item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UpdateTotals(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.UpdateInvoiceTotals(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to update invoice totals", err)
		return
	}
	writeJSON(w, http.StatusOK, TotalsDTO{
		Subtotal:           res.Subtotal,
		TaxTotal:           res.TaxTotal,
		TotalAmount:        res.TotalAmount,
		TransactionCreated: res.TransactionCreated,
		TransactionID:      string(res.TransactionID),
	})
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	inv, err := h.Service.UpdateInvoiceStatus(r.Context(), chi.URLParam(r, "id"), invoice.Status(req.Status))
	if err != nil {
		h.fail(w, r, "Failed to update invoice status", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.Service.RecordPayment(r.Context(), invoice.PaymentInput{
		InvoiceID: chi.URLParam(r, "id"),
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: req.Reference,
	})
	if err != nil {
		h.fail(w, r, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(*p))
}

func (h *Handler) RefreshStatus(w http.ResponseWriter, r *http.Request) {
	inv, changed, err := h.Service.RefreshStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to refresh invoice status", err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshDTO{Changed: changed, Invoice: toInvoiceDTO(*inv)})
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Service.Ledger().Transaction(r.Context(), ledger.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get transaction", err)
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// ReverseTransaction offsets a transaction. Reversing twice returns the
// existing reversal. Invoice debits and reversals are owned by the invoice
// lifecycle and are refused with 409.
func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	var req ReverseRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	l := h.Service.Ledger()
	orig, err := l.Transaction(ctx, ledger.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get transaction", err)
		return
	}
	if orig == nil {
		writeError(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}
	switch orig.Metadata.Kind() {
	case ledger.KindInvoiceDebit, ledger.KindReversal:
		writeError(w, http.StatusConflict,
			"Invoice transactions follow the invoice status; use POST /api/invoices/{id}/status",
			fmt.Errorf("transaction %s is a %s for invoice %s",
				orig.ID, orig.Metadata.Kind(), orig.Metadata[ledger.MetaInvoiceID]))
		return
	}

	id, err := l.ReverseTransaction(ctx, orig.ID, req.Reason)
	if err != nil {
		h.fail(w, r, "Failed to reverse transaction", err)
		return
	}
	tx, err := l.Transaction(ctx, id)
	if err != nil || tx == nil {
		h.fail(w, r, "Failed to load reversal", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	bal, err := h.Service.Balances().GetBalance(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{UserID: userID, Balance: bal})
}

func (h *Handler) GetBalanceHistory(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid days", err)
		return
	}

	entries, err := h.Service.Balances().GetBalanceHistory(r.Context(), chi.URLParam(r, "id"), days)
	if err != nil {
		h.fail(w, r, "Failed to get balance history", err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTOs(entries))
}

func (h *Handler) GetBalanceSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Service.Balances().GetBalanceSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get balance summary", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(s))
}

func (h *Handler) ListOutstanding(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	users, err := h.Service.Balances().GetUsersWithOutstandingBalances(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "Failed to list outstanding balances", err)
		return
	}
	dtos := make([]BalanceDTO, len(users))
	for i, u := range users {
		dtos[i] = BalanceDTO{UserID: u.UserID, Balance: u.Balance}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Healthz answers 200 when the store responds and 503 when it does not.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			h.log.Error().Err(err).Msg("health check failed")
			writeError(w, http.StatusServiceUnavailable, "unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decode reads and validates a JSON body. It writes the 400 itself and
// reports false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				details[fe.Namespace()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Details: details})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// fail maps a domain error to its HTTP status.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg(message)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case invoice.IsNotFound(err):
		return http.StatusNotFound
	case invoice.IsConflict(err):
		return http.StatusConflict
	case invoice.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, raw)
	}
	return n, nil
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
