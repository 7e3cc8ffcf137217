/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the invoice and ledger domain types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are decimal.Decimal on both sides of the wire. They encode as
  JSON strings ("230.00" style) and decode from strings or numbers, so no
  amount ever passes through float64.

VALIDATION:
  Request types carry validator/v10 struct tags, checked by decode() in
  handlers.go before any domain call.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/callumsoutar/flight-service-pro-sub000/invoice"
	"github.com/callumsoutar/flight-service-pro-sub000/ledger"
)

const dateLayout = "2006-01-02"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateInvoiceRequest is the request to create a draft invoice.
type CreateInvoiceRequest struct {
	UserID  string        `json:"user_id" validate:"required,max=64"`
	DueDate string        `json:"due_date" validate:"omitempty"`
	Notes   string        `json:"notes" validate:"max=2000"`
	Items   []ItemRequest `json:"items" validate:"dive"`
}

// ItemRequest is one line item. A null tax_rate uses the member's or the
// organization's rate.
type ItemRequest struct {
	Description string              `json:"description" validate:"required,max=500"`
	Quantity    decimal.Decimal     `json:"quantity"`
	UnitPrice   decimal.Decimal     `json:"unit_price"`
	TaxRate     decimal.NullDecimal `json:"tax_rate"`
}

type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft pending overdue paid cancelled"`
}

type PaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" validate:"omitempty,max=50"`
	Reference string          `json:"reference" validate:"omitempty,max=100"`
}

type ReverseRequest struct {
	Reason string `json:"reason" validate:"required,max=200"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// InvoiceDTO represents an invoice in API responses. Items and payments are
// only filled on single-invoice reads.
type InvoiceDTO struct {
	ID            string          `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	UserID        string          `json:"user_id"`
	Status        string          `json:"status"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TaxTotal      decimal.Decimal `json:"tax_total"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
	BalanceDue    decimal.Decimal `json:"balance_due"`
	DueDate       string          `json:"due_date,omitempty"`
	PaidDate      string          `json:"paid_date,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     string          `json:"created_at"`
	Items         []ItemDTO       `json:"items,omitempty"`
	Payments      []PaymentDTO    `json:"payments,omitempty"`
}

type ItemDTO struct {
	ID            string          `json:"id"`
	Description   string          `json:"description"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	Amount        decimal.Decimal `json:"amount"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	LineTotal     decimal.Decimal `json:"line_total"`
	RateInclusive decimal.Decimal `json:"rate_inclusive"`
}

type PaymentDTO struct {
	ID            string          `json:"id"`
	InvoiceID     string          `json:"invoice_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	Reference     string          `json:"reference,omitempty"`
	TransactionID string          `json:"transaction_id"`
	PaidAt        string          `json:"paid_at"`
}

// TransactionDTO represents a ledger entry. RunningBalance is only set in
// balance history.
type TransactionDTO struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	Type            string            `json:"type"`
	Amount          decimal.Decimal   `json:"amount"`
	Description     string            `json:"description"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	ReferenceNumber string            `json:"reference_number,omitempty"`
	Status          string            `json:"status"`
	CompletedAt     string            `json:"completed_at,omitempty"`
	CreatedAt       string            `json:"created_at"`
	RunningBalance  *decimal.Decimal  `json:"running_balance,omitempty"`
}

type TotalsDTO struct {
	Subtotal           decimal.Decimal `json:"subtotal"`
	TaxTotal           decimal.Decimal `json:"tax_total"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	TransactionCreated bool            `json:"transaction_created"`
	TransactionID      string          `json:"transaction_id,omitempty"`
}

type RefreshDTO struct {
	Changed bool       `json:"changed"`
	Invoice InvoiceDTO `json:"invoice"`
}

type BalanceDTO struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

type SummaryDTO struct {
	UserID            string          `json:"user_id"`
	CurrentBalance    decimal.Decimal `json:"current_balance"`
	TotalDebits       decimal.Decimal `json:"total_debits"`
	TotalCredits      decimal.Decimal `json:"total_credits"`
	PendingAmount     decimal.Decimal `json:"pending_amount"`
	TransactionCount  int             `json:"transaction_count"`
	LastTransactionAt string          `json:"last_transaction_at,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toInvoiceDTO(inv invoice.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:            inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		UserID:        inv.UserID,
		Status:        string(inv.Status),
		Subtotal:      inv.Subtotal,
		TaxTotal:      inv.TaxTotal,
		TotalAmount:   inv.TotalAmount,
		TotalPaid:     inv.TotalPaid,
		BalanceDue:    inv.BalanceDue,
		DueDate:       formatOptional(inv.DueDate, dateLayout),
		PaidDate:      formatOptional(inv.PaidDate, time.RFC3339),
		Notes:         inv.Notes,
		CreatedAt:     inv.CreatedAt.Format(time.RFC3339),
	}
}

func toInvoiceDTOs(invs []invoice.Invoice) []InvoiceDTO {
	dtos := make([]InvoiceDTO, len(invs))
	for i, inv := range invs {
		dtos[i] = toInvoiceDTO(inv)
	}
	return dtos
}

func toItemDTO(it invoice.Item) ItemDTO {
	return ItemDTO{
		ID:            it.ID,
		Description:   it.Description,
		Quantity:      it.Quantity,
		UnitPrice:     it.UnitPrice,
		TaxRate:       it.TaxRate,
		Amount:        it.Amount,
		TaxAmount:     it.TaxAmount,
		LineTotal:     it.LineTotal,
		RateInclusive: it.RateInclusive,
	}
}

func toPaymentDTO(p invoice.Payment) PaymentDTO {
	return PaymentDTO{
		ID:            p.ID,
		InvoiceID:     p.InvoiceID,
		Amount:        p.Amount,
		Method:        p.Method,
		Reference:     p.Reference,
		TransactionID: string(p.TransactionID),
		PaidAt:        p.PaidAt.Format(time.RFC3339),
	}
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:              string(tx.ID),
		UserID:          tx.UserID,
		Type:            string(tx.Type),
		Amount:          tx.Amount,
		Description:     tx.Description,
		Metadata:        tx.Metadata,
		ReferenceNumber: tx.ReferenceNumber,
		Status:          string(tx.Status),
		CompletedAt:     formatOptional(tx.CompletedAt, time.RFC3339),
		CreatedAt:       tx.CreatedAt.Format(time.RFC3339),
	}
}

func toHistoryDTOs(entries []ledger.HistoryEntry) []TransactionDTO {
	dtos := make([]TransactionDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toTransactionDTO(e.Transaction)
		bal := e.RunningBalance
		dtos[i].RunningBalance = &bal
	}
	return dtos
}

func toSummaryDTO(s ledger.Summary) SummaryDTO {
	return SummaryDTO{
		UserID:            s.UserID,
		CurrentBalance:    s.CurrentBalance,
		TotalDebits:       s.TotalDebits,
		TotalCredits:      s.TotalCredits,
		PendingAmount:     s.PendingAmount,
		TransactionCount:  s.TransactionCount,
		LastTransactionAt: formatOptional(s.LastTransactionAt, time.RFC3339),
	}
}

func toNewItem(r ItemRequest) invoice.NewItem {
	return invoice.NewItem{
		Description: r.Description,
		Quantity:    r.Quantity,
		UnitPrice:   r.UnitPrice,
		TaxRate:     r.TaxRate,
	}
}

func formatOptional(t *time.Time, layout string) string {
	if t == nil {
		return ""
	}
	return t.Format(layout)
}
