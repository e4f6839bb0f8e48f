/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  internal domain model (decimal money, tri-state item flags) from the
  wire contract (plain JSON numbers, optional booleans).

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY ON THE WIRE:
  Amounts travel as JSON numbers and are converted to decimal.Decimal at
  the boundary. The engine recomputes every financial field anyway; the
  submitted budget is advisory.

SEE ALSO:
  - handlers.go: Conversion and validation
*/
package api

import (
	"github.com/clinica/session-engine/ledger"
	"github.com/clinica/session-engine/store/sqlite"
)

// =============================================================================
// SAVE REQUEST
// =============================================================================

// PatientPayload is the demographic half of a save request.
type PatientPayload struct {
	ID             int64  `json:"id,omitempty"`
	FullName       string `json:"full_name"`
	DocID          string `json:"doc_id"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone"`
	EmergencyPhone string `json:"emergency_phone,omitempty"`
	DateOfBirth    string `json:"date_of_birth,omitempty"`
	Anamnesis      string `json:"anamnesis,omitempty"`
	AllergyDetail  string `json:"allergy_detail,omitempty"`
	Status         string `json:"status,omitempty"`
}

// SessionItemPayload is one submitted line item.
type SessionItemPayload struct {
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int64   `json:"quantity"`
	Subtotal  float64 `json:"subtotal"`
	IsActive  *bool   `json:"is_active,omitempty"`
}

// SessionPayload is one submitted session draft.
type SessionPayload struct {
	ID            int64                `json:"id,omitempty"`
	Date          string               `json:"date"`
	ReasonType    string               `json:"reason_type,omitempty"`
	ReasonDetail  string               `json:"reason_detail,omitempty"`
	ClinicalNotes string               `json:"clinical_notes,omitempty"`
	Signer        string               `json:"signer,omitempty"`
	Budget        float64              `json:"budget"`
	Discount      float64              `json:"discount"`
	Payment       float64              `json:"payment"`
	PaymentNotes  string               `json:"payment_notes,omitempty"`
	Items         []SessionItemPayload `json:"items"`
}

// SaveRequest is the composite save body: one patient plus their drafts.
type SaveRequest struct {
	Patient  PatientPayload   `json:"patient"`
	Sessions []SessionPayload `json:"sessions"`
}

// SaveResponse reports the identities a save produced.
type SaveResponse struct {
	PatientID     int64 `json:"patient_id"`
	LastSessionID int64 `json:"last_session_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// PatientSummaryDTO is one row of the active-patient listing.
type PatientSummaryDTO struct {
	ID             int64   `json:"id"`
	FullName       string  `json:"full_name"`
	DocID          string  `json:"doc_id"`
	Phone          string  `json:"phone"`
	AllergyDetail  string  `json:"allergy_detail,omitempty"`
	Status         string  `json:"status"`
	LastVisitDate  string  `json:"last_visit_date,omitempty"`
	PendingBalance float64 `json:"pending_balance"`
}

// PatientDTO is a full patient record.
type PatientDTO struct {
	ID              int64  `json:"id"`
	FullName        string `json:"full_name"`
	DocID           string `json:"doc_id"`
	Email           string `json:"email,omitempty"`
	Phone           string `json:"phone"`
	EmergencyPhone  string `json:"emergency_phone,omitempty"`
	DateOfBirth     string `json:"date_of_birth,omitempty"`
	Anamnesis       string `json:"anamnesis,omitempty"`
	AllergyDetail   string `json:"allergy_detail,omitempty"`
	Status          string `json:"status"`
	DebtOpenedAt    string `json:"debt_opened_at,omitempty"`
	DebtArchived    bool   `json:"debt_archived"`
	DebtArchivedAt  string `json:"debt_archived_at,omitempty"`
	LastContactAt   string `json:"last_contact_at,omitempty"`
	LastContactType string `json:"last_contact_type,omitempty"`
}

// SessionItemDTO is one stored line item.
type SessionItemDTO struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int64   `json:"quantity"`
	Subtotal  float64 `json:"subtotal"`
	IsActive  *bool   `json:"is_active,omitempty"`
	SortOrder int     `json:"sort_order"`
}

// SessionDTO is one stored session with its items.
type SessionDTO struct {
	ID                int64            `json:"id"`
	PatientID         int64            `json:"patient_id"`
	Date              string           `json:"date"`
	ReasonType        string           `json:"reason_type,omitempty"`
	ReasonDetail      string           `json:"reason_detail,omitempty"`
	ClinicalNotes     string           `json:"clinical_notes,omitempty"`
	Signer            string           `json:"signer,omitempty"`
	Budget            float64          `json:"budget"`
	Discount          float64          `json:"discount"`
	Payment           float64          `json:"payment"`
	Balance           float64          `json:"balance"`
	CumulativeBalance float64          `json:"cumulative_balance"`
	PaymentNotes      string           `json:"payment_notes,omitempty"`
	IsSaved           bool             `json:"is_saved"`
	Items             []SessionItemDTO `json:"items"`
}

// DebtSummaryDTO is one row of the open-debt report.
type DebtSummaryDTO struct {
	PatientID       int64   `json:"patient_id"`
	FullName        string  `json:"full_name"`
	Phone           string  `json:"phone"`
	DocID           string  `json:"doc_id"`
	CurrentBalance  float64 `json:"current_balance"`
	DebtOpenedAt    string  `json:"debt_opened_at"`
	DaysOverdue     int     `json:"days_overdue"`
	LastContactAt   string  `json:"last_contact_at,omitempty"`
	LastContactType string  `json:"last_contact_type,omitempty"`
	ContactStatus   string  `json:"contact_status"`
}

// MarkContactedRequest is the contact-tracking body.
type MarkContactedRequest struct {
	ContactType string `json:"contact_type"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func (p PatientPayload) toDomain() ledger.Patient {
	return ledger.Patient{
		ID:             ledger.PatientID(p.ID),
		FullName:       p.FullName,
		DocID:          p.DocID,
		Email:          p.Email,
		Phone:          p.Phone,
		EmergencyPhone: p.EmergencyPhone,
		DateOfBirth:    p.DateOfBirth,
		Anamnesis:      p.Anamnesis,
		AllergyDetail:  p.AllergyDetail,
		Status:         p.Status,
	}
}

func (s SessionPayload) toDraft() ledger.SessionDraft {
	items := make([]ledger.SessionItem, len(s.Items))
	for i, it := range s.Items {
		items[i] = ledger.SessionItem{
			Name:      it.Name,
			UnitPrice: ledger.Money(it.UnitPrice),
			Quantity:  it.Quantity,
			Subtotal:  ledger.Money(it.Subtotal),
			Active:    it.IsActive,
		}
	}
	return ledger.SessionDraft{
		Session: ledger.Session{
			ID:            ledger.SessionID(s.ID),
			Date:          s.Date,
			ReasonType:    s.ReasonType,
			ReasonDetail:  s.ReasonDetail,
			ClinicalNotes: s.ClinicalNotes,
			Signer:        s.Signer,
			Budget:        ledger.Money(s.Budget),
			Discount:      ledger.Money(s.Discount),
			Payment:       ledger.Money(s.Payment),
			PaymentNotes:  s.PaymentNotes,
		},
		Items: items,
	}
}

func patientDTO(p *ledger.Patient) PatientDTO {
	return PatientDTO{
		ID:              int64(p.ID),
		FullName:        p.FullName,
		DocID:           p.DocID,
		Email:           p.Email,
		Phone:           p.Phone,
		EmergencyPhone:  p.EmergencyPhone,
		DateOfBirth:     p.DateOfBirth,
		Anamnesis:       p.Anamnesis,
		AllergyDetail:   p.AllergyDetail,
		Status:          p.Status,
		DebtOpenedAt:    p.Debt.OpenedAt,
		DebtArchived:    p.Debt.Archived,
		DebtArchivedAt:  p.Debt.ArchivedAt,
		LastContactAt:   p.LastContactAt,
		LastContactType: p.LastContactType,
	}
}

func summaryDTO(s ledger.PatientSummary) PatientSummaryDTO {
	return PatientSummaryDTO{
		ID:             int64(s.ID),
		FullName:       s.FullName,
		DocID:          s.DocID,
		Phone:          s.Phone,
		AllergyDetail:  s.AllergyDetail,
		Status:         s.Status,
		LastVisitDate:  s.LastVisitDate,
		PendingBalance: s.PendingBalance.InexactFloat64(),
	}
}

func sessionDTO(d ledger.SessionDraft) SessionDTO {
	items := make([]SessionItemDTO, len(d.Items))
	for i, it := range d.Items {
		items[i] = SessionItemDTO{
			ID:        it.ID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice.InexactFloat64(),
			Quantity:  it.Quantity,
			Subtotal:  it.Subtotal.InexactFloat64(),
			IsActive:  it.Active,
			SortOrder: it.SortOrder,
		}
	}
	s := d.Session
	return SessionDTO{
		ID:                int64(s.ID),
		PatientID:         int64(s.PatientID),
		Date:              s.Date,
		ReasonType:        s.ReasonType,
		ReasonDetail:      s.ReasonDetail,
		ClinicalNotes:     s.ClinicalNotes,
		Signer:            s.Signer,
		Budget:            s.Budget.InexactFloat64(),
		Discount:          s.Discount.InexactFloat64(),
		Payment:           s.Payment.InexactFloat64(),
		Balance:           s.Balance.InexactFloat64(),
		CumulativeBalance: s.CumulativeBalance.InexactFloat64(),
		PaymentNotes:      s.PaymentNotes,
		IsSaved:           s.IsSaved,
		Items:             items,
	}
}

func debtSummaryDTO(d ledger.DebtSummary) DebtSummaryDTO {
	return DebtSummaryDTO{
		PatientID:       int64(d.PatientID),
		FullName:        d.FullName,
		Phone:           d.Phone,
		DocID:           d.DocID,
		CurrentBalance:  d.CurrentBalance.InexactFloat64(),
		DebtOpenedAt:    d.DebtOpenedAt,
		DaysOverdue:     d.DaysOverdue,
		LastContactAt:   d.LastContactAt,
		LastContactType: d.LastContactType,
		ContactStatus:   string(d.ContactStatus),
	}
}

// PaymentDTO mirrors a standalone payment row.
type PaymentDTO struct {
	ID            int64   `json:"id"`
	PatientID     int64   `json:"patient_id"`
	Date          string  `json:"date"`
	Amount        float64 `json:"amount"`
	PaymentMethod string  `json:"payment_method,omitempty"`
	Notes         string  `json:"notes,omitempty"`
}

// AddPaymentRequest is the standalone-payment body.
type AddPaymentRequest struct {
	Date          string  `json:"date"`
	Amount        float64 `json:"amount"`
	PaymentMethod string  `json:"payment_method,omitempty"`
	Notes         string  `json:"notes,omitempty"`
}

func paymentDTO(p sqlite.Payment) PaymentDTO {
	return PaymentDTO{
		ID:            p.ID,
		PatientID:     int64(p.PatientID),
		Date:          p.Date,
		Amount:        p.Amount.InexactFloat64(),
		PaymentMethod: p.PaymentMethod,
		Notes:         p.Notes,
	}
}
