/*
handlers.go - HTTP handlers for the clinical session engine

PURPOSE:
  Exposes the session ledger via REST. Handles HTTP request/response, JSON
  serialization, and delegates to the coordinator and stores.

ENDPOINTS:
  Patients:
    POST   /api/patients/save              Composite save (new patient + drafts)
    POST   /api/patients/{id}/save         Composite save (existing patient)
    GET    /api/patients                   Active-patient listing
    GET    /api/patients/search?q=         Name / document / phone search
    GET    /api/patients/{id}              Patient detail
    GET    /api/patients/{id}/sessions     Sessions with items

  Sessions:
    DELETE /api/sessions/{id}              Delete an unsaved session

  Debts:
    GET    /api/debts                      Open-debt report
    POST   /api/patients/{id}/debt/archive
    POST   /api/patients/{id}/debt/unarchive
    POST   /api/patients/{id}/contacted
    POST   /api/admin/repair-debts

  Payments:
    GET    /api/patients/{id}/payments
    POST   /api/patients/{id}/payments
    DELETE /api/payments/{id}

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Precondition / validation failures
  - 404: Missing patient or session
  - 409: Guard violations (deleting a saved session)
  - 503: Store busy (concurrent save exceeded the busy timeout)
  - 500: Everything else

SEE ALSO:
  - dto.go: Wire types and conversions
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinica/session-engine/clinic"
	"github.com/clinica/session-engine/ledger"
	"github.com/clinica/session-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       *sqlite.Store
	Coordinator *clinic.Coordinator
	Debts       *clinic.DebtService
	Metrics     *Metrics
}

// NewHandler wires a handler over the given store.
func NewHandler(store *sqlite.Store, metrics *Metrics) *Handler {
	coordinator := clinic.NewCoordinator(store)
	if metrics != nil {
		coordinator.SetTransitionHook(metrics.ObserveDebtTransition)
	}
	return &Handler{
		Store:       store,
		Coordinator: coordinator,
		Debts:       clinic.NewDebtService(store, store),
		Metrics:     metrics,
	}
}

// =============================================================================
// SAVE
// =============================================================================

// SavePatient handles the composite save for both route shapes. When the
// URL carries an id it overrides whatever the body says.
func (h *Handler) SavePatient(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	patient := req.Patient.toDomain()
	if idParam := chi.URLParam(r, "id"); idParam != "" {
		id, err := strconv.ParseInt(idParam, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid patient id", err)
			return
		}
		patient.ID = ledger.PatientID(id)
	}

	drafts := make([]ledger.SessionDraft, len(req.Sessions))
	for i, s := range req.Sessions {
		drafts[i] = s.toDraft()
	}

	start := time.Now()
	patientID, lastSessionID, err := h.Coordinator.Save(r.Context(), patient, drafts)
	if h.Metrics != nil {
		h.Metrics.ObserveSave(err, time.Since(start))
	}
	if err != nil {
		writeDomainError(w, "Failed to save sessions", err)
		return
	}

	writeJSON(w, http.StatusOK, SaveResponse{
		PatientID:     int64(patientID),
		LastSessionID: int64(lastSessionID),
	})
}

// =============================================================================
// PATIENT READS
// =============================================================================

// ListPatients returns the active-patient listing with pending balances.
func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.Store.ListActivePatients(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list patients", err)
		return
	}

	dtos := make([]PatientSummaryDTO, len(patients))
	for i, p := range patients {
		dtos[i] = summaryDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SearchPatients searches by name, document id or phone.
func (h *Handler) SearchPatients(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "Missing query parameter q", nil)
		return
	}

	patients, err := h.Store.SearchPatients(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to search patients", err)
		return
	}

	dtos := make([]PatientDTO, len(patients))
	for i := range patients {
		dtos[i] = patientDTO(&patients[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPatient returns a single patient.
func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	patient, err := h.Store.GetPatient(r.Context(), ledger.PatientID(id))
	if err != nil {
		writeDomainError(w, "Failed to get patient", err)
		return
	}
	writeJSON(w, http.StatusOK, patientDTO(patient))
}

// GetSessions returns a patient's sessions with their items, newest first.
func (h *Handler) GetSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	drafts, err := h.Store.SessionsByPatient(r.Context(), ledger.PatientID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions", err)
		return
	}

	dtos := make([]SessionDTO, len(drafts))
	for i, d := range drafts {
		dtos[i] = sessionDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DeleteSession deletes an unsaved session. Saved sessions return 409.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Store.DeleteSession(r.Context(), ledger.SessionID(id)); err != nil {
		writeDomainError(w, "Failed to delete session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// =============================================================================
// DEBTS
// =============================================================================

// ListDebts returns the open-debt report.
func (h *Handler) ListDebts(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.Debts.Summaries(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list debts", err)
		return
	}

	dtos := make([]DebtSummaryDTO, len(summaries))
	for i, d := range summaries {
		dtos[i] = debtSummaryDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ArchiveDebt hides a patient's debt from the report.
func (h *Handler) ArchiveDebt(w http.ResponseWriter, r *http.Request) {
	h.debtToggle(w, r, h.Debts.Archive, "archived")
}

// UnarchiveDebt restores a patient's debt to the report.
func (h *Handler) UnarchiveDebt(w http.ResponseWriter, r *http.Request) {
	h.debtToggle(w, r, h.Debts.Unarchive, "unarchived")
}

func (h *Handler) debtToggle(w http.ResponseWriter, r *http.Request, op func(context.Context, ledger.PatientID) error, verb string) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := op(r.Context(), ledger.PatientID(id)); err != nil {
		writeDomainError(w, "Failed to update debt", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patient_id": id, "debt": verb})
}

// MarkContacted records a debt-collection contact.
func (h *Handler) MarkContacted(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req MarkContactedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.Debts.MarkContacted(r.Context(), ledger.PatientID(id), req.ContactType); err != nil {
		if errors.Is(err, ledger.ErrPatientNotFound) {
			writeError(w, http.StatusNotFound, "Patient not found", err)
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to mark contacted", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patient_id": id, "contact_type": req.ContactType})
}

// RepairDebts backfills missing debt_opened_at dates.
func (h *Handler) RepairDebts(w http.ResponseWriter, r *http.Request) {
	repaired, err := h.Debts.RepairOpenedDates(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to repair debts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repaired": repaired})
}

// =============================================================================
// PAYMENTS
// =============================================================================

// ListPayments returns a patient's standalone payments.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	payments, err := h.Store.PaymentsByPatient(r.Context(), ledger.PatientID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}

	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = paymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddPayment records a standalone payment.
func (h *Handler) AddPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req AddPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Date == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "Date and positive amount required", nil)
		return
	}

	paymentID, err := h.Store.AddPayment(r.Context(), sqlite.Payment{
		PatientID:     ledger.PatientID(id),
		Date:          req.Date,
		Amount:        ledger.Money(req.Amount),
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to add payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": paymentID})
}

// DeletePayment removes a standalone payment.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Store.DeletePayment(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "Failed to delete payment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// =============================================================================
// HELPERS
// =============================================================================

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id", err)
		return 0, false
	}
	return id, true
}

// writeDomainError maps domain sentinels to HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsPrecondition(err):
		writeError(w, http.StatusBadRequest, message, err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ledger.ErrSessionSaved):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, ledger.ErrStoreBusy):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

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
