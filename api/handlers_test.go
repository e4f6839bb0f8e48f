package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinica/session-engine/api"
	"github.com/clinica/session-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	store, err := sqlite.New(":memory:", 1000)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	handler := api.NewHandler(store, api.NewMetrics())
	server := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func saveBody(payment float64, prices ...float64) api.SaveRequest {
	items := make([]api.SessionItemPayload, len(prices))
	var budget float64
	for i, p := range prices {
		items[i] = api.SessionItemPayload{Name: "Procedure", UnitPrice: p, Quantity: 1, Subtotal: p}
		budget += p
	}
	return api.SaveRequest{
		Patient: api.PatientPayload{FullName: "Maria Lopez", DocID: "A-1001", Phone: "555-0101"},
		Sessions: []api.SessionPayload{
			{Date: "2026-03-10", Budget: budget, Payment: payment, Items: items},
		},
	}
}

// =============================================================================
// SAVE ROUND TRIP
// =============================================================================

func TestSaveEndpoint_RoundTrip(t *testing.T) {
	server := newTestServer(t)

	// WHEN: saving a new patient with items [100, 50] and payment 30
	resp := doJSON(t, http.MethodPost, server.URL+"/api/patients/save", saveBody(30, 100, 50))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved := decode[api.SaveResponse](t, resp)
	require.NotZero(t, saved.PatientID)

	// THEN: the stored session carries the recomputed financials
	resp = doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/api/patients/%d/sessions", server.URL, saved.PatientID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions := decode[[]api.SessionDTO](t, resp)
	require.Len(t, sessions, 1)
	assert.InDelta(t, 150, sessions[0].Budget, 0.001)
	assert.InDelta(t, 120, sessions[0].Balance, 0.001)
	assert.InDelta(t, 120, sessions[0].CumulativeBalance, 0.001)
	assert.Len(t, sessions[0].Items, 2)

	// AND: the patient shows up as a debtor
	resp = doJSON(t, http.MethodGet, server.URL+"/api/debts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	debts := decode[[]api.DebtSummaryDTO](t, resp)
	require.Len(t, debts, 1)
	assert.Equal(t, saved.PatientID, debts[0].PatientID)
	assert.Equal(t, "2026-03-10", debts[0].DebtOpenedAt)
}

func TestSaveEndpoint_NoDrafts_BadRequest(t *testing.T) {
	server := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/patients/save", api.SaveRequest{
		Patient: api.PatientPayload{FullName: "Maria Lopez"},
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSaveEndpoint_URLIdentityWins(t *testing.T) {
	server := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/patients/save", saveBody(0, 100))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decode[api.SaveResponse](t, resp)

	// WHEN: posting to /{id}/save with a body that omits the id
	body := saveBody(0, 50)
	resp = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/patients/%d/save", server.URL, first.PatientID), body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decode[api.SaveResponse](t, resp)

	// THEN: the save targeted the existing patient
	assert.Equal(t, first.PatientID, second.PatientID)
}

func TestSaveEndpoint_MissingPatient_NotFound(t *testing.T) {
	server := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/patients/9999/save", saveBody(0, 100))

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// GUARDS AND ERRORS
// =============================================================================

func TestDeleteSession_SavedConflict(t *testing.T) {
	server := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/patients/save", saveBody(0, 100))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved := decode[api.SaveResponse](t, resp)

	resp = doJSON(t, http.MethodDelete,
		fmt.Sprintf("%s/api/sessions/%d", server.URL, saved.LastSessionID), nil)

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.NotEmpty(t, body.Error)
}

func TestMarkContacted_UnknownType_BadRequest(t *testing.T) {
	server := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/patients/save", saveBody(0, 100))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved := decode[api.SaveResponse](t, resp)

	resp = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/patients/%d/contacted", server.URL, saved.PatientID),
		api.MarkContactedRequest{ContactType: "fax"})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// DEBT TOGGLES
// =============================================================================

func TestDebtArchiveToggle(t *testing.T) {
	server := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/patients/save", saveBody(0, 100))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved := decode[api.SaveResponse](t, resp)

	// WHEN: archiving
	resp = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/patients/%d/debt/archive", server.URL, saved.PatientID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// THEN: the debtor disappears from the report
	resp = doJSON(t, http.MethodGet, server.URL+"/api/debts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]api.DebtSummaryDTO](t, resp))

	// AND: unarchiving brings them back
	resp = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/patients/%d/debt/unarchive", server.URL, saved.PatientID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, server.URL+"/api/debts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]api.DebtSummaryDTO](t, resp), 1)
}

// =============================================================================
// MISC SURFACES
// =============================================================================

func TestHealthAndMetrics(t *testing.T) {
	server := newTestServer(t)

	resp := doJSON(t, http.MethodGet, server.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, server.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSearch_RequiresQuery(t *testing.T) {
	server := newTestServer(t)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/patients/search", nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPayments_RoundTrip(t *testing.T) {
	server := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/patients/save", saveBody(0, 100))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved := decode[api.SaveResponse](t, resp)

	resp = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/patients/%d/payments", server.URL, saved.PatientID),
		api.AddPaymentRequest{Date: "2026-03-15", Amount: 45, PaymentMethod: "cash"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/api/patients/%d/payments", server.URL, saved.PatientID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	payments := decode[[]api.PaymentDTO](t, resp)
	require.Len(t, payments, 1)
	assert.InDelta(t, 45, payments[0].Amount, 0.001)
}
