package guardian

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T, withOrchestrator bool) (*gin.Engine, *fixture) {
	t.Helper()
	f := newFixture(t, withOrchestrator)
	h := NewHandler(f.svc)

	r := gin.New()
	h.RegisterPublicRoutes(r)
	h.RegisterRoutes(r.Group("/v1"))
	return r, f
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), "body: %s", w.Body.String())
	return m
}

func TestAnalyze_ReturnsBareAggregate(t *testing.T) {
	r, _ := setupRouter(t, true)

	for _, path := range []string{"/analyze", "/v1/analyze"} {
		w := doJSON(r, http.MethodPost, path, `{"query":"`+rewardScam+`"}`)
		require.Equal(t, http.StatusOK, w.Code, path)

		m := decode(t, w)
		assert.Equal(t, "DANGER", m["verdict"])
		assert.NotEmpty(t, m["orchestrator_summary"])
		details := m["agent_details"].([]any)
		require.Len(t, details, 1)
		assert.Equal(t, "HeuristicScamAgent", details[0].(map[string]any)["agent_name"])
	}
}

func TestAnalyze_Errors(t *testing.T) {
	r, _ := setupRouter(t, true)

	tests := []struct {
		name string
		body string
		want int
		code string
	}{
		{"malformed json", `{"query":`, http.StatusBadRequest, "invalid_request"},
		{"missing query", `{"context":{"sender":"bank"}}`, http.StatusBadRequest, "validation_failed"},
		{"bad entity", `{"query":"hi","entity_id":"no spaces allowed"}`, http.StatusBadRequest, "validation_failed"},
		{"query too long", `{"query":"` + strings.Repeat("a", 10001) + `"}`, http.StatusBadRequest, "validation_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/v1/analyze", tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, tt.code, decode(t, w)["error"])
		})
	}
}

func TestAnalyze_NoOrchestrator(t *testing.T) {
	r, _ := setupRouter(t, false)

	w := doJSON(r, http.MethodPost, "/analyze", `{"query":"hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "analysis_unavailable", decode(t, w)["error"])
}

func TestAnalyzeTransaction(t *testing.T) {
	r, _ := setupRouter(t, false)

	body := `{"entity_id":"alice@okhdfc","transaction":{"id":"tx-9","amount":"45000","timestamp":"2025-12-07T09:58:00Z","location":"Mumbai","merchant":"Grocery","notes":""}}`
	w := doJSON(r, http.MethodPost, "/v1/transactions/analyze", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	m := decode(t, w)
	a := m["assessment"].(map[string]any)
	assert.Equal(t, "tx-9", a["subjectId"])
	assert.Equal(t, "alice@okhdfc", a["entityId"])
	assert.Equal(t, float64(50), a["score"])
	assert.Equal(t, "MEDIUM", a["level"])
	assert.Equal(t, false, a["safeToProceed"])
	assert.Contains(t, m["notification"], "Risk Level: MEDIUM")
}

func TestAnalyzeTransaction_NumericAmount(t *testing.T) {
	r, _ := setupRouter(t, false)

	w := doJSON(r, http.MethodPost, "/v1/transactions/analyze", `{"transaction":{"amount":250.75}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	a := decode(t, w)["assessment"].(map[string]any)
	assert.Equal(t, "default", a["entityId"])
	assert.Equal(t, "LOW", a["level"])
}

func TestAnalyzeTransaction_InvalidAmount(t *testing.T) {
	r, _ := setupRouter(t, false)

	for _, body := range []string{
		`{"transaction":{"id":"x"}}`,
		`{"transaction":{"id":"x","amount":-10}}`,
	} {
		w := doJSON(r, http.MethodPost, "/v1/transactions/analyze", body)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, body)
		assert.Equal(t, "invalid_amount", decode(t, w)["error"])
	}

	w := doJSON(r, http.MethodPost, "/v1/transactions/analyze", `{"transaction":{"amount":"lots"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyzeMessage(t *testing.T) {
	r, _ := setupRouter(t, true)

	body, _ := json.Marshal(MessageRequest{MessageID: "sms-1", Text: rewardScam})

	w := doJSON(r, http.MethodPost, "/v1/messages/analyze", string(body))
	require.Equal(t, http.StatusOK, w.Code)
	m := decode(t, w)
	assert.Equal(t, "HIGH", m["assessment"].(map[string]any)["level"])
	assert.NotContains(t, m, "aggregate")

	w = doJSON(r, http.MethodPost, "/v1/messages/analyze?mode=deep", string(body))
	require.Equal(t, http.StatusOK, w.Code)
	m = decode(t, w)
	assert.Equal(t, "DANGER", m["aggregate"].(map[string]any)["verdict"])

	w = doJSON(r, http.MethodPost, "/v1/messages/analyze?mode=turbo", string(body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_mode", decode(t, w)["error"])
}

func TestAnalyzeMessage_EmptyTextIsLow(t *testing.T) {
	r, _ := setupRouter(t, false)

	w := doJSON(r, http.MethodPost, "/v1/messages/analyze", `{"text":""}`)
	require.Equal(t, http.StatusOK, w.Code)
	a := decode(t, w)["assessment"].(map[string]any)
	assert.Equal(t, "LOW", a["level"])
	assert.Equal(t, []any{"No issues detected"}, a["signals"])
}

func TestAnalyzeBatch(t *testing.T) {
	r, _ := setupRouter(t, false)

	body := `{"entity_id":"erin","transactions":[{"id":"a","amount":100},{"id":"b"}],"messages":["hello","URGENT verify your OTP"]}`
	w := doJSON(r, http.MethodPost, "/v1/batch", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	m := decode(t, w)
	assert.Len(t, m["transactions_analysis"], 1)
	assert.Len(t, m["messages_analysis"], 2)
	errs := m["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, float64(1), errs[0].(map[string]any)["index"])
}

func TestAnalyzeBatch_TooManyItems(t *testing.T) {
	r, _ := setupRouter(t, false)

	msgs := make([]string, 101)
	body, _ := json.Marshal(BatchRequest{Messages: msgs})
	w := doJSON(r, http.MethodPost, "/v1/batch", string(body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_failed", decode(t, w)["error"])
}

func TestListAssessments(t *testing.T) {
	r, f := setupRouter(t, false)

	for i := 0; i < 3; i++ {
		w := doJSON(r, http.MethodPost, "/v1/transactions/analyze", `{"entity_id":"frank","transaction":{"amount":10}}`)
		require.Equal(t, http.StatusOK, w.Code)
	}
	f.svc.Engine().Wait()

	w := doJSON(r, http.MethodGet, "/v1/entities/frank/assessments?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	m := decode(t, w)
	assert.Equal(t, "frank", m["entity_id"])
	assert.Equal(t, float64(2), m["count"])
	assert.Equal(t, true, m["has_more"])
	cursor, ok := m["next_cursor"].(string)
	require.True(t, ok)

	w = doJSON(r, http.MethodGet, "/v1/entities/frank/assessments?limit=2&cursor="+cursor, "")
	require.Equal(t, http.StatusOK, w.Code)
	m = decode(t, w)
	assert.Equal(t, float64(1), m["count"])
	assert.Equal(t, false, m["has_more"])
	assert.NotContains(t, m, "next_cursor")

	w = doJSON(r, http.MethodGet, "/v1/entities/frank/assessments?cursor=%21%21", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_cursor", decode(t, w)["error"])

	w = doJSON(r, http.MethodGet, "/v1/entities/nobody/assessments", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, decode(t, w)["assessments"])

	w = doJSON(r, http.MethodGet, "/v1/entities/bad%20id/assessments", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRegistry(t *testing.T) {
	r, _ := setupRouter(t, false)

	w := doJSON(r, http.MethodGet, "/v1/registry", "")
	require.Equal(t, http.StatusOK, w.Code)
	m := decode(t, w)
	banks := m["banks"].([]any)
	require.NotEmpty(t, banks)
	assert.Equal(t, float64(len(banks)), m["count"])
	first := banks[0].(map[string]any)
	assert.NotEmpty(t, first["name"])
	assert.NotEmpty(t, first["canonicalDomain"])
}
