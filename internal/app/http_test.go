package app

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"brokerdesk/api/internal/clients"
	"brokerdesk/api/internal/config"
	"brokerdesk/api/internal/export"
	"brokerdesk/api/internal/ledger"
	"brokerdesk/api/internal/metrics"
	"brokerdesk/api/internal/reports"
	"brokerdesk/api/internal/search"
	"brokerdesk/api/internal/sources"
	"brokerdesk/api/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore is an in-process record store that also acts as the ledger sink.
type memoryStore struct {
	mu       sync.Mutex
	records  map[string]map[string]store.Record
	events   []store.LedgerEvent
	pingErr  error
	applyErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[string]map[string]store.Record{}}
}

func (m *memoryStore) put(collection, id string, fields map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[collection] == nil {
		m.records[collection] = map[string]store.Record{}
	}
	m.records[collection][id] = store.Record{ID: id, Collection: collection, Fields: fields, Revision: 1}
}

func (m *memoryStore) Ping(context.Context) error { return m.pingErr }

func (m *memoryStore) ListRecords(_ context.Context, collection string) ([]store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Record, 0, len(m.records[collection]))
	for _, rec := range m.records[collection] {
		out = append(out, rec)
	}
	return out, nil
}

func (m *memoryStore) GetRecord(_ context.Context, collection, id string) (store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[collection][id]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

func (m *memoryStore) UpdateField(_ context.Context, collection, id, field string, value any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[collection][id]
	if !ok {
		return 0, store.ErrNotFound
	}
	rec.Fields = maps.Clone(rec.Fields)
	rec.Fields[field] = value
	rec.Revision++
	m.records[collection][id] = rec
	return rec.Revision, nil
}

func (m *memoryStore) ApplyLedgerDelta(_ context.Context, collection, id string, delta ledger.Delta) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return 0, m.applyErr
	}
	rec, ok := m.records[collection][id]
	if !ok {
		return 0, store.ErrNotFound
	}
	if rec.Revision != delta.Revision {
		return 0, store.ErrConflict
	}
	rec.Fields = maps.Clone(rec.Fields)
	maps.Copy(rec.Fields, delta.Fields())
	rec.Revision++
	m.records[collection][id] = rec
	m.events = append([]store.LedgerEvent{{
		ID:           int64(len(m.events) + 1),
		Collection:   collection,
		RecordID:     id,
		Operation:    delta.Operation,
		CurrentIndex: delta.CurrentIndex,
		NextDueDate:  delta.NextDueDate.String(),
		Revision:     rec.Revision,
	}}, m.events...)
	return rec.Revision, nil
}

func (m *memoryStore) ListLedgerEvents(_ context.Context, collection, id string, limit int) ([]store.LedgerEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.LedgerEvent
	for _, e := range m.events {
		if e.Collection == collection && e.RecordID == id && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

type testEnv struct {
	store   *memoryStore
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	table, err := sources.Default()
	require.NoError(t, err)

	db := newMemoryStore()
	db.put("autos", "p1", map[string]any{
		"nombre_contratante": "Carlos", "numero_poliza": "A-1", "aseguradora": "GNP",
		"forma_pago": "Mensual", "vigencia_inicio": "2025-02-05", "vigencia_fin": "2026-02-05",
		"prima_total": "1200",
	})
	db.put("autos", "p2", map[string]any{
		"nombre_contratante": "Beatriz Núñez", "numero_poliza": "A-2",
		"forma_pago": "Anual", "vigencia_inicio": "2024-03-15", "vigencia_fin": "2025-03-15",
	})
	db.put("vida", "v1", map[string]any{
		"contratante": "carlos.", "numero_poliza": "V-9",
		"forma_pago": "Anual", "vigencia_inicio": "2024-04-01", "vigencia_fin": "2025-04-01",
	})

	now := func() time.Time { return time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC) }
	m := metrics.New()
	resolver := clients.NewResolver(db, table, clients.NewMemoryCache(0, now), clients.Options{Now: now, RetryBase: time.Millisecond})
	dir := search.NewDirectory(nil, resolver, nil)
	l := ledger.New(db, ledger.Options{Now: now})
	rep := reports.NewService(resolver, db, table, l, reports.Options{Now: now})
	exp := export.NewService(export.Options{
		Renderer: func(context.Context, string) ([]byte, error) { return []byte("%PDF-fake"), nil },
		Metrics:  m,
	})

	svc := New(config.Config{}, Deps{
		Store:     db,
		Sources:   table,
		Clients:   resolver,
		Directory: dir,
		Ledger:    l,
		Reports:   rep,
		Exports:   exp,
	})
	return &testEnv{store: db, handler: NewHTTPServer(svc, "*", nil, m).Handler()}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/api/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "ready", body["status"])
	assert.NotContains(t, body["checks"], "search")

	env.store.pingErr = errors.New("connection refused")
	rec = env.do(t, http.MethodGet, "/api/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", decodeJSON(t, rec)["status"])
}

func TestPreflightAndUnknownRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodOptions, "/api/clients", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.do(t, http.MethodGet, "/api/nothing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeJSON(t, rec)["code"])

	rec = env.do(t, http.MethodDelete, "/api/clients/stats", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestClientsEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/clients?refresh=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Clients []clients.ClientProfile `json:"clients"`
		Total   int                     `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 2, list.Total)
	assert.Equal(t, "Beatriz Núñez", list.Clients[0].DisplayName)

	rec = env.do(t, http.MethodGet, "/api/clients/carlos", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var profile clients.ClientProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.Equal(t, 2, profile.TotalPolicies)
	assert.ElementsMatch(t, []string{"autos", "vida"}, profile.Sources)

	rec = env.do(t, http.MethodGet, "/api/clients/nadie", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/clients/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats clients.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Clients)
	assert.Equal(t, 3, stats.Policies)
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/clients/search?q=nunez", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp search.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Beatriz Núñez", resp.Results[0].DisplayName)
	assert.Equal(t, search.EngineResolver, resp.Engine)

	rec = env.do(t, http.MethodGet, "/api/clients/search?q=carlos&source=vida", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Results, 1)

	for _, path := range []string{
		"/api/clients/search?q=",
		"/api/clients/search?q=carlos&limit=abc",
		"/api/clients/search?q=carlos&source=barcos",
	} {
		rec = env.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, "VALIDATION_ERROR", decodeJSON(t, rec)["code"], path)
	}
}

func TestInstallmentLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/policies/autos/p1/installments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, true, body["hasInstallments"])
	assert.EqualValues(t, 12, body["installmentCount"])
	assert.EqualValues(t, 1, body["currentIndex"])

	rec = env.do(t, http.MethodPost, "/api/policies/autos/p1/installments/advance", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary ledger.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.CurrentIndex)
	assert.Equal(t, int64(2), summary.Revision)

	rec = env.do(t, http.MethodPost, "/api/policies/autos/p1/installments/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.CurrentIndex)
	assert.Equal(t, int64(3), summary.Revision)

	rec = env.do(t, http.MethodGet, "/api/policies/autos/p1/installments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		Events []store.LedgerEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.Events, 2)
	assert.Equal(t, "toggle", view.Events[0].Operation)
	assert.Equal(t, "advance", view.Events[1].Operation)
}

func TestSetFrequencyEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/policies/autos/p1/frequency", `{"frequency":"trimestral"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary ledger.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "quarterly", summary.Frequency)
	assert.Equal(t, 4, summary.InstallmentCount)

	stored, err := env.store.GetRecord(context.Background(), "autos", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Trimestral", stored.Fields["forma_pago"])

	rec = env.do(t, http.MethodPut, "/api/policies/autos/p1/frequency", `{"frequency":"weekly"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "UNKNOWN_FREQUENCY", decodeJSON(t, rec)["code"])

	rec = env.do(t, http.MethodPut, "/api/policies/autos/p1/frequency", `{"frequency":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInstallmentErrors(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"annual policy", "/api/policies/vida/v1/installments/advance", http.StatusUnprocessableEntity, "NO_INSTALLMENTS"},
		{"unknown record", "/api/policies/autos/missing/installments/advance", http.StatusNotFound, "NOT_FOUND"},
		{"unknown collection", "/api/policies/barcos/p1/installments/advance", http.StatusNotFound, "UNKNOWN_COLLECTION"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tc.path, "")
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decodeJSON(t, rec)["code"])
		})
	}

	env.store.applyErr = store.ErrConflict
	rec := env.do(t, http.MethodPost, "/api/policies/autos/p1/installments/advance", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", decodeJSON(t, rec)["code"])

	env.store.applyErr = errors.New("disk full")
	rec = env.do(t, http.MethodPost, "/api/policies/autos/p1/installments/advance", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "SERVER_ERROR", decodeJSON(t, rec)["code"])
}

func TestExpirationsReportFormats(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/reports/expirations?window=month", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report reports.ExpirationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Rows, 2)
	assert.Equal(t, "p2", report.Rows[0].RecordID)
	assert.Equal(t, "v1", report.Rows[1].RecordID)

	rec = env.do(t, http.MethodGet, "/api/reports/expirations?window=month&format=csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="expirations-2025-03-10.csv"`)
	assert.Contains(t, rec.Body.String(), "A-2")

	rec = env.do(t, http.MethodGet, "/api/reports/expirations?format=pdf", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-fake", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/reports/expirations?window=year", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/reports/expirations?format=xlsx", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInstallmentsDueReport(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/reports/installments-due?from=2025-03-01&to=31/03/2025", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report reports.InstallmentsReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Rows, 1)
	assert.Equal(t, "p1", report.Rows[0].RecordID)
	assert.Equal(t, "100.00", report.Rows[0].Amount.StringFixed(2))

	rec = env.do(t, http.MethodGet, "/api/reports/installments-due?from=ayer", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/reports/installments-due?from=2025-04-01&to=2025-03-01", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNormalizeDateEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/dates/normalize", `{"value": 45000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "2023-03-15", body["date"])
	assert.Equal(t, true, body["known"])

	rec = env.do(t, http.MethodPost, "/api/dates/normalize", `{"value": "pronto"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeJSON(t, rec)
	assert.Equal(t, "unknown", body["date"])
	assert.Equal(t, false, body["known"])
	assert.NotNil(t, body["diagnostic"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/health", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/health")
}
