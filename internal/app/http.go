package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"brokerdesk/api/internal/dates"
	"brokerdesk/api/internal/export"
	"brokerdesk/api/internal/logging"
	"brokerdesk/api/internal/metrics"
	"brokerdesk/api/internal/reports"
	"brokerdesk/api/internal/search"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     logging.Logger
	metrics    *metrics.Metrics
}

func NewHTTPServer(service *Service, corsOrigin string, logger logging.Logger, m *metrics.Metrics) *HTTPServer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger, metrics: m}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.withMiddleware)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/api/health", s.handleHealth)
	r.Head("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Head("/api/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/clients", func(r chi.Router) {
		r.Get("/", s.handleListClients)
		r.Get("/search", s.handleSearchClients)
		r.Get("/stats", s.handleClientStats)
		r.Get("/{id}", s.handleGetClient)
	})

	r.Route("/api/policies/{collection}/{id}", func(r chi.Router) {
		r.Get("/installments", s.handleInstallments)
		r.Post("/installments/advance", s.handleAdvance)
		r.Post("/installments/toggle", s.handleToggle)
		r.Put("/frequency", s.handleSetFrequency)
	})

	r.Route("/api/reports", func(r chi.Router) {
		r.Get("/expirations", s.handleExpirations)
		r.Get("/installments-due", s.handleInstallmentsDue)
	})

	r.Post("/api/dates/normalize", s.handleNormalizeDate)

	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	// Search falls back to the resolver, so a degraded engine does not fail readiness.
	if healthy, ok := s.service.SearchHealthy(); ok {
		searchStatus := "ok"
		if !healthy {
			searchStatus = "degraded"
		}
		checks["search"] = map[string]any{"status": searchStatus}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleListClients(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	profiles, err := s.service.ListClients(r.Context(), refresh)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": profiles, "total": len(profiles)})
}

func (s *HTTPServer) handleSearchClients(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a non-negative integer", map[string]any{"limit": raw})
			return
		}
		limit = parsed
	}
	resp, err := s.service.SearchClients(r.Context(), search.Query{
		Text:   query.Get("q"),
		Source: strings.TrimSpace(query.Get("source")),
		Limit:  limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleClientStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.ClientStats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleGetClient(w http.ResponseWriter, r *http.Request) {
	profile, err := s.service.GetClient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *HTTPServer) handleInstallments(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Installments(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleAdvance(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.AdvanceInstallment(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handleToggle(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.ToggleInstallment(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handleSetFrequency(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Frequency string `json:"frequency"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	summary, err := s.service.SetFrequency(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"), body.Frequency)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handleExpirations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	window, err := reports.ParseWindow(query.Get("window"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	format, err := export.ParseFormat(query.Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := s.service.ExpirationsReport(r.Context(), window, format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeReport(w, out)
}

func (s *HTTPServer) handleInstallmentsDue(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	today := s.service.Today()
	from, err := parseDateParam(query.Get("from"), today)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), map[string]any{"from": query.Get("from")})
		return
	}
	to, err := parseDateParam(query.Get("to"), from.AddMonths(1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), map[string]any{"to": query.Get("to")})
		return
	}
	format, err := export.ParseFormat(query.Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := s.service.InstallmentsDueReport(r.Context(), from, to, format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeReport(w, out)
}

func (s *HTTPServer) handleNormalizeDate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value any `json:"value"`
	}
	if err := decodeBodyNumbers(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	date, diag := dates.Normalize(body.Value)
	response := map[string]any{"date": date.String(), "known": date.IsKnown()}
	if diag != nil {
		response["diagnostic"] = diag
	}
	writeJSON(w, http.StatusOK, response)
}

// fail maps err to a JSON error response. Unmapped errors are logged since
// their detail never reaches the client.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, code, message, details)
}

// parseDateParam accepts any format the date normalizer understands. Blank
// yields fallback.
func parseDateParam(raw string, fallback dates.CanonicalDate) (dates.CanonicalDate, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, diag := dates.Normalize(raw)
	if diag != nil {
		return dates.CanonicalDate{}, fmt.Errorf("invalid date %q", raw)
	}
	return d, nil
}

func writeReport(w http.ResponseWriter, out ReportOutput) {
	if out.File == nil {
		writeJSON(w, http.StatusOK, out.JSON)
		return
	}
	w.Header().Set("Content-Type", out.File.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.File.Filename))
	if out.File.ArchiveKey != "" {
		w.Header().Set("X-Archive-Key", out.File.ArchiveKey)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.File.Data)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(writer, r.WithContext(logging.WithLogger(r.Context(), s.logger.With("request_id", requestID))))

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.metrics.ObserveHTTP(r.Method, route, writer.status, started)
		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	return decode(r, target, false)
}

// decodeBodyNumbers keeps numbers as json.Number so serials survive intact.
func decodeBodyNumbers(r *http.Request, target any) error {
	return decode(r, target, true)
}

func decode(r *http.Request, target any, useNumber bool) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if useNumber {
		decoder.UseNumber()
	}
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
