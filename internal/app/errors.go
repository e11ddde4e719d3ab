package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"brokerdesk/api/internal/clients"
	"brokerdesk/api/internal/export"
	"brokerdesk/api/internal/ledger"
	"brokerdesk/api/internal/reports"
	"brokerdesk/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var errorTable = []struct {
	target  error
	status  int
	code    string
	message string
}{
	{clients.ErrClientNotFound, http.StatusNotFound, "NOT_FOUND", "Client not found"},
	{store.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "Policy not found"},
	{store.ErrConflict, http.StatusConflict, "CONFLICT", "Policy was modified concurrently; reload and retry"},
	{clients.ErrEmptyQuery, http.StatusBadRequest, "VALIDATION_ERROR", "Search term is required"},
	{ledger.ErrNoInstallments, http.StatusUnprocessableEntity, "NO_INSTALLMENTS", "Policy is not billed in installments"},
	{ledger.ErrScheduleComplete, http.StatusConflict, "SCHEDULE_COMPLETE", "Every installment has already been paid"},
	{ledger.ErrUnknownStartDate, http.StatusUnprocessableEntity, "UNKNOWN_START_DATE", "Policy start date is unknown"},
	{ledger.ErrUnknownFrequency, http.StatusUnprocessableEntity, "UNKNOWN_FREQUENCY", "Unknown payment frequency"},
	{reports.ErrInvalidWindow, http.StatusBadRequest, "VALIDATION_ERROR", "window must be week, month or quarter"},
	{reports.ErrInvalidRange, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid date range"},
	{export.ErrUnsupportedFormat, http.StatusBadRequest, "VALIDATION_ERROR", "format must be json, csv or pdf"},
	{export.ErrPDFDependencyMissing, http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export is not available on this server"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT", "Request timed out"},
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	for _, entry := range errorTable {
		if errors.Is(err, entry.target) {
			return entry.status, entry.code, entry.message, nil
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
