package errors

import (
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestNewAppError(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "Test error", nil)

	if err.Code != ErrCodeInvalidInput {
		t.Errorf("Expected code %s, got %s", ErrCodeInvalidInput, err.Code)
	}

	if err.Message != "Test error" {
		t.Errorf("Expected message 'Test error', got %s", err.Message)
	}

	if err.Severity != SeverityLow {
		t.Errorf("Expected severity %s, got %s", SeverityLow, err.Severity)
	}
}

func TestAppErrorHTTPStatus(t *testing.T) {
	tests := []struct {
		code           ErrorCode
		expectedStatus int
	}{
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeInvalidInput, http.StatusBadRequest},
		{ErrCodeConfiguration, http.StatusBadRequest},
		{ErrCodeDataValidation, http.StatusBadRequest},
		{ErrCodeRunNotFound, http.StatusNotFound},
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeRateLimit, http.StatusTooManyRequests},
	}

	for _, test := range tests {
		err := NewAppError(test.code, "Test", nil)
		status := err.HTTPStatus()

		if status != test.expectedStatus {
			t.Errorf("Code %s: expected status %d, got %d", test.code, test.expectedStatus, status)
		}
	}
}

func TestNewConfigurationError(t *testing.T) {
	err := NewConfigurationError("commission_rate", "commission rate must be non-negative")

	if err.Code != ErrCodeConfiguration {
		t.Errorf("Expected code %s, got %s", ErrCodeConfiguration, err.Code)
	}

	if err.Context["field"] != "commission_rate" {
		t.Errorf("Expected context field 'commission_rate', got %v", err.Context["field"])
	}

	if !IsConfigurationError(err) {
		t.Error("IsConfigurationError should recognize the error")
	}
}

func TestNewDataValidationError(t *testing.T) {
	err := NewDataValidationError("600519.SH", "2023-05-10", "close", "negative price")

	if err.Code != ErrCodeDataValidation {
		t.Errorf("Expected code %s, got %s", ErrCodeDataValidation, err.Code)
	}

	if err.Context["symbol"] != "600519.SH" {
		t.Errorf("Expected context symbol '600519.SH', got %v", err.Context["symbol"])
	}

	if err.Context["date"] != "2023-05-10" {
		t.Errorf("Expected context date '2023-05-10', got %v", err.Context["date"])
	}

	if err.Context["field"] != "close" {
		t.Errorf("Expected context field 'close', got %v", err.Context["field"])
	}

	if !IsDataValidationError(err) {
		t.Error("IsDataValidationError should recognize the error")
	}
}

func TestNewEmptySeriesError(t *testing.T) {
	err := NewEmptySeriesError("daily valuations")

	if err.Code != ErrCodeEmptySeries {
		t.Errorf("Expected code %s, got %s", ErrCodeEmptySeries, err.Code)
	}

	if !IsEmptySeriesError(err) {
		t.Error("IsEmptySeriesError should recognize the error")
	}

	if IsConfigurationError(err) {
		t.Error("IsConfigurationError should not match an empty series error")
	}
}

func TestHasCodeThroughWrapping(t *testing.T) {
	inner := NewDataValidationError("000001.SZ", "2023-01-04", "volume", "negative volume")
	wrapped := fmt.Errorf("failed to validate price table: %w", inner)

	if !HasCode(wrapped, ErrCodeDataValidation) {
		t.Error("HasCode should find the code through fmt.Errorf wrapping")
	}

	if HasCode(wrapped, ErrCodeConfiguration) {
		t.Error("HasCode should not match an absent code")
	}
}

func TestAppErrorWithContext(t *testing.T) {
	err := NewAppError(ErrCodeInternal, "Test error", nil)
	err = err.WithContext("run_id", "abc-123")
	err = err.WithRequestID("req_456")

	if err.Context["run_id"] != "abc-123" {
		t.Errorf("Expected context run_id 'abc-123', got %v", err.Context["run_id"])
	}

	if err.RequestID != "req_456" {
		t.Errorf("Expected request ID 'req_456', got %s", err.RequestID)
	}
}

func TestAppErrorIsRetryable(t *testing.T) {
	retryableErr := NewAppError(ErrCodeTimeout, "Timeout", nil)
	nonRetryableErr := NewAppError(ErrCodeDataValidation, "Bad data", nil)

	if !retryableErr.IsRetryable() {
		t.Error("Timeout error should be retryable")
	}

	if nonRetryableErr.IsRetryable() {
		t.Error("Data validation error should not be retryable")
	}
}

func TestWrapError(t *testing.T) {
	originalErr := fmt.Errorf("original error")
	wrappedErr := WrapError(originalErr, ErrCodeDBQuery, "Database error")

	if wrappedErr.Code != ErrCodeDBQuery {
		t.Errorf("Expected code %s, got %s", ErrCodeDBQuery, wrappedErr.Code)
	}

	if wrappedErr.Message != "Database error" {
		t.Errorf("Expected message 'Database error', got %s", wrappedErr.Message)
	}

	if wrappedErr.Cause != originalErr {
		t.Error("Wrapped error should preserve original error")
	}
}

func TestErrorResponse(t *testing.T) {
	err := NewAppError(ErrCodeNotFound, "Resource not found", nil)
	response := NewErrorResponse(err, "/api/v1/test")

	if response.Error != err {
		t.Error("Response should contain the error")
	}

	if response.Success {
		t.Error("Response success should be false")
	}

	if response.Path != "/api/v1/test" {
		t.Errorf("Expected path '/api/v1/test', got %s", response.Path)
	}

	if time.Since(response.Timestamp) > time.Second {
		t.Error("Response timestamp should be recent")
	}
}

func TestGetSeverityByCode(t *testing.T) {
	tests := []struct {
		code             ErrorCode
		expectedSeverity ErrorSeverity
	}{
		{ErrCodeInternal, SeverityCritical},
		{ErrCodeDBConnection, SeverityCritical},
		{ErrCodeRunFailed, SeverityHigh},
		{ErrCodeConfiguration, SeverityMedium},
		{ErrCodeDataValidation, SeverityMedium},
		{ErrCodeInvalidInput, SeverityLow},
	}

	for _, test := range tests {
		severity := getSeverityByCode(test.code)
		if severity != test.expectedSeverity {
			t.Errorf("Code %s: expected severity %s, got %s", test.code, test.expectedSeverity, severity)
		}
	}
}

func TestIsAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInternal, "Test", nil)
	standardErr := fmt.Errorf("standard error")

	if !IsAppError(appErr) {
		t.Error("Should recognize AppError")
	}

	if IsAppError(standardErr) {
		t.Error("Should not recognize standard error as AppError")
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInternal, "Test", nil)
	standardErr := fmt.Errorf("standard error")

	retrieved := GetAppError(appErr)
	if retrieved != appErr {
		t.Error("Should return the same AppError")
	}

	retrieved = GetAppError(standardErr)
	if retrieved != nil {
		t.Error("Should return nil for standard error")
	}
}
