// Package errors provides standardized error handling for the order pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeSessionLoadFailed  ErrorCode = "SESSION_LOAD_FAILED"
	ErrCodeSessionStoreFailed ErrorCode = "SESSION_STORE_FAILED"
	ErrCodeSessionTerminal    ErrorCode = "SESSION_TERMINAL"

	ErrCodeExtractionBackendFailed ErrorCode = "EXTRACTION_BACKEND_FAILED"
	ErrCodeExtractionTimeout       ErrorCode = "EXTRACTION_TIMEOUT"
	ErrCodeAgentResponseMalformed  ErrorCode = "AGENT_RESPONSE_MALFORMED"

	ErrCodeCatalogSearchFailed ErrorCode = "CATALOG_SEARCH_FAILED"
	ErrCodeCatalogUnavailable  ErrorCode = "CATALOG_UNAVAILABLE"

	ErrCodePatientNotFound ErrorCode = "PATIENT_NOT_FOUND"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeQueryTimeout             ErrorCode = "QUERY_TIMEOUT"

	ErrCodeVerdictNotApproved     ErrorCode = "VERDICT_NOT_APPROVED"
	ErrCodeInventoryInsufficient  ErrorCode = "INVENTORY_INSUFFICIENT"
	ErrCodeReservationConflict    ErrorCode = "RESERVATION_CONFLICT"
	ErrCodeOrderNotFound          ErrorCode = "ORDER_NOT_FOUND"
	ErrCodeOrderStatusRegression  ErrorCode = "ORDER_STATUS_REGRESSION"
	ErrCodeWarehousePublishFailed ErrorCode = "WAREHOUSE_PUBLISH_FAILED"

	ErrCodeRefillComputeFailed  ErrorCode = "REFILL_COMPUTE_FAILED"
	ErrCodeSuggestionSendFailed ErrorCode = "SUGGESTION_SEND_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// AsStandard extracts a *StandardError from an error chain, or nil.
func AsStandard(err error) *StandardError {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return nil
}

// IsRetryable reports whether the error is worth another attempt.
func IsRetryable(err error) bool {
	if stdErr := AsStandard(err); stdErr != nil {
		return stdErr.Retryable
	}
	return false
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	stdErr := AsStandard(err)
	return stdErr != nil && stdErr.Code == code
}

// ==========================
// 2. Error Constructors
// ==========================

// NewSessionLoadFailedError creates a retryable session store error.
func NewSessionLoadFailedError(sessionID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionLoadFailed,
		Message:   "Failed to load conversation session",
		Details:   fmt.Sprintf("sessionId: %s, error: %s", sessionID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionStoreFailedError creates a retryable session store error.
func NewSessionStoreFailedError(sessionID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionStoreFailed,
		Message:   "Failed to persist conversation session",
		Details:   fmt.Sprintf("sessionId: %s, error: %s", sessionID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionTerminalError creates a non-retryable error for turns on a finished session.
func NewSessionTerminalError(sessionID, stage string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionTerminal,
		Message:   "Session has concluded; start a new session for a new order",
		Details:   fmt.Sprintf("sessionId: %s, stage: %s", sessionID, stage),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewExtractionBackendFailedError creates a retryable reasoning backend error.
func NewExtractionBackendFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExtractionBackendFailed,
		Message:   "Extraction reasoning backend error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewExtractionTimeoutError creates a retryable extraction timeout error.
func NewExtractionTimeoutError() *StandardError {
	return &StandardError{
		Code:      ErrCodeExtractionTimeout,
		Message:   "Extraction reasoning backend timeout",
		Details:   "backend call exceeded timeout threshold",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAgentResponseMalformedError creates a retryable malformed-reply error.
func NewAgentResponseMalformedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAgentResponseMalformed,
		Message:   "Reasoning backend returned a malformed reply",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCatalogSearchFailedError creates a retryable catalog search error.
func NewCatalogSearchFailedError(term string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCatalogSearchFailed,
		Message:   "Medication catalog search error",
		Details:   fmt.Sprintf("term: %s, error: %s", term, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPatientNotFoundError creates a non-retryable missing patient error.
func NewPatientNotFoundError(patientID string) *StandardError {
	return &StandardError{
		Code:      ErrCodePatientNotFound,
		Message:   "Patient record not found",
		Details:   fmt.Sprintf("patientId: %s", patientID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryTimeoutError creates a retryable query timeout error.
func NewQueryTimeoutError(operation string) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryTimeout,
		Message:   "Database query timeout",
		Details:   fmt.Sprintf("operation: %s", operation),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewVerdictNotApprovedError creates a non-retryable caller contract violation.
func NewVerdictNotApprovedError(outcome string) *StandardError {
	return &StandardError{
		Code:      ErrCodeVerdictNotApproved,
		Message:   "Fulfillment requires an approved safety verdict",
		Details:   fmt.Sprintf("verdict outcome: %s", outcome),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInventoryInsufficientError creates a non-retryable fulfillment error.
// Insufficiency is a fact about stock, not a transient fault.
func NewInventoryInsufficientError(medicationID string, requested int) *StandardError {
	return &StandardError{
		Code:      ErrCodeInventoryInsufficient,
		Message:   "Insufficient inventory to reserve requested quantity",
		Details:   fmt.Sprintf("medicationId: %s, requested: %d", medicationID, requested),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewReservationConflictError creates a retryable reservation error.
func NewReservationConflictError(medicationID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeReservationConflict,
		Message:   "Inventory reservation conflict",
		Details:   fmt.Sprintf("medicationId: %s, error: %s", medicationID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewOrderNotFoundError creates a non-retryable missing order error.
func NewOrderNotFoundError(orderID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeOrderNotFound,
		Message:   "Fulfillment order not found",
		Details:   fmt.Sprintf("orderId: %s", orderID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewOrderStatusRegressionError creates a non-retryable status transition error.
func NewOrderStatusRegressionError(orderID, from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeOrderStatusRegression,
		Message:   "Order status transitions are monotonic",
		Details:   fmt.Sprintf("orderId: %s, from: %s, to: %s", orderID, from, to),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewWarehousePublishFailedError creates a retryable warehouse notification error.
func NewWarehousePublishFailedError(orderID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeWarehousePublishFailed,
		Message:   "Warehouse notification delivery failed",
		Details:   fmt.Sprintf("orderId: %s, error: %s", orderID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewRefillComputeFailedError creates a retryable refill computation error.
func NewRefillComputeFailedError(patientID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeRefillComputeFailed,
		Message:   "Refill schedule computation failed",
		Details:   fmt.Sprintf("patientId: %s, error: %s", patientID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSuggestionSendFailedError creates a retryable suggestion delivery error.
func NewSuggestionSendFailedError(scheduleID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSuggestionSendFailed,
		Message:   "Refill suggestion delivery failed",
		Details:   fmt.Sprintf("scheduleId: %s, error: %s", scheduleID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Retry Classification
// ==========================

// GetRetryCount returns the recommended retry count per error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeSessionLoadFailed,
		ErrCodeSessionStoreFailed,
		ErrCodeExtractionBackendFailed,
		ErrCodeAgentResponseMalformed,
		ErrCodeCatalogSearchFailed,
		ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeWarehousePublishFailed,
		ErrCodeRefillComputeFailed,
		ErrCodeSuggestionSendFailed:
		return 3

	case ErrCodeExtractionTimeout,
		ErrCodeQueryTimeout,
		ErrCodeReservationConflict:
		return 2

	default:
		return 0 // Policy outcomes and contract violations: no retry
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "SESSION"):
		return "SESSION"
	case strings.Contains(codeStr, "EXTRACTION") || strings.Contains(codeStr, "AGENT"):
		return "AGENT"
	case strings.Contains(codeStr, "CATALOG"):
		return "CATALOG"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	case strings.Contains(codeStr, "INVENTORY") || strings.Contains(codeStr, "RESERVATION") ||
		strings.Contains(codeStr, "ORDER") || strings.Contains(codeStr, "VERDICT"):
		return "FULFILLMENT"
	case strings.Contains(codeStr, "WAREHOUSE"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "REFILL") || strings.Contains(codeStr, "SUGGESTION"):
		return "REFILL"
	default:
		return "OTHER"
	}
}
