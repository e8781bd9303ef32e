package errors

import (
	"net/http"
	"time"
)

// TurnError is the wire form of a pipeline failure surfaced to the caller.
type TurnError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable"`
}

// ToTurnError normalizes any error into a TurnError for the API surface.
func ToTurnError(err error) *TurnError {
	stdErr := AsStandard(err)
	if stdErr == nil {
		stdErr = &StandardError{
			Code:      "INTERNAL_ERROR",
			Message:   "Unexpected error",
			Details:   err.Error(),
			Retryable: false,
			Timestamp: time.Now().UTC(),
		}
	}
	return &TurnError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
	}
}

// HTTPStatus maps an error to a response status.
func HTTPStatus(err error) int {
	stdErr := AsStandard(err)
	if stdErr == nil {
		return http.StatusInternalServerError
	}
	switch stdErr.Code {
	case ErrCodePatientNotFound, ErrCodeOrderNotFound:
		return http.StatusNotFound
	case ErrCodeSessionTerminal, ErrCodeVerdictNotApproved, ErrCodeOrderStatusRegression:
		return http.StatusConflict
	case ErrCodeInventoryInsufficient:
		return http.StatusUnprocessableEntity
	default:
		if stdErr.Retryable {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	}
}
