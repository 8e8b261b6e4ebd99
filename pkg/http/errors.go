package http

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error            string   `json:"error"`                       // Machine-readable error code
	Message          string   `json:"message"`                     // Human-readable message
	Details          string   `json:"details,omitempty"`           // Optional additional context
	MinutesRemaining int      `json:"minutes_remaining,omitempty"` // Set on 423 responses
	Violations       []string `json:"violations,omitempty"`        // Set on password policy failures
}

// WriteJSON writes v as a JSON body with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorResponse(w, statusCode, ErrorResponse{Error: errorCode, Message: message})
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message, details string) {
	WriteErrorResponse(w, statusCode, ErrorResponse{Error: errorCode, Message: message, Details: details})
}

func WriteErrorResponse(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	WriteJSON(w, statusCode, resp)
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}

// WriteLocked reports an active account lockout (423)
func WriteLocked(w http.ResponseWriter, minutesRemaining int) {
	WriteErrorResponse(w, http.StatusLocked, ErrorResponse{
		Error:            "account_locked",
		Message:          "Account is temporarily locked",
		MinutesRemaining: minutesRemaining,
	})
}

// WritePolicyViolation lists every password rule that failed (422)
func WritePolicyViolation(w http.ResponseWriter, violations []string) {
	WriteErrorResponse(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error:      "password_policy",
		Message:    "Password does not meet requirements",
		Violations: violations,
	})
}
