package relay

import (
	"encoding/json"
	"net/http"
)

// Machine-readable error codes for non-streaming error responses.
const (
	codeInvalidRequest  = "invalid_request"
	codeValidationError = "validation_error"
	codeInvalidIDFormat = "invalid_id_format"
	codeNotFound        = "not_found"
	codeDataIntegrity   = "data_integrity"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError sends a whole-response JSON error. Only valid before the
// response has been committed to streaming.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: code, Message: message}})
}
