package panel

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFlowError maps err to a status code and writes it with its code.
func writeFlowError(w http.ResponseWriter, err error) {
	var fe *schema.FlowError
	if !errors.As(err, &fe) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, statusFor(fe.Code), fe)
}

func statusFor(code string) int {
	switch code {
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeValidation, schema.ErrCodeUnknownNode, schema.ErrCodeUnknownField:
		return http.StatusBadRequest
	case schema.ErrCodeConflict, schema.ErrCodeBusy, schema.ErrCodeStale, schema.ErrCodeInvalidTransition, schema.ErrCodeWizardIncomplete:
		return http.StatusConflict
	case schema.ErrCodeConfigRequired:
		return http.StatusPreconditionRequired
	case schema.ErrCodeTransport, schema.ErrCodeMalformedPayload:
		return http.StatusBadGateway
	case schema.ErrCodeCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// queryBool extracts an optional boolean query param.
func queryBool(r *http.Request, key string) *bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}
