package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/orbit/pkg/errors"
)

// errorResponse is the body of every failed request
type errorResponse struct {
	Error   string                 `json:"error"`
	Type    string                 `json:"type"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch errors.GetType(err) {
	case errors.ErrorTypeValidation, errors.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeConnectorBusy:
		return http.StatusConflict
	case errors.ErrorTypeNoData:
		return http.StatusNoContent
	case errors.ErrorTypeConnectorUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	resp := errorResponse{Error: err.Error(), Type: string(errors.GetType(err))}
	var typed *errors.Error
	if errors.As(err, &typed) {
		resp.Details = typed.Details
	}
	writeJSON(w, resp, status)
}

func decode(r *http.Request, target interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "invalid request body")
	}
	return nil
}
