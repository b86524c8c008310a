package core

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/models"
)

// Payload is a typed request body for a custom endpoint call.
type Payload interface {
	Validate() error
}

// ValidateEndpoint checks the endpoint definition itself.
func ValidateEndpoint(endpoint models.CustomEndpointDefinition) error {
	if endpoint.ConnectorID == "" {
		return errors.New(errors.ErrorTypeValidation, "endpoint connector id is required")
	}
	if endpoint.URL == "" {
		return errors.New(errors.ErrorTypeValidation, "endpoint url is required")
	}
	switch strings.ToUpper(endpoint.Method) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return errors.Newf(errors.ErrorTypeValidation, "unsupported endpoint method %q", endpoint.Method)
	}
	switch endpoint.Auth {
	case "", models.AuthNone, models.AuthBearer, models.AuthBasic, models.AuthOAuth2:
	default:
		return errors.Newf(errors.ErrorTypeValidation, "unsupported endpoint auth %q", endpoint.Auth)
	}
	if endpoint.RateLimit.RequestsPerMinute < 0 || endpoint.RateLimit.RequestsPerHour < 0 {
		return errors.New(errors.ErrorTypeValidation, "rate limits must be non-negative")
	}
	return nil
}

// EncodePayload validates a typed payload against the endpoint contract and
// encodes it for dispatch.
func EncodePayload[Req Payload](endpoint models.CustomEndpointDefinition, req Req) ([]byte, error) {
	if err := ValidateEndpoint(endpoint); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid payload")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "failed to encode payload")
	}

	if len(endpoint.RequiredFields) > 0 {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "payload must encode as an object")
		}
		for _, name := range endpoint.RequiredFields {
			raw, ok := fields[name]
			if !ok || string(raw) == "null" {
				return nil, errors.Newf(errors.ErrorTypeValidation, "payload is missing required field %q", name)
			}
		}
	}
	return body, nil
}

// ExecuteRaw validates req, dispatches it through the adapter and decodes the
// response into Resp.
func ExecuteRaw[Req Payload, Resp any](ctx context.Context, adapter ClientAdapter, endpoint models.CustomEndpointDefinition, req Req) (Resp, error) {
	var resp Resp

	body, err := EncodePayload(endpoint, req)
	if err != nil {
		return resp, err
	}

	out, err := adapter.ExecuteRaw(ctx, endpoint, body)
	if err != nil {
		return resp, err
	}
	if len(out) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return resp, errors.Wrap(err, errors.ErrorTypeConnectorRejected,
			fmt.Sprintf("failed to decode %s %s response", endpoint.Method, endpoint.URL))
	}
	return resp, nil
}

// RawPayload is an untyped object payload for callers that only know the
// endpoint contract at runtime, such as the HTTP API.
type RawPayload map[string]interface{}

// Validate implements Payload.
func (p RawPayload) Validate() error {
	if p == nil {
		return errors.New(errors.ErrorTypeValidation, "payload is required")
	}
	return nil
}
