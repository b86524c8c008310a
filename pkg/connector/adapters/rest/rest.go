// Package rest implements the client adapter for connectors that expose a
// JSON-over-HTTP API.
//
// Wire contract:
//
//	GET  {base_url}/{category}?cursor=..&limit=..  -> {"records": [...], "rejected": [...], "next_cursor": "..", "has_more": true}
//	POST {base_url}/{category}/batch {"records": [...]} -> {"results": [{"index": 0, "accepted": true, "reason": ""}]}
//	GET  {base_url}/{health_path}
//
// 5xx, 429 and transport failures are connector_unavailable; other 4xx
// responses are connector_rejected.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/pkg/clients"
	"github.com/ajitpratap0/orbit/pkg/connector/core"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/logger"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/secrets"
)

// Family is the connector family served by this adapter
const Family = "rest"

const maxResponseBytes = 32 << 20

// Adapter talks to one REST connector
type Adapter struct {
	connectorID string
	baseURL     *url.URL
	refField    string
	healthPath  string
	auth        *authenticator
	breaker     *clients.CircuitBreaker
	logger      *zap.Logger
}

type fetchResponse struct {
	Records    []map[string]interface{} `json:"records"`
	Rejected   []core.Rejection         `json:"rejected"`
	NextCursor string                   `json:"next_cursor"`
	HasMore    bool                     `json:"has_more"`
}

type pushRequest struct {
	Records []json.RawMessage `json:"records"`
}

type pushResult struct {
	Index    int    `json:"index"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
}

type pushResponse struct {
	Results []pushResult `json:"results"`
}

// Factory builds REST adapters for the registry.
//
// Options: base_url (required), auth (none|bearer|basic|oauth2),
// ref_field (default "id"), health_path (default "health"),
// breaker_threshold, breaker_timeout.
func Factory(ctx context.Context, d *models.ConnectorDescriptor, creds secrets.Credentials) (core.ClientAdapter, error) {
	return New(ctx, d, creds, clients.DefaultHTTPConfig())
}

// New creates an adapter with an explicit transport configuration
func New(ctx context.Context, d *models.ConnectorDescriptor, creds secrets.Credentials, httpConfig clients.HTTPConfig) (*Adapter, error) {
	raw := d.Option("base_url", "")
	if raw == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "rest connector requires the base_url option").
			WithDetail("connector_id", d.ID)
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Newf(errors.ErrorTypeValidation, "invalid base_url %q", raw).
			WithDetail("connector_id", d.ID)
	}

	breakerConfig := clients.DefaultCircuitBreakerConfig()
	if v := d.Option("breaker_threshold", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, errors.Newf(errors.ErrorTypeValidation, "invalid breaker_threshold %q", v)
		}
		breakerConfig.FailureThreshold = n
	}
	if v := d.Option("breaker_timeout", ""); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid breaker_timeout")
		}
		breakerConfig.Timeout = timeout
	}

	log := logger.Get().With(
		zap.String("component", "rest_adapter"),
		zap.String("connector_id", d.ID),
	)

	auth, err := newAuthenticator(ctx, models.AuthKind(d.Option("auth", string(models.AuthNone))), creds, clients.NewHTTPClient(httpConfig))
	if err != nil {
		return nil, err
	}

	return &Adapter{
		connectorID: d.ID,
		baseURL:     base,
		refField:    d.Option("ref_field", "id"),
		healthPath:  strings.TrimLeft(d.Option("health_path", "health"), "/"),
		auth:        auth,
		breaker:     clients.NewCircuitBreaker(d.ID, breakerConfig, log),
		logger:      log,
	}, nil
}

// TestConnection implements core.ClientAdapter
func (a *Adapter) TestConnection(ctx context.Context) (core.ConnectionResult, error) {
	start := time.Now()
	_, err := a.do(ctx, http.MethodGet, a.endpoint(a.healthPath), nil, nil, "")
	result := core.ConnectionResult{OK: err == nil, Latency: time.Since(start)}
	if err != nil {
		result.Message = err.Error()
		return result, err
	}
	return result, nil
}

// FetchBatch implements core.ClientAdapter
func (a *Adapter) FetchBatch(ctx context.Context, category, cursor string, batchSize int) (core.FetchResult, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if batchSize > 0 {
		query.Set("limit", strconv.Itoa(batchSize))
	}
	target := a.endpoint(url.PathEscape(category))
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	body, err := a.do(ctx, http.MethodGet, target, nil, nil, "")
	if err != nil {
		return core.FetchResult{}, err
	}

	var page fetchResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return core.FetchResult{}, errors.Wrap(err, errors.ErrorTypeConnectorRejected, "invalid fetch response")
	}

	result := core.FetchResult{
		Records:    make([]models.Record, 0, len(page.Records)),
		Rejected:   page.Rejected,
		NextCursor: page.NextCursor,
		Done:       !page.HasMore,
	}
	for i, data := range page.Records {
		result.Records = append(result.Records, models.NewRecord(a.refOf(data, cursor, i), data))
	}
	if result.NextCursor == "" {
		result.NextCursor = cursor
	}
	return result, nil
}

// PushBatch implements core.ClientAdapter. Records that cannot be encoded
// are reported as unencodable and left out of the request.
func (a *Adapter) PushBatch(ctx context.Context, category string, records []models.Record) ([]models.RecordOutcome, error) {
	outcomes := make([]models.RecordOutcome, len(records))
	req := pushRequest{Records: make([]json.RawMessage, 0, len(records))}
	sent := make([]int, 0, len(records))
	for i, r := range records {
		data, err := json.Marshal(r.Data)
		if err != nil {
			outcomes[i] = models.Unencodable(i, r.Ref, "failed to encode record: "+err.Error())
			continue
		}
		req.Records = append(req.Records, data)
		sent = append(sent, i)
	}
	if len(sent) == 0 {
		return outcomes, nil
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMapping, "failed to encode push batch")
	}

	body, err := a.do(ctx, http.MethodPost, a.endpoint(url.PathEscape(category), "batch"), payload, nil, "")
	if err != nil {
		return nil, err
	}

	var resp pushResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnectorRejected, "invalid push response")
		}
	}

	if len(resp.Results) == 0 {
		for _, i := range sent {
			outcomes[i] = models.Accepted(i, records[i].Ref)
		}
		return outcomes, nil
	}

	// result indexes refer to positions in the request, not in records
	reported := make([]bool, len(sent))
	for _, res := range resp.Results {
		if res.Index < 0 || res.Index >= len(sent) {
			a.logger.Warn("push result index out of range", zap.Int("index", res.Index))
			continue
		}
		i := sent[res.Index]
		if res.Accepted {
			outcomes[i] = models.Accepted(i, records[i].Ref)
		} else {
			outcomes[i] = models.Rejected(i, records[i].Ref, res.Reason)
		}
		reported[res.Index] = true
	}
	for pos, ok := range reported {
		if !ok {
			i := sent[pos]
			outcomes[i] = models.Rejected(i, records[i].Ref, "no outcome reported by connector")
		}
	}
	return outcomes, nil
}

// ExecuteRaw implements core.ClientAdapter. Relative endpoint URLs resolve
// against base_url.
func (a *Adapter) ExecuteRaw(ctx context.Context, endpoint models.CustomEndpointDefinition, payload []byte) ([]byte, error) {
	target := endpoint.URL
	if u, err := url.Parse(endpoint.URL); err != nil || !u.IsAbs() {
		target = a.endpoint(strings.TrimLeft(endpoint.URL, "/"))
	}
	method := strings.ToUpper(endpoint.Method)
	if method == "" {
		method = http.MethodPost
	}
	if method == http.MethodGet {
		payload = nil
	}
	return a.do(ctx, method, target, payload, endpoint.Headers, endpoint.Auth)
}

// Close implements core.ClientAdapter
func (a *Adapter) Close() error {
	a.auth.closeIdle()
	return nil
}

// Breaker exposes the adapter circuit breaker state
func (a *Adapter) Breaker() clients.CircuitBreakerState {
	return a.breaker.Snapshot()
}

func (a *Adapter) endpoint(parts ...string) string {
	return a.baseURL.String() + "/" + strings.Join(parts, "/")
}

func (a *Adapter) refOf(data map[string]interface{}, cursor string, i int) string {
	if v, ok := data[a.refField]; ok && v != nil {
		switch ref := v.(type) {
		case string:
			return ref
		case float64:
			return strconv.FormatFloat(ref, 'f', -1, 64)
		default:
			return fmt.Sprint(ref)
		}
	}
	return fmt.Sprintf("%s#%d", cursor, i)
}

func (a *Adapter) do(ctx context.Context, method, target string, payload []byte, headers map[string]string, auth models.AuthKind) ([]byte, error) {
	var result []byte
	err := a.breaker.Execute(func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInvalidRequest, "failed to build request")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "orbit-rest-adapter/1.0")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		client, err := a.auth.client(req, auth)
		if err != nil {
			return err
		}

		resp, err := client.Do(req)
		if err != nil {
			return classifyTransport(err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnectorUnavailable, "failed to read response")
		}
		if err := classifyStatus(resp.StatusCode, data); err != nil {
			return err
		}
		result = data
		return nil
	}, errors.IsRetryable)
	if err != nil {
		a.logger.Debug("request failed",
			zap.String("method", method),
			zap.String("url", target),
			zap.Error(err))
	}
	return result, err
}

func classifyStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}
	errType := errors.ErrorTypeConnectorRejected
	if status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		errType = errors.ErrorTypeConnectorUnavailable
	}
	return errors.Newf(errType, "connector returned status %d: %s", status, snippet).
		WithDetail("status", status)
}
