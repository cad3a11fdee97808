package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sigmoyd/flowcraft/internal/refine"
	"github.com/sigmoyd/flowcraft/internal/validation"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

const maxBodyBytes = 8 << 20

// Config configures a Client.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	RateLimit  float64 // requests per second; <= 0 disables limiting
	Burst      int
	MaxRetries int // extra attempts for idempotent GETs
	Backoff    Backoff
	Breaker    BreakerConfig
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client calls the workflow backend.
type Client struct {
	base       *url.URL
	token      string
	http       *http.Client
	limiter    *rate.Limiter
	breakers   *Breakers
	validator  *validation.JSONSchemaValidator
	maxRetries int
	backoff    Backoff
	logger     *slog.Logger
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "backend url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid backend url %q", cfg.BaseURL).WithCause(err)
	}
	v, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 120 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	backoff := cfg.Backoff
	if backoff.Base == 0 {
		backoff = DefaultBackoff
	}
	breaker := cfg.Breaker
	if breaker == (BreakerConfig{}) {
		breaker = DefaultBreakerConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		base:       base,
		token:      cfg.Token,
		http:       hc,
		limiter:    rate.NewLimiter(limit, burst),
		breakers:   NewBreakers(breaker),
		validator:  v,
		maxRetries: cfg.MaxRetries,
		backoff:    backoff,
		logger:     logger,
	}, nil
}

// RefineQuery implements refine.Refiner against POST /refine_query.
func (c *Client) RefineQuery(ctx context.Context, query string, flag int, question refine.Answers) (refine.Response, error) {
	var reply refineReply
	raw, err := c.do(ctx, http.MethodPost, "/refine_query", refineRequest{Question: question, Query: query, Flag: flag})
	if err != nil {
		return refine.Response{}, err
	}
	if err := c.validator.ValidatePayload(validation.KindRefineResponse, raw); err != nil {
		return refine.Response{}, malformed("refine_query", err)
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return refine.Response{}, malformed("refine_query", err)
	}

	var questions []string
	if err := json.Unmarshal(reply.Response, &questions); err == nil {
		return refine.Response{Questions: questions, List: true}, nil
	}
	var spec string
	if err := json.Unmarshal(reply.Response, &spec); err != nil {
		return refine.Response{}, malformed("refine_query", err)
	}
	return refine.Response{Spec: spec}, nil
}

// CreateAgents generates a workflow from a refined query. With FlagUpdate,
// wid names the workflow being regenerated.
func (c *Client) CreateAgents(ctx context.Context, query string, flag int, wid string) (*schema.Workflow, error) {
	raw, err := c.do(ctx, http.MethodPost, "/create_agents", createAgentsRequest{Query: query, Flag: flag, WID: wid})
	if err != nil {
		return nil, err
	}
	wf, err := c.decodeWorkflow("create_agents", raw)
	if err != nil {
		return nil, err
	}
	if wf.WorkflowID.String() == "" {
		return nil, schema.NewError(schema.ErrCodeMalformedPayload, "create_agents: generated workflow has no workflow_id")
	}
	return wf, nil
}

// SaveWorkflow persists wf and returns the server's copy.
func (c *Client) SaveWorkflow(ctx context.Context, wf *schema.Workflow) (*schema.Workflow, error) {
	return c.postWorkflow(ctx, "/save_workflow", wf)
}

// RunWorkflow starts a manual workflow immediately.
func (c *Client) RunWorkflow(ctx context.Context, wf *schema.Workflow) (*schema.Workflow, error) {
	return c.postWorkflow(ctx, "/run_workflow", wf)
}

// ActivateWorkflow toggles an event-triggered workflow on or off.
func (c *Client) ActivateWorkflow(ctx context.Context, wf *schema.Workflow) (*schema.Workflow, error) {
	return c.postWorkflow(ctx, "/activate_workflow", wf)
}

// Execute runs a manual workflow or toggles activation of an event-based one.
func (c *Client) Execute(ctx context.Context, wf *schema.Workflow) (*schema.Workflow, error) {
	if wf.Trigger.IsManual() {
		return c.RunWorkflow(ctx, wf)
	}
	return c.ActivateWorkflow(ctx, wf)
}

// DeleteWorkflow removes a workflow on the server.
func (c *Client) DeleteWorkflow(ctx context.Context, id string) error {
	if id == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow id is required")
	}
	_, err := c.do(ctx, http.MethodDelete, "/delete_workflow/"+url.PathEscape(id), nil)
	return err
}

// SidebarWorkflows lists the user's workflows. Transient failures are retried.
func (c *Client) SidebarWorkflows(ctx context.Context) ([]SidebarEntry, error) {
	var raw []byte
	err := c.retry(ctx, func() error {
		var err error
		raw, err = c.do(ctx, http.MethodGet, "/sidebar_workflows", nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := c.validator.ValidatePayload(validation.KindSidebar, raw); err != nil {
		return nil, malformed("sidebar_workflows", err)
	}
	var entries []SidebarEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, malformed("sidebar_workflows", err)
	}
	return entries, nil
}

func (c *Client) postWorkflow(ctx context.Context, path string, wf *schema.Workflow) (*schema.Workflow, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is required")
	}
	raw, err := c.do(ctx, http.MethodPost, path, workflowRequest{WorkflowJSON: wf})
	if err != nil {
		return nil, err
	}
	return c.decodeWorkflow(strings.TrimPrefix(path, "/"), raw)
}

func (c *Client) decodeWorkflow(endpoint string, raw []byte) (*schema.Workflow, error) {
	var reply workflowReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, malformed(endpoint, err)
	}
	doc := reply.document()
	if len(doc) == 0 || string(doc) == "null" {
		return nil, schema.NewErrorf(schema.ErrCodeMalformedPayload, "%s: reply carries no workflow", endpoint)
	}
	if err := c.validator.ValidatePayload(validation.KindWorkflow, doc); err != nil {
		return nil, malformed(endpoint, err)
	}
	wf := &schema.Workflow{}
	if err := json.Unmarshal(doc, wf); err != nil {
		return nil, malformed(endpoint, err)
	}
	return wf, nil
}

// retry runs fn until it succeeds, fails permanently or attempts run out.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil || !IsRetryable(err) || attempt >= c.maxRetries {
			return err
		}
		delay := c.backoff.Delay(attempt)
		c.logger.DebugContext(ctx, "retrying backend request", "attempt", attempt+1, "delay", delay, "error", err)
		if werr := Wait(ctx, delay); werr != nil {
			return err
		}
	}
}

// do sends one request through the endpoint's circuit breaker and returns
// the body of a successful reply.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	endpoint := endpointOf(path)
	if err := c.breakers.Allow(endpoint); err != nil {
		return nil, err
	}
	raw, status, err := c.send(ctx, method, path, body)
	failed := err != nil && ctx.Err() == nil && (status == 0 || status >= 500)
	if st := c.breakers.Record(endpoint, failed); failed && st == CircuitOpen {
		c.logger.WarnContext(ctx, "backend circuit open", "endpoint", endpoint)
	}
	return raw, err
}

// send performs the HTTP exchange. status is 0 when no reply arrived.
func (c *Client) send(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, transport(method, path, err)
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, -1, fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return nil, -1, transport(method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, transport(method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, 0, transport(method, path, err)
	}
	c.logger.DebugContext(ctx, "backend request", "method", method, "path", path,
		"status", resp.StatusCode, "duration", time.Since(start))

	if err := classify(resp.StatusCode, raw); err != nil {
		return nil, resp.StatusCode, err.WithDetails(map[string]any{"method": method, "path": path, "status": resp.StatusCode})
	}
	return raw, resp.StatusCode, nil
}

// classify maps an error reply to a FlowError. Replies with a 2xx status
// but a {"status":"error"} body are errors too.
func classify(status int, raw []byte) *schema.FlowError {
	var sr statusReply
	_ = json.Unmarshal(raw, &sr)

	ok := status >= 200 && status < 300
	if ok && !strings.EqualFold(sr.Status, "error") {
		return nil
	}

	msg := sr.Message
	if msg == "" {
		if s, isStr := sr.Detail.(string); isStr {
			msg = s
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case strings.Contains(strings.ToLower(msg), "api key"):
		return schema.NewError(schema.ErrCodeConfigRequired, msg)
	case status == http.StatusNotFound:
		return schema.NewError(schema.ErrCodeNotFound, msg)
	default:
		return schema.NewErrorf(schema.ErrCodeTransport, "backend returned %d: %s", status, msg)
	}
}

func transport(method, path string, err error) *schema.FlowError {
	if errors.Is(err, context.Canceled) {
		return schema.NewErrorf(schema.ErrCodeStale, "%s %s cancelled", method, path).WithCause(err)
	}
	return schema.NewErrorf(schema.ErrCodeTransport, "%s %s: %s", method, path, err.Error()).WithCause(err)
}

func malformed(endpoint string, err error) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeMalformedPayload, "%s: malformed reply: %s", endpoint, err.Error()).WithCause(err)
}
