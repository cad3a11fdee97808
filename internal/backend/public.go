package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sigmoyd/flowcraft/internal/validation"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

type publishRequest struct {
	WorkflowJSON  *schema.Workflow `json:"workflowjson"`
	RefinedPrompt string           `json:"refined_prompt"`
}

type usePublicRequest struct {
	WID string `json:"wid"`
}

// PublicWorkflow is a published workflow as listed by GET /get_public.
type PublicWorkflow struct {
	WID           schema.ID       `json:"wid"`
	Name          string          `json:"name,omitempty"`
	Description   string          `json:"description,omitempty"`
	RefinedPrompt string          `json:"refined_prompt,omitempty"`
	JSON          json.RawMessage `json:"json"`
	Uses          Count           `json:"uses"`
	Likes         Count           `json:"likes"`
}

// Workflow decodes the published document. The backend sends it either as
// an embedded JSON string or as an object.
func (p *PublicWorkflow) Workflow() (*schema.Workflow, error) {
	doc := bytes.TrimSpace(p.JSON)
	if len(doc) > 0 && doc[0] == '"' {
		var text string
		if err := json.Unmarshal(doc, &text); err != nil {
			return nil, malformed("get_public", err)
		}
		doc = []byte(text)
	}
	wf := &schema.Workflow{}
	if err := json.Unmarshal(doc, wf); err != nil {
		return nil, malformed("get_public", err)
	}
	if wf.WorkflowID.IsZero() {
		wf.WorkflowID = p.WID
	}
	return wf, nil
}

// Count is a counter the backend encodes as a number or a numeric string.
type Count int

func (c *Count) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*c = Count(n)
	return nil
}

// PublishWorkflow shares wf publicly together with the prompt it was
// generated from and returns the server's copy.
func (c *Client) PublishWorkflow(ctx context.Context, wf *schema.Workflow, refinedPrompt string) (*schema.Workflow, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is required")
	}
	if wf.WorkflowID.IsZero() {
		return nil, schema.NewError(schema.ErrCodeValidation, "only saved workflows can be published")
	}
	raw, err := c.do(ctx, http.MethodPost, "/public_workflow", publishRequest{WorkflowJSON: wf, RefinedPrompt: refinedPrompt})
	if err != nil {
		return nil, err
	}
	return c.decodeWorkflow("public_workflow", raw)
}

// GetPublic fetches a published workflow. Transient failures are retried.
func (c *Client) GetPublic(ctx context.Context, wid string) (*PublicWorkflow, error) {
	if wid == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow id is required")
	}
	var raw []byte
	err := c.retry(ctx, func() error {
		var err error
		raw, err = c.do(ctx, http.MethodGet, "/get_public?wid="+url.QueryEscape(wid), nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := c.validator.ValidatePayload(validation.KindPublic, raw); err != nil {
		return nil, malformed("get_public", err)
	}
	pub := &PublicWorkflow{}
	if err := json.Unmarshal(raw, pub); err != nil {
		return nil, malformed("get_public", err)
	}
	if pub.WID.IsZero() {
		pub.WID = schema.StringID(wid)
	}
	return pub, nil
}

// UsePublicWorkflow copies a published workflow into the user's own list.
// The copy appears on the next sidebar sync.
func (c *Client) UsePublicWorkflow(ctx context.Context, wid string) error {
	if wid == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow id is required")
	}
	_, err := c.do(ctx, http.MethodPost, "/use_public_workflow", usePublicRequest{WID: wid})
	return err
}

// ProviderKeys names the api keys the backend accepts.
var ProviderKeys = []string{"openai", "gemini", "composio"}

// APIKeys are the provider credentials the backend runs workflows with.
// Empty values are left unchanged on the server.
type APIKeys map[string]string

// SaveAPIKeys stores provider keys for the current user. It is the recovery
// path for CONFIG_REQUIRED errors.
func (c *Client) SaveAPIKeys(ctx context.Context, keys APIKeys) error {
	body := make(map[string]string, len(keys))
	for k, v := range keys {
		if k == "" {
			return schema.NewError(schema.ErrCodeValidation, "api key name is required")
		}
		if v != "" {
			body[k] = v
		}
	}
	if len(body) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "at least one api key is required")
	}
	_, err := c.do(ctx, http.MethodPost, "/save_api_keys", body)
	return err
}
