package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mbd888/guardian/internal/guardian"
	"github.com/mbd888/guardian/internal/risk"
)

// Config holds the configuration for connecting to the guardian API.
type Config struct {
	APIURL   string // Base URL, e.g. "http://localhost:8000"
	APIKey   string // optional; sent as a bearer token when set
	EntityID string // default entity for transaction windows
}

// GuardianClient is a pure HTTP client for the guardian API.
type GuardianClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewGuardianClient creates a new client for the guardian API.
func NewGuardianClient(cfg Config) *GuardianClient {
	return &GuardianClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *GuardianClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

func (c *GuardianClient) entity(id string) string {
	if id != "" {
		return id
	}
	return c.cfg.EntityID
}

// AnalyzeMessage scores a message, optionally running every analyzer.
func (c *GuardianClient) AnalyzeMessage(ctx context.Context, req guardian.MessageRequest, deep bool) (json.RawMessage, error) {
	req.EntityID = c.entity(req.EntityID)
	var q url.Values
	if deep {
		q = url.Values{"mode": {"deep"}}
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/messages/analyze", q, req)
}

// AnalyzeTransaction scores a transaction against the entity's window.
func (c *GuardianClient) AnalyzeTransaction(ctx context.Context, req guardian.TransactionRequest) (json.RawMessage, error) {
	req.EntityID = c.entity(req.EntityID)
	return c.doRequest(ctx, http.MethodPost, "/v1/transactions/analyze", nil, req)
}

// Ask runs a free-form query through the orchestrator.
func (c *GuardianClient) Ask(ctx context.Context, query string, qctx map[string]any) (json.RawMessage, error) {
	body := guardian.QueryRequest{EntityID: c.cfg.EntityID, Query: query, Context: qctx}
	return c.doRequest(ctx, http.MethodPost, "/v1/analyze", nil, body)
}

// ListBanks returns the trusted bank registry.
func (c *GuardianClient) ListBanks(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/registry", nil, nil)
}

// History lists recorded assessments for an entity. cursor continues a
// previous page and may be empty.
func (c *GuardianClient) History(ctx context.Context, entityID string, limit int, cursor string) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	entityID = c.entity(entityID)
	if entityID == "" {
		entityID = risk.DefaultEntityID
	}
	path := "/v1/entities/" + url.PathEscape(entityID) + "/assessments"
	return c.doRequest(ctx, http.MethodGet, path, q, nil)
}
