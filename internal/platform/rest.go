package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/slyngg/adpilot/internal/httpkit"
)

// RESTClient talks to a platform gateway over its REST API.
type RESTClient struct {
	name       string
	domains    []string
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewAdsClient creates a client for the advertising platform gateway.
func NewAdsClient(baseURL, token string, logger *slog.Logger) *RESTClient {
	return newRESTClient("ads", []string{"campaign", "ad set", "ad group"}, baseURL, token, logger)
}

// NewCheckoutClient creates a client for the checkout platform gateway.
func NewCheckoutClient(baseURL, token string, logger *slog.Logger) *RESTClient {
	return newRESTClient("checkout", []string{"subscription"}, baseURL, token, logger)
}

func newRESTClient(name string, domains []string, baseURL, token string, logger *slog.Logger) *RESTClient {
	return &RESTClient{
		name:    name,
		domains: domains,
		baseURL: baseURL,
		token:   token,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

func (c *RESTClient) Name() string      { return c.name }
func (c *RESTClient) Domains() []string { return c.domains }

// Ping checks if the gateway is reachable.
func (c *RESTClient) Ping(ctx context.Context) error {
	return c.get(ctx, "/v1/status", nil)
}

// ListEntities returns the owned entities in a domain, spend included.
func (c *RESTClient) ListEntities(ctx context.Context, domain string) ([]Entity, error) {
	var out struct {
		Entities []Entity `json:"entities"`
	}
	path := "/v1/entities?domain=" + url.QueryEscape(domain)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("list %s entities: %w", domain, err)
	}
	return out.Entities, nil
}

// Pause pauses delivery for an entity.
func (c *RESTClient) Pause(ctx context.Context, id string) error {
	return c.post(ctx, "/v1/entities/"+url.PathEscape(id)+"/pause", nil)
}

// Enable resumes delivery for an entity.
func (c *RESTClient) Enable(ctx context.Context, id string) error {
	return c.post(ctx, "/v1/entities/"+url.PathEscape(id)+"/enable", nil)
}

// AdjustBudget sets an absolute daily budget or applies a percentage delta.
func (c *RESTClient) AdjustBudget(ctx context.Context, id string, change BudgetChange) error {
	return c.post(ctx, "/v1/entities/"+url.PathEscape(id)+"/budget", change)
}

// CancelSubscription cancels a subscription.
func (c *RESTClient) CancelSubscription(ctx context.Context, id string) error {
	return c.post(ctx, "/v1/subscriptions/"+url.PathEscape(id)+"/cancel", nil)
}

func (c *RESTClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *RESTClient) post(ctx context.Context, path string, body any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *RESTClient) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s gateway: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(resp.Body, 2048)
		return fmt.Errorf("%s gateway returned %d: %s", c.name, resp.StatusCode, errBody)
	}

	if out == nil {
		httpkit.DrainAndClose(resp.Body, 4096)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
