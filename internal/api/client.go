// Package api contains the thin per-entity wrappers around the
// work-management platform's GraphQL API. Reads go through the cache under
// an entity-specific namespace and TTL, mutations invalidate the affected
// namespace and are deferred to the offline queue when connectivity is
// down. All outbound calls share one rate limiter so the platform's request
// budget is respected regardless of which wrapper issues the call.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/tiercache/tiercache/pkg/errors"
)

// ClientConfig configures the platform client.
type ClientConfig struct {
	Endpoint          string
	Token             string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// Client is a minimal GraphQL transport with client-side rate limiting.
type Client struct {
	endpoint string
	token    string
	httpc    *http.Client
	limiter  *rate.Limiter
	log      *slog.Logger
}

// NewClient creates a platform client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		httpc:    &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		log:      logger.With("component", "api"),
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

type graphqlError struct {
	Message string `json:"message"`
}

// Query executes a GraphQL operation, blocking until the rate limiter
// grants a slot, and decodes the response data into out.
func (c *Client) Query(ctx context.Context, query string, variables map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, errors.CodeRateLimited, errors.CategoryNetwork,
			"rate limiter wait aborted").WithComponent("api")
	}

	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return errors.Wrap(err, errors.CodeEncoding, errors.CategoryOperation,
			"failed to encode request").WithComponent("api")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.CodeNetworkError, errors.CategoryNetwork,
			"failed to build request").WithComponent("api")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.CodeNetworkError, errors.CategoryNetwork,
			"request failed").WithComponent("api").WithRetryable(true)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return errors.New(errors.CodeRateLimited, errors.CategoryNetwork,
			"platform rejected request: rate limited").WithComponent("api").WithRetryable(true)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Newf(errors.CodeAPIError, errors.CategoryNetwork,
			"unexpected status %d", resp.StatusCode).WithComponent("api")
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, errors.CodeNetworkError, errors.CategoryNetwork,
			"failed to read response").WithComponent("api").WithRetryable(true)
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(raw, &gqlResp); err != nil {
		return errors.Wrap(err, errors.CodeEncoding, errors.CategoryOperation,
			"failed to decode response").WithComponent("api")
	}
	if len(gqlResp.Errors) > 0 {
		return errors.New(errors.CodeAPIError, errors.CategoryNetwork,
			gqlResp.Errors[0].Message).WithComponent("api")
	}

	if out != nil && gqlResp.Data != nil {
		if err := json.Unmarshal(gqlResp.Data, out); err != nil {
			return errors.Wrap(err, errors.CodeEncoding, errors.CategoryOperation,
				"failed to decode response data").WithComponent("api")
		}
	}
	return nil
}
