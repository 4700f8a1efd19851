package endpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/c360/semsub/errors"
	"github.com/c360/semsub/pkg/retry"
	"github.com/c360/semsub/sparql"
)

// Media types of the SPARQL 1.1 Protocol
const (
	ContentTypeSPARQLQuery  = "application/sparql-query"
	ContentTypeSPARQLUpdate = "application/sparql-update"
	ContentTypeForm         = "application/x-www-form-urlencoded"
	ContentTypeResultsJSON  = "application/sparql-results+json"
)

// QueryRequest is one SPARQL query with its protocol dataset
type QueryRequest struct {
	SPARQL           string
	DefaultGraphURIs []string
	NamedGraphURIs   []string
}

// UpdateRequest is one SPARQL update with its protocol dataset
type UpdateRequest struct {
	SPARQL              string
	UsingGraphURIs      []string
	UsingNamedGraphURIs []string
}

// Client talks to one SPARQL 1.1 Protocol endpoint. It is safe for
// concurrent use; reads share the HTTP client's connection pool.
type Client struct {
	config     Config
	httpClient *http.Client
	retry      retry.Config
	logger     *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for the configured endpoint
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	policy := retry.DefaultConfig()
	policy.MaxAttempts = cfg.QueryRetries + 1
	if cfg.RetryDelay > 0 {
		policy.InitialDelay = cfg.RetryDelay
	}
	policy.Retryable = errors.IsTransient

	c := &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     slog.Default(),
		retry:      policy,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "endpoint", "endpoint", cfg.baseURL())
	c.retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("Query failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	return c, nil
}

// Config returns the client configuration
func (c *Client) Config() Config {
	return c.config
}

// withDefaults fills the protocol dataset from configuration when the request
// names none
func (c *Client) withDefaults(req QueryRequest) QueryRequest {
	if len(req.DefaultGraphURIs) == 0 && len(req.NamedGraphURIs) == 0 {
		req.DefaultGraphURIs = c.config.Graphs.DefaultGraphURIs
		req.NamedGraphURIs = c.config.Graphs.NamedGraphURIs
	}
	return req
}

// QueryScope returns the graphs req reads once configured defaults apply
func (c *Client) QueryScope(req QueryRequest) sparql.GraphScope {
	req = c.withDefaults(req)
	return sparql.QueryScope(req.SPARQL, req.DefaultGraphURIs, req.NamedGraphURIs)
}

// Query evaluates a SELECT query and returns its result set
func (c *Client) Query(ctx context.Context, req QueryRequest) (sparql.BindingsResults, error) {
	if strings.TrimSpace(req.SPARQL) == "" {
		return sparql.BindingsResults{}, errors.WrapInvalid(errors.ErrInvalidRequest, "Client", "Query", "check query text")
	}
	req = c.withDefaults(req)

	return retry.DoWithResult(ctx, c.retry, func() (sparql.BindingsResults, error) {
		httpReq, err := c.newQueryRequest(ctx, req)
		if err != nil {
			return sparql.BindingsResults{}, retry.NonRetryable(err)
		}
		body, err := c.do(httpReq, "Query")
		if err != nil {
			return sparql.BindingsResults{}, err
		}
		results, err := sparql.ParseResults(body)
		if err != nil {
			return sparql.BindingsResults{}, errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "Client", "Query", "decode results")
		}
		return results, nil
	})
}

// Update applies an update and returns the graphs it may have modified.
// Updates are sent once.
func (c *Client) Update(ctx context.Context, req UpdateRequest) (sparql.GraphScope, error) {
	if strings.TrimSpace(req.SPARQL) == "" {
		return sparql.GraphScope{}, errors.WrapInvalid(errors.ErrInvalidRequest, "Client", "Update", "check update text")
	}
	if len(req.UsingGraphURIs) == 0 && len(req.UsingNamedGraphURIs) == 0 {
		req.UsingGraphURIs = c.config.Graphs.UsingGraphURIs
		req.UsingNamedGraphURIs = c.config.Graphs.UsingNamedGraphURIs
	}

	httpReq, err := c.newUpdateRequest(ctx, req)
	if err != nil {
		return sparql.GraphScope{}, err
	}
	if _, err := c.do(httpReq, "Update"); err != nil {
		return sparql.GraphScope{}, err
	}
	return sparql.UpdateScope(req.SPARQL), nil
}

func (c *Client) newQueryRequest(ctx context.Context, req QueryRequest) (*http.Request, error) {
	params := url.Values{}
	addAll(params, "default-graph-uri", req.DefaultGraphURIs)
	addAll(params, "named-graph-uri", req.NamedGraphURIs)

	var (
		httpReq *http.Request
		err     error
	)
	switch c.config.Query.Method {
	case MethodGet:
		params.Set("query", req.SPARQL)
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, withQuery(c.config.QueryURL(), params), nil)
	case MethodPost:
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, withQuery(c.config.QueryURL(), params),
			strings.NewReader(req.SPARQL))
		if err == nil {
			httpReq.Header.Set("Content-Type", ContentTypeSPARQLQuery)
		}
	default:
		params.Set("query", req.SPARQL)
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, c.config.QueryURL(),
			strings.NewReader(params.Encode()))
		if err == nil {
			httpReq.Header.Set("Content-Type", ContentTypeForm)
		}
	}
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "Query", "build request")
	}
	httpReq.Header.Set("Accept", ContentTypeResultsJSON)
	c.authorize(httpReq)
	return httpReq, nil
}

func (c *Client) newUpdateRequest(ctx context.Context, req UpdateRequest) (*http.Request, error) {
	params := url.Values{}
	addAll(params, "using-graph-uri", req.UsingGraphURIs)
	addAll(params, "using-named-graph-uri", req.UsingNamedGraphURIs)

	var (
		httpReq *http.Request
		err     error
	)
	if c.config.Update.Method == MethodPost {
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, withQuery(c.config.UpdateURL(), params),
			strings.NewReader(req.SPARQL))
		if err == nil {
			httpReq.Header.Set("Content-Type", ContentTypeSPARQLUpdate)
		}
	} else {
		params.Set("update", req.SPARQL)
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, c.config.UpdateURL(),
			strings.NewReader(params.Encode()))
		if err == nil {
			httpReq.Header.Set("Content-Type", ContentTypeForm)
		}
	}
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "Update", "build request")
	}
	c.authorize(httpReq)
	return httpReq, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.config.Username != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}
}

// do sends the request and returns the body of a 2xx response. Transport
// failures and 5xx/429 responses are transient; other statuses are invalid.
func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrEndpointFailure, err),
			"Client", op, "send request")
	}
	defer resp.Body.Close()

	limit := c.config.MaxResponseBytes
	if limit <= 0 {
		limit = 64 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrEndpointFailure, err),
			"Client", op, "read response")
	}
	if int64(len(body)) > limit {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: response exceeds %d bytes", errors.ErrEndpointFailure, limit),
			"Client", op, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := fmt.Errorf("%w: status %d: %s", errors.ErrEndpointFailure, resp.StatusCode, snippet(body))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, errors.WrapTransient(statusErr, "Client", op, "check response status")
		}
		return nil, errors.WrapInvalid(statusErr, "Client", op, "check response status")
	}
	return body, nil
}

func addAll(params url.Values, key string, values []string) {
	for _, v := range values {
		params.Add(key, v)
	}
}

func withQuery(base string, params url.Values) string {
	if len(params) == 0 {
		return base
	}
	return base + "?" + params.Encode()
}

func snippet(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
