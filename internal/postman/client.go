// Package postman is a thin client for the vendor REST surface the sync
// pipeline depends on: spec resources, collections, and asynchronous
// generation/synchronization tasks.
package postman

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/oasbridge/postman-sync/pkg/metrics"
)

const (
	defaultUserAgent = "postman-sync/1.0"
	maxBodyBytes     = 10 << 20
)

// Client calls the remote API. All methods block until the response arrives
// or ctx is done; the configured limiter throttles the overall request rate.
type Client struct {
	baseURL     string
	apiKey      string
	workspaceID string
	userAgent   string

	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.SugaredLogger
	metrics    *metrics.Registry
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithLogger attaches a structured logger for per-request debug lines.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics attaches a registry that counts remote calls.
func WithMetrics(reg *metrics.Registry) Option {
	return func(c *Client) {
		c.metrics = reg
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient constructs a client for the given API base URL, key and
// workspace.
func NewClient(baseURL, apiKey, workspaceID string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		workspaceID: workspaceID,
		userAgent:   defaultUserAgent,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(5), 1),
		logger:      zap.NewNop().Sugar(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ListSpecs lists the spec resources in the configured workspace.
func (c *Client) ListSpecs(ctx context.Context) ([]Spec, error) {
	target := c.baseURL + "/specs?workspaceId=" + url.QueryEscape(c.workspaceID)

	body, err := c.do(ctx, http.MethodGet, target, "specs.list", nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Specs []Spec `json:"specs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode spec list: %w", err)
	}
	return payload.Specs, nil
}

// CreateSpec creates a spec resource with a single named content file.
func (c *Client) CreateSpec(ctx context.Context, name, filePath string, content []byte) (Spec, error) {
	target := c.baseURL + "/specs?workspaceId=" + url.QueryEscape(c.workspaceID)

	request := map[string]any{
		"name": name,
		"type": "OPENAPI:3.0",
		"files": []map[string]string{
			{"path": filePath, "content": string(content)},
		},
	}

	body, err := c.do(ctx, http.MethodPost, target, "specs.create", request, http.StatusOK, http.StatusCreated)
	if err != nil {
		return Spec{}, err
	}

	var spec Spec
	if err := json.Unmarshal(body, &spec); err != nil {
		return Spec{}, fmt.Errorf("decode created spec: %w", err)
	}
	if spec.ID == "" {
		return Spec{}, fmt.Errorf("create spec response carried no id: %s", body)
	}
	return spec, nil
}

// UpdateSpecFile replaces the content of one file within a spec. The request
// body carries exactly the content field, so each remote mutation stays
// atomic.
func (c *Client) UpdateSpecFile(ctx context.Context, specID, filePath string, content []byte) error {
	target := c.baseURL + "/specs/" + url.PathEscape(specID) + "/files/" + url.PathEscape(filePath)

	request := map[string]string{"content": string(content)}

	_, err := c.do(ctx, http.MethodPatch, target, "specs.updateFile", request, http.StatusOK)
	return err
}

// ListCollections lists collections, workspace-scoped when scoped is true
// and account-wide otherwise.
func (c *Client) ListCollections(ctx context.Context, scoped bool) ([]Collection, error) {
	target := c.baseURL + "/collections"
	if scoped {
		target += "?workspace=" + url.QueryEscape(c.workspaceID)
	}

	body, err := c.do(ctx, http.MethodGet, target, "collections.list", nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Collections []Collection `json:"collections"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode collection list: %w", err)
	}
	return payload.Collections, nil
}

// GenerateCollection asks the vendor to generate a collection from a spec.
// The call is asynchronous: a 202 with a task descriptor is returned.
func (c *Client) GenerateCollection(ctx context.Context, specID, name string) (Task, error) {
	target := c.baseURL + "/specs/" + url.PathEscape(specID) + "/generations"

	request := map[string]string{"name": name}

	body, err := c.do(ctx, http.MethodPost, target, "collections.generate", request, http.StatusAccepted)
	if err != nil {
		return Task{}, err
	}
	return decodeTask(body)
}

// SyncCollection asks the vendor to synchronize an existing collection with
// the spec's current content. Asynchronous: 202 plus a task descriptor.
func (c *Client) SyncCollection(ctx context.Context, specID, collectionUID string) (Task, error) {
	target := c.baseURL + "/specs/" + url.PathEscape(specID) +
		"/synchronizations?collectionUid=" + url.QueryEscape(collectionUID)

	body, err := c.do(ctx, http.MethodPut, target, "collections.sync", nil, http.StatusAccepted)
	if err != nil {
		return Task{}, err
	}
	return decodeTask(body)
}

// TaskStatus fetches the current state of an asynchronous task. taskURL may
// be absolute or relative to the API base.
func (c *Client) TaskStatus(ctx context.Context, taskURL string) (Task, error) {
	target := taskURL
	if strings.HasPrefix(taskURL, "/") {
		target = c.baseURL + taskURL
	}

	body, err := c.do(ctx, http.MethodGet, target, "tasks.status", nil, http.StatusOK)
	if err != nil {
		return Task{}, err
	}

	task, err := decodeTask(body)
	if err != nil {
		return Task{}, err
	}
	if task.URL == "" {
		task.URL = taskURL
	}
	return task, nil
}

func decodeTask(body []byte) (Task, error) {
	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		return Task{}, fmt.Errorf("decode task descriptor: %w", err)
	}
	return task, nil
}

func (c *Client) do(ctx context.Context, method, target, endpoint string, payload any, want ...int) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	c.metrics.ObserveAPIRequest(endpoint, resp.StatusCode)
	c.logger.Debugw("remote call",
		"method", method,
		"url", target,
		"status", resp.StatusCode,
	)

	for _, code := range want {
		if resp.StatusCode == code {
			return body, nil
		}
	}

	return nil, &APIError{
		Method:     method,
		URL:        target,
		StatusCode: resp.StatusCode,
		Body:       body,
	}
}
