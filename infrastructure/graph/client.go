package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"

	"drivesync/domain/contracts"
	"drivesync/logging"
)

const maxResponseBytes = 32 << 20

// Client reads drive content and permissions from Graph REST endpoints.
// It implements contracts.ItemTreeFetcher, contracts.PermissionFetcher and contracts.DriveLister.
type Client struct {
	config     Config
	tokens     TokenProvider
	httpClient *http.Client
	validator  *recordValidator
	logger     *logging.Logger
}

// NewClient creates a Graph client. A nil httpClient uses a client with the configured timeout.
func NewClient(cfg Config, tokens TokenProvider, httpClient *http.Client) (*Client, error) {
	cfg = cfg.withDefaults()
	if tokens == nil {
		return nil, fmt.Errorf("graph client: token provider is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	validator, err := newRecordValidator()
	if err != nil {
		return nil, fmt.Errorf("graph client: %w", err)
	}
	return &Client{
		config:     cfg,
		tokens:     tokens,
		httpClient: httpClient,
		validator:  validator,
		logger:     logging.Default().WithComponent("graph_client"),
	}, nil
}

// WithLogger replaces the component logger.
func (c *Client) WithLogger(logger *logging.Logger) *Client {
	c.logger = logger.WithComponent("graph_client")
	return c
}

// requestInfo names an API operation for logging.
type requestInfo struct {
	operation string
	tenantID  string
	traceID   string
}

func newRequestInfo(operation, tenantID string) requestInfo {
	return requestInfo{operation: operation, tenantID: tenantID, traceID: uuid.NewString()}
}

// executeWithRetry runs fn until it succeeds, fails permanently, or the retry budget is spent.
// Throttling and 5xx responses honour Retry-After and otherwise back off exponentially with jitter.
func executeWithRetry[T any](ctx context.Context, c *Client, info requestInfo, fn func() (T, error)) (T, error) {
	var (
		result  T
		lastErr error
	)
	logger := c.logger.With("operation", info.operation, "tenant_id", info.tenantID, "trace_id", info.traceID)
	start := time.Now()

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Debug("Retrying Graph operation", "attempt", attempt, "max_retries", c.config.MaxRetries)
		}

		result, lastErr = fn()
		if lastErr == nil {
			logger.Debug("Graph operation completed",
				"duration_ms", time.Since(start).Milliseconds(),
				"attempts", attempt+1)
			return result, nil
		}

		if !isRetryable(lastErr) {
			if !errors.Is(lastErr, contracts.ErrNotFound) {
				logger.Warn("Graph operation failed (non-retryable)",
					"duration_ms", time.Since(start).Milliseconds(),
					"attempts", attempt+1,
					"error", lastErr.Error())
			}
			return result, lastErr
		}

		if attempt < c.config.MaxRetries {
			delay := c.backoff(attempt, lastErr)
			logger.Warn("Graph operation failed (retryable)",
				"attempt", attempt+1,
				"delay_ms", delay.Milliseconds(),
				"error", lastErr.Error())
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	logger.Error("Graph operation failed after max retries",
		"duration_ms", time.Since(start).Milliseconds(),
		"attempts", c.config.MaxRetries+1,
		"error", lastErr.Error())
	if errors.Is(lastErr, contracts.ErrTransient) {
		return result, lastErr
	}
	return result, fmt.Errorf("%w: %v", contracts.ErrTransient, lastErr)
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return isRetryableStatus(apiErr.StatusCode)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, contracts.ErrTransient)
}

// backoff returns Retry-After when the server sent one, otherwise base * 2^attempt with ±25% jitter.
func (c *Client) backoff(attempt int, err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		if apiErr.RetryAfter > c.config.MaxRetryDelay {
			return c.config.MaxRetryDelay
		}
		return apiErr.RetryAfter
	}

	delay := c.config.RetryDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > c.config.MaxRetryDelay {
		delay = c.config.MaxRetryDelay
	}
	jitterRange := delay / 4
	if jitterRange > 0 {
		delay += time.Duration(rand.Int63n(int64(jitterRange*2))) - jitterRange
	}
	if delay < 0 {
		delay = c.config.RetryDelay
	}
	return delay
}

// getJSON performs one authenticated GET and decodes a 2xx body into out.
func (c *Client) getJSON(ctx context.Context, tenantID, url string, out any) error {
	tok, err := c.tokens.Token(ctx, tenantID)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", contracts.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", contracts.ErrTransient, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", contracts.ErrMalformedRecord, err)
	}
	return nil
}

// getWithRetry wraps getJSON in the retry loop.
func getWithRetry[T any](ctx context.Context, c *Client, info requestInfo, url string) (*T, error) {
	return executeWithRetry(ctx, c, info, func() (*T, error) {
		var out T
		if err := c.getJSON(ctx, info.tenantID, url, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// collectionResponse is the OData envelope of every list endpoint.
type collectionResponse struct {
	Value     []json.RawMessage `json:"value"`
	NextLink  string            `json:"@odata.nextLink"`
	DeltaLink string            `json:"@odata.deltaLink"`
}
