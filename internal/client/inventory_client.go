package client

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
	"time"

	"github.com/sony/gobreaker"

	"github.com/melibackend/offline-inventory/internal/models"
	"github.com/melibackend/offline-inventory/internal/utils"
)

// Options tunes the remote client
type Options struct {
	Timeout time.Duration
	// Consecutive unavailable responses before the breaker opens
	BreakerFailures uint32
	// How long the breaker stays open before letting a probe through
	BreakerOpenFor time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// InventoryClient talks to the remote record store
type InventoryClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewInventoryClient creates a new remote client
func NewInventoryClient(baseURL, apiKey string, opts Options) *InventoryClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerOpenFor <= 0 {
		opts.BreakerOpenFor = 30 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	logger := utils.OrDefault(opts.Logger)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-inventory",
		MaxRequests: 1,
		Timeout:     opts.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		// a rejection or a missing item proves the backend is up
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrRemoteUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &InventoryClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		breaker:    breaker,
		logger:     logger,
	}
}

// BreakerState exposes the circuit breaker state for status reporting
func (c *InventoryClient) BreakerState() string {
	return c.breaker.State().String()
}

// HealthCheck checks that the remote backend answers its health endpoint.
// It bypasses the circuit breaker so probes keep working while it is open.
func (c *InventoryClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check failed with status %d", ErrRemoteUnavailable, resp.StatusCode)
	}
	return nil
}

// CreateItem submits a create mutation
func (c *InventoryClient) CreateItem(ctx context.Context, req models.RemoteWriteRequest) (*models.RemoteWriteResponse, error) {
	var out models.RemoteWriteResponse
	if err := c.do(ctx, http.MethodPost, "/v1/items", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateItem submits an update mutation carrying the full item snapshot
func (c *InventoryClient) UpdateItem(ctx context.Context, req models.RemoteWriteRequest) (*models.RemoteWriteResponse, error) {
	var out models.RemoteWriteResponse
	path := "/v1/items/" + url.PathEscape(req.Item.ID)
	if err := c.do(ctx, http.MethodPut, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetItem retrieves the authoritative copy of an item
func (c *InventoryClient) GetItem(ctx context.Context, id string) (*models.InventoryItem, error) {
	var item models.InventoryItem
	if err := c.do(ctx, http.MethodGet, "/v1/items/"+url.PathEscape(id), nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListItems retrieves every item held by the backend
func (c *InventoryClient) ListItems(ctx context.Context) ([]models.InventoryItem, error) {
	var list models.ListResponse
	if err := c.do(ctx, http.MethodGet, "/v1/items", nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// do runs one JSON round trip through the circuit breaker
func (c *InventoryClient) do(ctx context.Context, method, path string, body, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, body, out)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit breaker: %w", ErrRemoteUnavailable, err)
	}
	return err
}

func (c *InventoryClient) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrRemoteUnavailable, ctx.Err())
		}
		return fmt.Errorf("%w: failed to make request: %w", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", ErrRemoteUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%w: failed to decode response: %w", ErrRemoteUnavailable, err)
		}
		return nil
	case retryableStatus(resp.StatusCode):
		return fmt.Errorf("%w: request failed with status %d: %s", ErrRemoteUnavailable, resp.StatusCode, string(respBody))
	case resp.StatusCode == http.StatusNotFound && method == http.MethodGet:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	default:
		rejected := &RejectedError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(respBody, &rejected.Response); err != nil {
			rejected.Response.Message = string(respBody)
		}
		return rejected
	}
}
