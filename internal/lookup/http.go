package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/yourorg/settlement-reconciler/internal/lookup/circuitbreaker"
	"github.com/yourorg/settlement-reconciler/internal/monitor"
	"github.com/yourorg/settlement-reconciler/internal/settlement"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPClient implements Client against the invoice service's HTTP API.
// It performs no retrying of its own; the poller owns the retry budget.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	contract   *monitor.ContractMonitor
	breaker    *circuitbreaker.CircuitBreaker
}

// NewHTTPClient creates an HTTPClient. The contract monitor and circuit
// breaker are optional; pass nil to skip response validation or
// circuit breaking.
func NewHTTPClient(baseURL string, client *http.Client, cm *monitor.ContractMonitor, cb *circuitbreaker.CircuitBreaker) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPClient{
		httpClient: client,
		baseURL:    baseURL,
		contract:   cm,
		breaker:    cb,
	}
}

// FindByOrder fetches settlement records for an order.
//
// The collaborator may answer with a single object, an array, or null;
// all three are normalized to a slice. 404 and null both mean the
// settlement is not yet visible and return an empty slice. Network
// errors and non-2xx statuses surface as *TransportError.
func (c *HTTPClient) FindByOrder(ctx context.Context, orderID string) ([]settlement.Record, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return nil, &TransportError{Err: fmt.Errorf("circuit open for settlement lookup")}
	}

	reqURL := fmt.Sprintf("%s/invoices?orderId=%s", c.baseURL, url.QueryEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("lookup: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure()
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.recordSuccess()
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.recordFailure()
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("settlement lookup for order %s failed", orderID),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response body: %w", err)}
	}
	c.recordSuccess()

	if c.contract != nil {
		valid, validationErrs, err := c.contract.Validate(body)
		if err != nil {
			return nil, fmt.Errorf("lookup: %w", err)
		}
		if !valid {
			slog.Warn("settlement_contract_violation",
				"order_id", orderID,
				"details", monitor.FormatErrors(validationErrs),
			)
			return nil, fmt.Errorf("lookup: response violates settlement contract: %s", monitor.FormatErrors(validationErrs))
		}
	}

	return normalize(body)
}

// normalize decodes a single record, an array, or null into a slice.
func normalize(body []byte) ([]settlement.Record, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var records []settlement.Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("lookup: decoding record array: %w", err)
		}
		return records, nil
	}

	var record settlement.Record
	if err := json.Unmarshal(trimmed, &record); err != nil {
		return nil, fmt.Errorf("lookup: decoding record: %w", err)
	}
	return []settlement.Record{record}, nil
}

func (c *HTTPClient) recordSuccess() {
	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
}

func (c *HTTPClient) recordFailure() {
	if c.breaker != nil {
		c.breaker.RecordFailure()
	}
}
