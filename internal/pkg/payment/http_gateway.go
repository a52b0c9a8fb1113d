package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MartinHagen/SubEngine/internal/pkg/env"
)

const defaultGatewayTimeout = 15 * time.Second

// HTTPGateway talks to the payment processor's REST API. The HTTP client
// carries a hard timeout so a hanging gateway can never stall a billing run
// on one subscription.
type HTTPGateway struct {
	BaseURL string
	APIKey  string

	HTTPClient *http.Client
}

// NewHTTPGatewayFromEnv builds the gateway client from PAYMENT_* variables.
func NewHTTPGatewayFromEnv() *HTTPGateway {
	timeout := defaultGatewayTimeout
	if raw := strings.TrimSpace(env.GetEnv("PAYMENT_TIMEOUT_SECONDS", "")); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}

	return &HTTPGateway{
		BaseURL: strings.TrimRight(env.GetEnv("PAYMENT_API_BASE_URL", ""), "/"),
		APIKey:  strings.TrimSpace(env.GetEnv("PAYMENT_API_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Charge submits a charge attempt. Declines come back as a failed
// ChargeResult; transport failures and unexpected statuses are errors.
func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if strings.TrimSpace(req.CustomerID) == "" {
		return nil, errors.New("charge request is missing the customer id")
	}

	body, status, err := g.post(ctx, "/v1/charges", req, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	switch {
	case status >= 200 && status < 300, status == http.StatusPaymentRequired:
		var result ChargeResult
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("decode charge response: %w", err)
		}
		if result.Status == "" {
			return nil, errors.New("charge response is missing a status")
		}
		return &result, nil
	default:
		return nil, fmt.Errorf("gateway charge returned HTTP %d: %s", status, truncate(body, 200))
	}
}

// Refund submits a refund against a prior transaction.
func (g *HTTPGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if strings.TrimSpace(req.TransactionID) == "" {
		return nil, errors.New("refund request is missing the transaction id")
	}

	body, status, err := g.post(ctx, "/v1/refunds", req, "")
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("gateway refund returned HTTP %d: %s", status, truncate(body, 200))
	}

	var result RefundResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode refund response: %w", err)
	}
	return &result, nil
}

func (g *HTTPGateway) post(ctx context.Context, path string, payload interface{}, idempotencyKey string) ([]byte, int, error) {
	if strings.TrimSpace(g.BaseURL) == "" {
		return nil, 0, errors.New("PAYMENT_API_BASE_URL is not configured")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encode gateway payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.httpClient().Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read gateway response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (g *HTTPGateway) httpClient() *http.Client {
	if g.HTTPClient != nil {
		return g.HTTPClient
	}
	return &http.Client{Timeout: defaultGatewayTimeout}
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
