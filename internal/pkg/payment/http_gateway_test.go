package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chargeReq() ChargeRequest {
	return ChargeRequest{
		CustomerID:      "cus-1",
		PaymentMethodID: "pm-1",
		Amount:          decimal.RequireFromString("9.99"),
		Currency:        "EUR",
		Description:     "recurring charge",
		IdempotencyKey:  "idem-1",
	}
}

func TestHTTPGatewayCharge_Success(t *testing.T) {
	var gotAuth, gotIdem, gotPath string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotIdem = r.Header.Get("Idempotency-Key")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ChargeResult{Status: ChargeSucceeded, TransactionID: "tx-42"})
	}))
	defer srv.Close()

	g := &HTTPGateway{BaseURL: srv.URL, APIKey: "secret", HTTPClient: srv.Client()}

	res, err := g.Charge(context.Background(), chargeReq())
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "tx-42", res.TransactionID)

	assert.Equal(t, "/v1/charges", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "idem-1", gotIdem)
	assert.Equal(t, "cus-1", gotBody["customer_id"])
	assert.NotContains(t, gotBody, "IdempotencyKey", "idempotency key travels in the header, not the body")
}

func TestHTTPGatewayCharge_DeclineIsResultNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(ChargeResult{Status: ChargeFailed, ErrorMessage: "insufficient funds"})
	}))
	defer srv.Close()

	g := &HTTPGateway{BaseURL: srv.URL, HTTPClient: srv.Client()}

	res, err := g.Charge(context.Background(), chargeReq())
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Equal(t, "insufficient funds", res.ErrorMessage)
}

func TestHTTPGatewayCharge_ServerErrorIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	g := &HTTPGateway{BaseURL: srv.URL, HTTPClient: srv.Client()}

	_, err := g.Charge(context.Background(), chargeReq())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPGatewayCharge_MissingCustomerID(t *testing.T) {
	g := &HTTPGateway{BaseURL: "http://gateway.invalid"}

	req := chargeReq()
	req.CustomerID = ""
	_, err := g.Charge(context.Background(), req)
	assert.Error(t, err)
}

func TestHTTPGatewayCharge_MissingBaseURL(t *testing.T) {
	g := &HTTPGateway{}

	_, err := g.Charge(context.Background(), chargeReq())
	assert.Error(t, err)
}

func TestHTTPGatewayCharge_MissingStatusRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"transaction_id":"tx-1"}`))
	}))
	defer srv.Close()

	g := &HTTPGateway{BaseURL: srv.URL, HTTPClient: srv.Client()}

	_, err := g.Charge(context.Background(), chargeReq())
	assert.Error(t, err)
}

func TestHTTPGatewayRefund_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/refunds", r.URL.Path)
		_ = json.NewEncoder(w).Encode(RefundResult{Status: "succeeded", RefundID: "rf-7"})
	}))
	defer srv.Close()

	g := &HTTPGateway{BaseURL: srv.URL, HTTPClient: srv.Client()}

	res, err := g.Refund(context.Background(), RefundRequest{
		TransactionID: "tx-42",
		Amount:        decimal.RequireFromString("5.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, "rf-7", res.RefundID)
}

func TestHTTPGatewayRefund_MissingTransactionID(t *testing.T) {
	g := &HTTPGateway{BaseURL: "http://gateway.invalid"}

	_, err := g.Refund(context.Background(), RefundRequest{})
	assert.Error(t, err)
}
