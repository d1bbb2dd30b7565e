// Package payment integrates the hosted payment provider.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"siphon/internal/core/apperror"
	"siphon/internal/domain/checkout"
	"siphon/pkg/logger"
)

const dependencyName = "payment provider"

// Client authorizes payments over the provider's HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Config holds payment client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewClient creates a payment client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type authorizeRequest struct {
	// Reference carries the order id; the provider dedupes on it, so a
	// retried authorization returns the original handle.
	Reference   string `json:"reference"`
	OrderNumber string `json:"orderNumber"`
	Contact     string `json:"contact"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
}

type authorizeResponse struct {
	Handle string `json:"handle"`
	Status string `json:"status"`
}

// Authorize reserves the order amount with the provider.
func (c *Client) Authorize(ctx context.Context, req checkout.AuthorizationRequest) (string, error) {
	body, err := json.Marshal(authorizeRequest{
		Reference:   req.OrderID.String(),
		OrderNumber: req.OrderNumber,
		Contact:     req.Contact,
		Amount:      req.Amount.StringFixed(2),
		Currency:    "EUR",
	})
	if err != nil {
		return "", fmt.Errorf("marshal authorize request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/authorizations", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build authorize request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.OrderID.String())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", apperror.NewUpstreamUnavailable(dependencyName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", apperror.NewUpstreamUnavailable(dependencyName, err)
	}

	switch {
	case resp.StatusCode >= 500:
		logger.Warn(ctx, "payment provider error",
			"status", resp.StatusCode,
			"order_id", req.OrderID,
		)
		return "", apperror.NewUpstreamUnavailable(dependencyName,
			fmt.Errorf("provider returned %d", resp.StatusCode))
	case resp.StatusCode == http.StatusPaymentRequired ||
		resp.StatusCode == http.StatusUnprocessableEntity:
		return "", apperror.NewValidation("payment was declined").
			WithDetail("orderId", req.OrderID.String())
	case resp.StatusCode >= 400:
		return "", apperror.NewInternal(
			fmt.Errorf("provider rejected authorization: %d %s", resp.StatusCode, respBody))
	}

	var parsed authorizeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", apperror.NewUpstreamUnavailable(dependencyName,
			fmt.Errorf("malformed provider response: %w", err))
	}
	if parsed.Handle == "" {
		return "", apperror.NewUpstreamUnavailable(dependencyName,
			errors.New("provider response missing handle"))
	}

	return parsed.Handle, nil
}

var _ checkout.Authorizer = (*Client)(nil)

// NewClientFromEnv builds a client from PAYMENT_* environment variables.
func NewClientFromEnv() *Client {
	timeout, _ := time.ParseDuration(os.Getenv("PAYMENT_TIMEOUT"))
	return NewClient(Config{
		BaseURL: os.Getenv("PAYMENT_BASE_URL"),
		APIKey:  os.Getenv("PAYMENT_API_KEY"),
		Timeout: timeout,
	})
}
