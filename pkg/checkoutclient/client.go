/**
 * @description
 * This package provides a client for the payment processor's checkout API.
 * The relay-service creates a hosted checkout session when a user initiates a
 * top-up and later retrieves the session to learn whether it was paid. The
 * processor API is form-encoded with bearer auth.
 *
 * @dependencies
 * - context, encoding/json, fmt, io, net/http, net/url, strconv, strings, time: Standard Go libraries.
 */
package checkoutclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Payment statuses reported by the processor for a checkout session.
const (
	PaymentStatusPaid   = "paid"
	PaymentStatusUnpaid = "unpaid"
)

// Client is a client for the payment processor checkout API.
type Client struct {
	BaseURL    string
	APIKey     string
	SuccessURL string
	CancelURL  string
	HTTPClient *http.Client
}

// NewClient creates a new checkout API client.
func NewClient(baseURL, apiKey, successURL, cancelURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Session is a checkout session as reported by the processor.
type Session struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentStatus string `json:"payment_status"`
	AmountTotal   int64  `json:"amount_total"`
}

// ErrorResponse represents an error payload from the processor API.
type ErrorResponse struct {
	ErrorInfo struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *ErrorResponse) Error() string {
	if e.ErrorInfo.Message != "" {
		return fmt.Sprintf("checkout api error: %s - %s", e.ErrorInfo.Type, e.ErrorInfo.Message)
	}
	return "unknown checkout api error"
}

func (c *Client) do(req *http.Request) (*Session, error) {
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("checkout request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkout response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.ErrorInfo.Message != "" {
			return nil, &apiErr
		}
		return nil, fmt.Errorf("checkout api returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var session Session
	if err := json.Unmarshal(respBody, &session); err != nil {
		return nil, fmt.Errorf("failed to decode checkout session: %w", err)
	}
	return &session, nil
}

// CreateSession creates a hosted checkout session for a credit top-up. The
// reference (the account's phone number) travels in the session metadata so
// payments can be traced back during support.
func (c *Client) CreateSession(ctx context.Context, amountCents int64, reference string) (*Session, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("line_items[0][price_data][currency]", "usd")
	form.Set("line_items[0][price_data][product_data][name]", "Message credit")
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(amountCents, 10))
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", c.SuccessURL)
	form.Set("cancel_url", c.CancelURL)
	form.Set("metadata[phone_number]", reference)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req)
}

// RetrieveSession fetches the current state of a checkout session.
func (c *Client) RetrieveSession(ctx context.Context, sessionID string) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/checkout/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create session retrieve request: %w", err)
	}
	return c.do(req)
}
