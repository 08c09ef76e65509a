/**
 * @description
 * This package provides a client for the SMS carrier API. It covers the two
 * carrier surfaces the relay-service consumes: outbound message delivery and
 * the phone verification flow (send a one-time code, then check it). The
 * carrier API is form-encoded with HTTP basic auth.
 *
 * @dependencies
 * - context, encoding/json, fmt, io, net/http, net/url, strings, time: Standard Go libraries.
 */
package smsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a client for the carrier messaging and verification APIs.
type Client struct {
	BaseURL          string
	AccountSID       string
	AuthToken        string
	FromNumber       string
	VerifyServiceSID string
	HTTPClient       *http.Client
}

// NewClient creates a new carrier API client.
func NewClient(baseURL, accountSID, authToken, fromNumber, verifyServiceSID string) *Client {
	return &Client{
		BaseURL:          baseURL,
		AccountSID:       accountSID,
		AuthToken:        authToken,
		FromNumber:       fromNumber,
		VerifyServiceSID: verifyServiceSID,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type verificationCheckResponse struct {
	Status string `json:"status"`
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create carrier request: %w", err)
	}
	req.SetBasicAuth(c.AccountSID, c.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("carrier request failed: %w", err)
	}
	return resp, nil
}

// SendMessage delivers a message to the destination number. Delivery is
// fire-and-forget from the relay's perspective; the caller only learns
// whether the carrier accepted the request.
func (c *Client) SendMessage(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.FromNumber)
	form.Set("Body", body)

	resp, err := c.postForm(ctx, fmt.Sprintf("/Accounts/%s/Messages.json", c.AccountSID), form)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("carrier message send returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// StartVerification asks the carrier to send a one-time code to the number.
func (c *Client) StartVerification(ctx context.Context, phone string) error {
	form := url.Values{}
	form.Set("To", phone)
	form.Set("Channel", "sms")

	resp, err := c.postForm(ctx, fmt.Sprintf("/v2/Services/%s/Verifications", c.VerifyServiceSID), form)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("verification start returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// CheckVerification submits the code the user entered and reports whether
// the carrier approved it.
func (c *Client) CheckVerification(ctx context.Context, phone, code string) (bool, error) {
	form := url.Values{}
	form.Set("To", phone)
	form.Set("Code", code)

	resp, err := c.postForm(ctx, fmt.Sprintf("/v2/Services/%s/VerificationCheck", c.VerifyServiceSID), form)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("verification check returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var check verificationCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&check); err != nil {
		return false, fmt.Errorf("failed to decode verification check response: %w", err)
	}
	return check.Status == "approved", nil
}
