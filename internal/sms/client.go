// Package sms sends outbound text messages through the telephony provider's
// REST API.
package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parley-labs/parley-bridge/internal/config"
)

// APIError is an error document returned by the provider.
type APIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telephony error %d: %s", e.Code, e.Message)
}

// Message is the provider's message resource.
type Message struct {
	SID    string `json:"sid"`
	To     string `json:"to"`
	From   string `json:"from"`
	Body   string `json:"body"`
	Status string `json:"status"`
}

// Client is a minimal messages-API client.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg config.TelephonyConfig) (*Client, error) {
	if cfg.AccountSID == "" {
		return nil, fmt.Errorf("telephony account_sid is required")
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("telephony auth_token is required")
	}
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = "https://api.twilio.com/2010-04-01"
	}
	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Send creates an outbound message and returns its SID.
func (c *Client) Send(ctx context.Context, to, from, body string) (string, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", strings.TrimRight(c.baseURL, "/"), c.accountSID)

	data := url.Values{}
	data.Set("To", to)
	data.Set("From", from)
	data.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		var apiErr APIError
		if err := json.Unmarshal(payload, &apiErr); err != nil {
			return "", fmt.Errorf("telephony error: %s", string(payload))
		}
		return "", &apiErr
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", fmt.Errorf("failed to parse message response: %w", err)
	}
	return msg.SID, nil
}
