package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const postmarkURL = "https://api.postmarkapp.com/email"

// postmarkClient is the concrete Sender backed by the Postmark API.
type postmarkClient struct {
	serverToken string
	fromAddr    string // e.g. "noreply@dinnerhelp.dk"
	fromName    string // e.g. "DinnerHelp"
	endpoint    string
	httpClient  *http.Client
}

// NewPostmarkClient returns a Sender that delivers email via Postmark.
func NewPostmarkClient(serverToken, fromAddr, fromName string) Sender {
	return &postmarkClient{
		serverToken: serverToken,
		fromAddr:    fromAddr,
		fromName:    fromName,
		endpoint:    postmarkURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ─── POSTMARK API SHAPES ──────────────────────────────────────────────────────

type postmarkRequest struct {
	From          string            `json:"From"`
	To            string            `json:"To"`
	Subject       string            `json:"Subject"`
	HtmlBody      string            `json:"HtmlBody"`
	TextBody      string            `json:"TextBody,omitempty"`
	Tag           string            `json:"Tag,omitempty"`
	MessageStream string            `json:"MessageStream"`
	Metadata      map[string]string `json:"Metadata,omitempty"`
}

type postmarkResponse struct {
	To          string `json:"To"`
	SubmittedAt string `json:"SubmittedAt"`
	MessageID   string `json:"MessageID"`
	ErrorCode   int    `json:"ErrorCode"`
	Message     string `json:"Message"`
}

// ─── HTTP SEND ────────────────────────────────────────────────────────────────

func (c *postmarkClient) Send(ctx context.Context, msg Message) (string, error) {
	to := msg.To
	if msg.ToName != "" {
		to = fmt.Sprintf("%s <%s>", msg.ToName, msg.To)
	}

	bodyBytes, err := json.Marshal(postmarkRequest{
		From:          fmt.Sprintf("%s <%s>", c.fromName, c.fromAddr),
		To:            to,
		Subject:       msg.Subject,
		HtmlBody:      msg.HTML,
		TextBody:      msg.Text,
		Tag:           msg.Tag,
		MessageStream: "outbound",
		Metadata:      msg.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("email: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("email: build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("email: http request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("email: read response: %w", err)
	}

	var parsed postmarkResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", fmt.Errorf("email: unmarshal response (status %d): %w", resp.StatusCode, err)
	}

	if parsed.ErrorCode != 0 {
		return "", fmt.Errorf("email: Postmark error %d: %s", parsed.ErrorCode, parsed.Message)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("email: unexpected status %d: %.200s", resp.StatusCode, string(respBytes))
	}

	return parsed.MessageID, nil
}
