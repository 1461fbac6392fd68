// Package telegram delivers the rendered digest to the operator's chat via
// the Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/aischolar/scholar-daily/internal/retry"
)

// ErrDeliveryFailed is returned when a part cannot be sent within the retry
// budget. Parts delivered before the failure stay delivered; the Receipt
// says how many.
var ErrDeliveryFailed = errors.New("delivery failed")

const (
	defaultAPIURL = "https://api.telegram.org"

	// maxMessageLength is the Bot API limit for one sendMessage call.
	maxMessageLength = 4096

	// blockSeparator matches the separator the digest renderer puts between
	// items; oversized digests are split here, never mid-item.
	blockSeparator = "\n---\n"
)

// Receipt reports how much of a digest reached the chat.
type Receipt struct {
	Parts     int `json:"parts"`
	Delivered int `json:"delivered"`
}

// Client sends messages through the Bot API.
type Client struct {
	botToken   string
	chatID     string
	httpClient *http.Client
	baseURL    string
	policy     retry.Policy
}

// NewClient creates a delivery client for one bot and destination chat.
func NewClient(botToken, chatID string, retryBudget int) *Client {
	return &Client{
		botToken: botToken,
		chatID:   chatID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: defaultAPIURL,
		policy:  retry.Default(retryBudget),
	}
}

// Send delivers text to the configured chat, splitting messages over the
// transport limit at item boundaries and sending the parts in reading order.
// A failed part stops the sequence; the error wraps ErrDeliveryFailed and
// the Receipt reports the parts already delivered.
func (c *Client) Send(ctx context.Context, text string) (Receipt, error) {
	parts := splitMessage(text)
	receipt := Receipt{Parts: len(parts)}

	for i, part := range parts {
		if len(parts) > 1 {
			log.Printf("Sending digest part %d/%d", i+1, len(parts))
		}

		err := c.policy.Do(ctx, func() error {
			return c.sendMessage(ctx, part)
		})
		if err != nil {
			return receipt, fmt.Errorf("%w: part %d/%d: %v", ErrDeliveryFailed, i+1, len(parts), err)
		}
		receipt.Delivered++
	}

	return receipt, nil
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

func (c *Client) sendMessage(ctx context.Context, text string) error {
	reqBody := sendMessageRequest{
		ChatID:                c.chatID,
		Text:                  text,
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return &retry.Permanent{Err: fmt.Errorf("marshaling message: %w", err)}
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.botToken)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return &retry.Permanent{Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	var apiResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode, apiResp.Description)
	}
	if resp.StatusCode != http.StatusOK || !apiResp.OK {
		return &retry.Permanent{Err: fmt.Errorf("telegram API error (status %d): %s", resp.StatusCode, apiResp.Description)}
	}

	return nil
}

// splitMessage splits text into sendable chunks at block separators. A
// single block over the limit is sent alone and left to the API to reject;
// blocks are never cut mid-item.
func splitMessage(text string) []string {
	if len(text) <= maxMessageLength {
		return []string{text}
	}

	sections := strings.Split(text, blockSeparator)

	var chunks []string
	current := ""

	for _, section := range sections {
		switch {
		case current == "":
			current = section
		case len(current)+len(blockSeparator)+len(section) <= maxMessageLength:
			current += blockSeparator + section
		default:
			chunks = append(chunks, current)
			current = section
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}

	return chunks
}
