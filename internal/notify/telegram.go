package notify

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
)

// DefaultTelegramAPI is the Bot API root.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	apiURL string
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token. chatID
// is the default chat used for broadcasts and for owners whose id is not a
// Telegram chat id. It uses a default HTTP client with a 10-second timeout.
func NewTelegramSender(apiURL, token, chatID string) *TelegramSender {
	if apiURL == "" {
		apiURL = DefaultTelegramAPI
	}
	return &TelegramSender{
		apiURL: strings.TrimRight(apiURL, "/"),
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// resolveChat maps a recipient onto a chat id. Numeric recipients (negative
// for groups) are chat ids themselves.
func (t *TelegramSender) resolveChat(recipient string) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient != "" {
		if _, err := strconv.ParseInt(recipient, 10, 64); err == nil {
			return recipient, nil
		}
	}
	if t.chatID == "" {
		return "", errors.New("no chat id for recipient and no default chat configured")
	}
	return t.chatID, nil
}

// Send posts message to the recipient's chat using the sendMessage API.
func (t *TelegramSender) Send(ctx context.Context, recipient, message string) error {
	chatID, err := t.resolveChat(recipient)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)

	payload := map[string]string{
		"chat_id": chatID,
		"text":    message,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
