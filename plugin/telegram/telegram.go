// Package telegram is a thin adapter over the Telegram Bot API. It delivers
// inbound message events and sends replies; everything conversation-related
// lives in the relay service, which consumes this package through interfaces.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const apiBase = "https://api.telegram.org"

// Update is one inbound event from the Bot API.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is the inbound message payload.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// User is the sender of a message.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Chat identifies the conversation.
type Chat struct {
	ID int64 `json:"id"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// Client is a minimal Bot API client. Outbound calls are rate limited to stay
// under the Bot API's global send limit.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Bot API client for the given token.
func NewClient(token string) *Client {
	return &Client{
		token:   token,
		baseURL: apiBase,
		http:    &http.Client{Timeout: 65 * time.Second},
		// The Bot API allows ~30 messages/second across all chats.
		limiter: rate.NewLimiter(rate.Limit(25), 5),
	}
}

// SendText sends a text message to the conversation.
func (c *Client) SendText(ctx context.Context, conversationID, text string) error {
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid conversation id %q", conversationID)
	}
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	return c.call(ctx, "sendMessage", payload, nil)
}

// SendTyping shows the typing indicator in the conversation. Best effort.
func (c *Client) SendTyping(ctx context.Context, conversationID string) error {
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid conversation id %q", conversationID)
	}
	payload := map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	}
	return c.call(ctx, "sendChatAction", payload, nil)
}

// GetUpdates long-polls the Bot API for new updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	values := url.Values{}
	values.Set("offset", strconv.FormatInt(offset, 10))
	values.Set("timeout", strconv.Itoa(int(timeout.Seconds())))

	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?%s", c.baseURL, c.token, values.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build getUpdates request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "getUpdates request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read getUpdates response")
	}

	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return nil, errors.Wrap(err, "failed to decode getUpdates response")
	}
	if !api.OK {
		return nil, errors.Errorf("getUpdates rejected: %s", api.Description)
	}

	var updates []Update
	if err := json.Unmarshal(api.Result, &updates); err != nil {
		return nil, errors.Wrap(err, "failed to decode updates")
	}
	return updates, nil
}

func (c *Client) call(ctx context.Context, method string, payload any, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s payload", method)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "failed to build %s request", method)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s request failed", method)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s response", method)
	}

	var api apiResponse
	if err := json.Unmarshal(data, &api); err != nil {
		return errors.Wrapf(err, "failed to decode %s response", method)
	}
	if !api.OK {
		return errors.Errorf("%s rejected: %s", method, api.Description)
	}
	if result != nil {
		if err := json.Unmarshal(api.Result, result); err != nil {
			return errors.Wrapf(err, "failed to decode %s result", method)
		}
	}
	return nil
}

// ParseUpdate decodes a webhook payload into an Update.
func ParseUpdate(body []byte) (*Update, error) {
	update := &Update{}
	if err := json.Unmarshal(body, update); err != nil {
		return nil, errors.Wrap(err, "malformed update payload")
	}
	if update.UpdateID == 0 && update.Message == nil {
		return nil, errors.New("update payload carries no message")
	}
	return update, nil
}
