package discord

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

	"github.com/devitalik/devitalik/internal/resilience"
)

const defaultAPIBaseURL = "https://discord.com/api/v10"

// Message is a Discord channel message.
type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	Content   string    `json:"content"`
	Author    Author    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

// Author is the sender of a Discord message.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot,omitempty"`
}

// Client talks to the Discord REST API with a bot token.
type Client struct {
	baseURL    string
	botToken   string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a Discord REST client. baseURL may be empty to use
// the public Discord API.
func NewClient(baseURL, botToken string) *Client {
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	return &Client{
		baseURL:  baseURL,
		botToken: botToken,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Me returns the bot's own user, confirming the token works.
func (c *Client) Me(ctx context.Context) (*Author, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/users/@me", nil)
	if err != nil {
		return nil, fmt.Errorf("me: %w", err)
	}

	var me Author
	if err := json.Unmarshal(resp, &me); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &me, nil
}

// ReadMessages returns up to count recent messages from a channel,
// newest first.
func (c *Client) ReadMessages(ctx context.Context, channelID string, count int) ([]Message, error) {
	path := "/channels/" + url.PathEscape(channelID) + "/messages?limit=" + strconv.Itoa(count)
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}

	var msgs []Message
	if err := json.Unmarshal(resp, &msgs); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	return msgs, nil
}

// PostMessage sends a new message to a channel.
func (c *Client) PostMessage(ctx context.Context, channelID, content string) (*Message, error) {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/messages", body)
	if err != nil {
		return nil, fmt.Errorf("post message: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(resp, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &msg, nil
}

// ReplyToMessage posts a reply referencing an existing message.
func (c *Client) ReplyToMessage(ctx context.Context, channelID, messageID, content string) (*Message, error) {
	body, err := json.Marshal(map[string]any{
		"content": content,
		"message_reference": map[string]string{
			"channel_id": channelID,
			"message_id": messageID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal reply: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/messages", body)
	if err != nil {
		return nil, fmt.Errorf("reply to message: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(resp, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal reply: %w", err)
	}
	return &msg, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Authorization", "Bot "+c.botToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("discord API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
