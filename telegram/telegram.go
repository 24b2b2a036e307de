// Package telegram sends notifications to a Telegram chat via the Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// PollQuestionLimit is the Bot API cap on poll question length.
const PollQuestionLimit = 300

const defaultAPIURL = "https://api.telegram.org"

// Client talks to the Telegram Bot API for a single destination chat.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	apiURL     string
	token      string
	chatID     string
}

// Config holds Telegram client configuration.
type Config struct {
	Token      string
	ChatID     string
	APIURL     string // defaults to the public Bot API
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New creates a new Telegram client.
func New(cfg *Config) *Client {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		logger:     cfg.Logger,
		apiURL:     apiURL,
		token:      cfg.Token,
		chatID:     cfg.ChatID,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

type message struct {
	MessageID int64 `json:"message_id"`
}

// SendText posts a Markdown-formatted text message.
func (c *Client) SendText(ctx context.Context, text string) error {
	_, err := c.sendMessage(ctx, text)
	return err
}

func (c *Client) sendMessage(ctx context.Context, text string) (int64, error) {
	var msg message
	err := c.call(ctx, "sendMessage", map[string]any{
		"chat_id":    c.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}, &msg)
	if err != nil {
		return 0, err
	}
	c.logger.Info("Message sent", "chat_id", c.chatID, "message_id", msg.MessageID, "length", len(text))
	return msg.MessageID, nil
}

// SendPhoto posts an image by URL with a Markdown caption.
func (c *Client) SendPhoto(ctx context.Context, photoURL, caption string) error {
	var msg message
	err := c.call(ctx, "sendPhoto", map[string]any{
		"chat_id":    c.chatID,
		"photo":      photoURL,
		"caption":    caption,
		"parse_mode": "Markdown",
	}, &msg)
	if err != nil {
		return err
	}
	c.logger.Info("Photo sent", "chat_id", c.chatID, "message_id", msg.MessageID)
	return nil
}

// SendPoll creates a non-anonymous poll. Questions longer than the Bot API
// limit are rejected server-side, so callers truncate first.
func (c *Client) SendPoll(ctx context.Context, question string, options []string) error {
	_, err := c.sendPoll(ctx, question, options)
	return err
}

func (c *Client) sendPoll(ctx context.Context, question string, options []string) (int64, error) {
	var msg message
	err := c.call(ctx, "sendPoll", map[string]any{
		"chat_id":      c.chatID,
		"question":     question,
		"options":      options,
		"is_anonymous": false,
	}, &msg)
	if err != nil {
		return 0, err
	}
	c.logger.Info("Poll created", "chat_id", c.chatID, "message_id", msg.MessageID)
	return msg.MessageID, nil
}

// Chat is the subset of chat metadata the self-check inspects.
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

// ChatInfo fetches metadata for the destination chat.
func (c *Client) ChatInfo(ctx context.Context) (*Chat, error) {
	var chat Chat
	if err := c.call(ctx, "getChat", map[string]any{"chat_id": c.chatID}, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// ChatMember describes the bot's membership status in the chat.
type ChatMember struct {
	Status string `json:"status"`
}

// BotMember looks up the bot's own membership in the destination chat.
func (c *Client) BotMember(ctx context.Context) (*ChatMember, error) {
	var me struct {
		ID int64 `json:"id"`
	}
	if err := c.call(ctx, "getMe", map[string]any{}, &me); err != nil {
		return nil, err
	}

	var member ChatMember
	err := c.call(ctx, "getChatMember", map[string]any{
		"chat_id": c.chatID,
		"user_id": me.ID,
	}, &member)
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// DeleteMessage removes a message from the destination chat.
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	return c.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    c.chatID,
		"message_id": messageID,
	}, nil)
}

// SelfCheck is an optional startup diagnostic: it verifies the bot can
// post, create polls, and delete its own messages in the destination chat.
// Failures are reported, never fatal.
func (c *Client) SelfCheck(ctx context.Context) error {
	member, err := c.BotMember(ctx)
	if err != nil {
		return fmt.Errorf("look up bot membership: %w", err)
	}
	c.logger.Info("Bot membership verified", "status", member.Status)

	msgID, err := c.sendMessage(ctx, "Permission check, this message self-destructs.")
	if err != nil {
		return fmt.Errorf("send test message: %w", err)
	}
	if err := c.DeleteMessage(ctx, msgID); err != nil {
		return fmt.Errorf("delete test message: %w", err)
	}

	// Poll creation needs its own permission, so exercise it too.
	pollID, err := c.sendPoll(ctx, "Permission check, this poll self-destructs.", []string{"ok", "ok!"})
	if err != nil {
		return fmt.Errorf("send test poll: %w", err)
	}
	if err := c.DeleteMessage(ctx, pollID); err != nil {
		return fmt.Errorf("delete test poll: %w", err)
	}

	c.logger.Info("Permission self-check passed", "chat_id", c.chatID)
	return nil
}

// call posts a Bot API method with retry and decodes the result envelope.
func (c *Client) call(ctx context.Context, method string, params map[string]any, out any) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.apiURL, c.token, method)

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")

			startTime := time.Now()
			resp, err := c.httpClient.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				c.logger.Warn("Bot API request failed, will retry",
					"method", method,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}

			var envelope apiResponse
			if err := json.Unmarshal(body, &envelope); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			if !envelope.OK {
				apiErr := fmt.Errorf("bot API %s: %s (code %d)", method, envelope.Description, envelope.ErrorCode)
				// 4xx from the Bot API means the request itself is bad;
				// retrying the same payload cannot succeed.
				if envelope.ErrorCode >= 400 && envelope.ErrorCode < 500 && envelope.ErrorCode != http.StatusTooManyRequests {
					return retry.Unrecoverable(apiErr)
				}
				return apiErr
			}

			if out != nil && len(envelope.Result) > 0 {
				if err := json.Unmarshal(envelope.Result, out); err != nil {
					return retry.Unrecoverable(fmt.Errorf("decode result: %w", err))
				}
			}

			c.logger.Debug("Bot API request completed",
				"method", method,
				"duration_ms", duration.Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying Bot API call after error", "attempt", n, "method", method, "error", err)
		}),
	)
}
