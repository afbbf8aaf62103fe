package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// Sender is the outbound surface the bot uses. Satisfied by *Client;
// tests substitute a recorder.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *SendOptions) (int64, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, opts *SendOptions) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	SendTyping(ctx context.Context, chatID int64) error
}

// SendOptions carries the optional parts of a send.
type SendOptions struct {
	Keyboard       [][]Button
	DisablePreview bool
	// Plain skips MarkdownV2 and sends the text verbatim.
	Plain bool
}

// Client talks to the Bot API over HTTPS.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a Bot API client. baseURL may be empty for the
// public endpoint.
func NewClient(token, baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

type sendMessageRequest struct {
	ChatID                int64                 `json:"chat_id"`
	Text                  string                `json:"text"`
	ParseMode             string                `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool                  `json:"disable_web_page_preview,omitempty"`
	ReplyMarkup           *inlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type editMessageTextRequest struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int64                 `json:"message_id"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *inlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description,omitempty"`
}

// SendMessage sends text to a chat and returns the new message ID.
// MarkdownV2 first; if Telegram rejects the entities, retry plain so
// the user still sees something rather than nothing.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts *SendOptions) (int64, error) {
	if opts == nil {
		opts = &SendOptions{}
	}
	req := sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		DisableWebPagePreview: opts.DisablePreview,
		ReplyMarkup:           keyboardMarkup(opts.Keyboard),
	}
	if !opts.Plain {
		req.ParseMode = "MarkdownV2"
	}

	var sent Message
	err := c.call(ctx, "sendMessage", req, &sent)
	if err != nil && !opts.Plain {
		c.logger.Debug("markdown send rejected, retrying plain", "chat_id", chatID, "error", err)
		req.ParseMode = ""
		err = c.call(ctx, "sendMessage", req, &sent)
	}
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// EditMessageText replaces the text (and, when opts carries a
// keyboard, the buttons) of a previously sent message.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, opts *SendOptions) error {
	if opts == nil {
		opts = &SendOptions{}
	}
	req := editMessageTextRequest{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ParseMode:   "MarkdownV2",
		ReplyMarkup: keyboardMarkup(opts.Keyboard),
	}
	if opts.Plain {
		req.ParseMode = ""
	}
	err := c.call(ctx, "editMessageText", req, nil)
	if err != nil && req.ParseMode != "" {
		req.ParseMode = ""
		err = c.call(ctx, "editMessageText", req, nil)
	}
	return err
}

// DeleteMessage removes a message from a chat.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.call(ctx, "deleteMessage", map[string]int64{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil)
}

// AnswerCallback acknowledges a button tap. text, if non-empty, shows
// as a toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]string{
		"callback_query_id": callbackID,
		"text":              text,
	}, nil)
}

// SendTyping shows the typing indicator in a chat.
func (c *Client) SendTyping(ctx context.Context, chatID int64) error {
	return c.call(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	}, nil)
}

// call posts a JSON request to one Bot API method and decodes the
// result into out when non-nil.
func (c *Client) call(ctx context.Context, method string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("telegram %s: encode: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	closeErr := resp.Body.Close()
	if err != nil {
		return fmt.Errorf("telegram %s: read response: %w", method, err)
	}
	if closeErr != nil {
		c.logger.Warn("failed to close telegram response body", "method", method, "error", closeErr)
	}

	var api apiResponse
	if err := json.Unmarshal(raw, &api); err != nil {
		return fmt.Errorf("telegram %s: http %d: decode: %w", method, resp.StatusCode, err)
	}
	if !api.OK {
		return fmt.Errorf("telegram %s: http %d: %s", method, resp.StatusCode, strings.TrimSpace(api.Description))
	}
	if out != nil && len(api.Result) > 0 {
		if err := json.Unmarshal(api.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}
