package letta

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/lettagram/lettagram/internal/domain"
)

// sendMessageRequest is the body for the streaming messages endpoint.
type sendMessageRequest struct {
	Messages       []messagePayload `json:"messages"`
	StreamTokens   bool             `json:"stream_tokens"`
	IncludePings   bool             `json:"include_pings"`
	EnableThinking string           `json:"enable_thinking,omitempty"`
}

type messagePayload struct {
	Role    string           `json:"role"`
	Content []contentPayload `json:"content"`
}

type contentPayload struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// rawStreamEvent is the wire form of one SSE data payload.
type rawStreamEvent struct {
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
	Reasoning   string `json:"reasoning"`
	Message     string `json:"message"`
	ToolCall    *struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"tool_call"`
	ToolReturn string `json:"tool_return"`
	Status     string `json:"status"`
	Name       string `json:"name"`
}

// SendMessage sends content to an agent and yields the response event
// stream. The sequence is lazy, finite, and non-restartable: once
// consumed it cannot be replayed. Establishment retries transient
// server errors with backoff; once events flow there is no retry, since
// the agent may already have acted. A stall past the inactivity window
// aborts the call with ErrTimeout. Stopping consumption (breaking out
// of the range) cancels the underlying request.
func (c *Client) SendMessage(ctx context.Context, cred *domain.Credential, agentID, content string) iter.Seq2[*StreamEvent, error] {
	return func(yield func(*StreamEvent, error) bool) {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.StreamMaxDuration)
		defer cancel()

		resp, err := c.openStream(ctx, cred, agentID, content)
		if err != nil {
			yield(nil, err)
			return
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				c.logger.Warn("failed to close stream body", "agent_id", agentID, "error", closeErr)
			}
		}()

		// Reader goroutine feeds events through a channel so the consumer
		// loop can race each read against the inactivity window.
		type item struct {
			event *StreamEvent
			err   error
		}
		items := make(chan item)
		go func() {
			defer close(items)
			scanner := bufio.NewScanner(resp.Body)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				data, ok := strings.CutPrefix(line, "data:")
				if !ok {
					continue
				}
				data = strings.TrimSpace(data)
				if data == "" {
					continue
				}
				if data == "[DONE]" {
					select {
					case items <- item{event: &StreamEvent{Kind: EventEnd}}:
					case <-ctx.Done():
					}
					return
				}
				event, decodeErr := decodeStreamEvent(data)
				if decodeErr != nil {
					c.logger.Debug("skipping undecodable stream event", "agent_id", agentID, "error", decodeErr)
					continue
				}
				if event == nil {
					continue // ping or event kind we do not surface
				}
				select {
				case items <- item{event: event}:
				case <-ctx.Done():
					return
				}
			}
			if scanErr := scanner.Err(); scanErr != nil && !errors.Is(scanErr, context.Canceled) {
				select {
				case items <- item{err: fmt.Errorf("%w: read stream: %v", ErrRemote, scanErr)}:
				case <-ctx.Done():
				}
			}
		}()

		timer := time.NewTimer(c.cfg.StreamInactivity)
		defer timer.Stop()

		for {
			select {
			case it, ok := <-items:
				if !ok {
					// Server closed the stream without a terminator; treat as end.
					yield(&StreamEvent{Kind: EventEnd}, nil)
					return
				}
				if it.err != nil {
					yield(nil, it.err)
					return
				}
				if !yield(it.event, nil) {
					return
				}
				if it.event.Kind == EventEnd {
					return
				}
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(c.cfg.StreamInactivity)
			case <-timer.C:
				cancel()
				yield(nil, fmt.Errorf("%w: no event for %s", ErrTimeout, c.cfg.StreamInactivity))
				return
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					yield(nil, fmt.Errorf("%w: call exceeded %s", ErrTimeout, c.cfg.StreamMaxDuration))
				} else {
					yield(nil, ctx.Err())
				}
				return
			}
		}
	}
}

// openStream establishes the SSE response, retrying 5xx with backoff.
func (c *Client) openStream(ctx context.Context, cred *domain.Credential, agentID, content string) (*http.Response, error) {
	body, err := json.Marshal(sendMessageRequest{
		Messages: []messagePayload{{
			Role:    "user",
			Content: []contentPayload{{Type: "text", Text: content}},
		}},
		StreamTokens: true,
		IncludePings: true,
	})
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	path := "/v1/agents/" + agentID + "/messages/stream"

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			c.logger.Debug("retrying stream open", "agent_id", agentID, "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, reqErr := c.newRequest(ctx, cred, http.MethodPost, path, body)
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, doErr := c.http.Do(req)
		if doErr != nil {
			lastErr = fmt.Errorf("%w: open stream: %v", ErrRemote, doErr)
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		statusErr := checkStatus(resp, http.MethodPost, path)
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		if !isRetryable(statusErr) {
			return nil, statusErr
		}
		lastErr = statusErr
	}
	return nil, lastErr
}

// decodeStreamEvent maps one wire event to a StreamEvent, or nil for
// kinds the relay does not surface (pings, usage statistics).
func decodeStreamEvent(data string) (*StreamEvent, error) {
	var raw rawStreamEvent
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, err
	}
	switch raw.MessageType {
	case "assistant_message":
		if raw.Content == "" {
			return nil, nil
		}
		return &StreamEvent{Kind: EventAssistant, Text: raw.Content}, nil
	case "reasoning_message":
		if raw.Reasoning == "" {
			return nil, nil
		}
		return &StreamEvent{Kind: EventReasoning, Text: raw.Reasoning}, nil
	case "tool_call_message":
		if raw.ToolCall == nil {
			return nil, nil
		}
		return &StreamEvent{Kind: EventToolCall, ToolName: raw.ToolCall.Name, ToolArgs: raw.ToolCall.Arguments}, nil
	case "tool_return_message":
		return &StreamEvent{Kind: EventToolResult, ToolName: raw.Name, Status: raw.Status, Text: raw.ToolReturn}, nil
	case "system_alert":
		if raw.Message == "" {
			return nil, nil
		}
		return &StreamEvent{Kind: EventSystemAlert, Text: raw.Message}, nil
	case "stop_reason", "usage_statistics", "ping":
		return nil, nil
	default:
		return nil, nil
	}
}
