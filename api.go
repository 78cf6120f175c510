package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHTTPTimeout = 60 * time.Second

// Failure taxonomy for collaborator calls. The session controller matches
// these with errors.Is and turns them into status-line notices.
var (
	errUnauthenticated = errors.New("not authenticated")
	errNotFound        = errors.New("conversation not found")
	errUpstream        = errors.New("chat completion failed")
	errTransient       = errors.New("network failure")
)

// chatAPIClient talks to the conversation service: CRUD on conversations,
// message pages, and the synchronous chat-completion endpoint.
type chatAPIClient struct {
	baseURL string
	userID  string
	http    *http.Client
}

func newChatAPIClient(baseURL, userID string) *chatAPIClient {
	return &chatAPIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    &http.Client{Timeout: defaultHTTPTimeout},
	}
}

type messagesPage struct {
	messages    []chatMessage
	currentPage int
	totalPages  int
	hasMore     bool
}

type sendChatResult struct {
	conversationID string
	userMessage    chatMessage
	aiMessage      chatMessage
}

type apiErrorBody struct {
	Error string `json:"error"`
}

func (c *chatAPIClient) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s %s request: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Chat-User", c.userID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", errTransient, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s %s response: %v", errTransient, method, path, err)
	}

	if resp.StatusCode >= 300 {
		return nil, statusError(method, path, resp.StatusCode, raw)
	}
	return raw, nil
}

// statusError maps a non-success response onto the failure taxonomy. The
// server reports details as {"error": "..."}.
func statusError(method, path string, status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	var parsed apiErrorBody
	if json.Unmarshal(body, &parsed) == nil && strings.TrimSpace(parsed.Error) != "" {
		detail = strings.TrimSpace(parsed.Error)
	}

	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", errUnauthenticated, detail)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", errNotFound, detail)
	case status >= 500:
		return fmt.Errorf("%w: %s %s %d: %s", errUpstream, method, path, status, detail)
	default:
		return fmt.Errorf("%s %s %d: %s", method, path, status, detail)
	}
}

func (c *chatAPIClient) createConversation(ctx context.Context, name string) (*conversation, error) {
	raw, err := c.do(ctx, http.MethodPost, "/api/conversation", map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	var wire wireConversation
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode create conversation response: %w", err)
	}
	return wire.toConversation(), nil
}

// fetchConversations returns the user's conversations, most recently
// updated first, with whatever messages the server nests in each.
func (c *chatAPIClient) fetchConversations(ctx context.Context) ([]*conversation, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/conversation", nil)
	if err != nil {
		return nil, err
	}
	var wires []wireConversation
	if err := json.Unmarshal(raw, &wires); err != nil {
		return nil, fmt.Errorf("decode conversations response: %w", err)
	}
	conversations := make([]*conversation, 0, len(wires))
	for _, wire := range wires {
		conversations = append(conversations, wire.toConversation())
	}
	return conversations, nil
}

func (c *chatAPIClient) fetchMessagesPage(ctx context.Context, conversationID string, page, limit int) (messagesPage, error) {
	path := fmt.Sprintf("/api/conversation/%s/messages?page=%d&limit=%d",
		url.PathEscape(conversationID), page, limit)
	raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return messagesPage{}, err
	}

	var wire struct {
		Messages    []chatMessage `json:"messages"`
		CurrentPage int           `json:"currentPage"`
		TotalPages  int           `json:"totalPages"`
		HasMore     bool          `json:"hasMore"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return messagesPage{}, fmt.Errorf("decode messages page: %w", err)
	}
	return messagesPage{
		messages:    wire.Messages,
		currentPage: wire.CurrentPage,
		totalPages:  wire.TotalPages,
		hasMore:     wire.HasMore,
	}, nil
}

func (c *chatAPIClient) renameConversation(ctx context.Context, conversationID, name string) error {
	path := "/api/conversation/" + url.PathEscape(conversationID)
	_, err := c.do(ctx, http.MethodPatch, path, map[string]string{"name": name})
	return err
}

func (c *chatAPIClient) deleteConversation(ctx context.Context, conversationID string) error {
	path := "/api/conversation/" + url.PathEscape(conversationID)
	_, err := c.do(ctx, http.MethodDelete, path, nil)
	return err
}

// sendChat issues the synchronous chat-completion request. An empty
// conversationID asks the server to create a new conversation; the response
// always carries the confirmed id plus both persisted messages.
func (c *chatAPIClient) sendChat(ctx context.Context, message, conversationID string, window []contextEntry) (sendChatResult, error) {
	body := struct {
		Message        string         `json:"message"`
		ConversationID string         `json:"conversationId,omitempty"`
		Context        []contextEntry `json:"context"`
	}{
		Message:        message,
		ConversationID: conversationID,
		Context:        window,
	}

	raw, err := c.do(ctx, http.MethodPost, "/api/chat", body)
	if err != nil {
		return sendChatResult{}, err
	}

	var wire struct {
		ConversationID string      `json:"conversationId"`
		UserMessage    chatMessage `json:"userMessage"`
		AIMessage      chatMessage `json:"aiMessage"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return sendChatResult{}, fmt.Errorf("decode chat response: %w", err)
	}
	if strings.TrimSpace(wire.ConversationID) == "" {
		return sendChatResult{}, fmt.Errorf("chat response missing conversation id")
	}
	return sendChatResult{
		conversationID: wire.ConversationID,
		userMessage:    wire.UserMessage,
		aiMessage:      wire.AIMessage,
	}, nil
}

// pageLimitOr returns limit or the server default used by the messages
// endpoint.
func pageLimitOr(limit int) int {
	if limit <= 0 {
		return defaultPageLimit
	}
	return limit
}
