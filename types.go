package main

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	senderUser = "user"
	senderAI   = "ai"
)

// chatMessage is one persisted chat message. The JSON shape matches the
// server's wire format, so the same type is used in memory and on the wire.
type chatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	Sender         string    `json:"sender"`
	CreatedAt      time.Time `json:"createdAt"`
}

// conversation is the in-memory view of one named message log. messages is
// ascending by creation time; loadedFrom in the page cursor records how much
// older history is known.
type conversation struct {
	id        string
	name      string
	messages  []chatMessage
	updatedAt time.Time
}

// wireConversation is the server's conversation shape, with nested messages.
type wireConversation struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Messages  []chatMessage `json:"messages"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

func (w wireConversation) toConversation() *conversation {
	return &conversation{
		id:        w.ID,
		name:      w.Name,
		messages:  append([]chatMessage(nil), w.Messages...),
		updatedAt: w.UpdatedAt,
	}
}

// contextEntry is one role-tagged line of the outgoing prompt context.
type contextEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type channelStatus int

const (
	channelDisconnected channelStatus = iota
	channelConnecting
	channelConnected
)

func (s channelStatus) String() string {
	switch s {
	case channelConnecting:
		return "connecting"
	case channelConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const localIDPrefix = "local-"

// newLocalID mints a placeholder conversation id for optimistic creation.
// The placeholder is reconciled to the server-confirmed id on first append.
func newLocalID() string {
	return localIDPrefix + uuid.NewString()
}

func isLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

// newPushMessage synthesizes an AI message for an inbound live-channel frame.
// The server does not assign ids to pushed text, so the client mints one.
func newPushMessage(conversationID, content string) chatMessage {
	return chatMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Content:        content,
		Sender:         senderAI,
		CreatedAt:      time.Now().UTC(),
	}
}
