package main

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestCache(t *testing.T) *historyCache {
	t.Helper()
	cache, err := openHistoryCache(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history cache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func cachedMessage(id, conversationID, sender, content string, at time.Time) chatMessage {
	return chatMessage{
		ID:             id,
		ConversationID: conversationID,
		Content:        content,
		Sender:         sender,
		CreatedAt:      at,
	}
}

func TestHistoryCacheRoundTrip(t *testing.T) {
	t.Parallel()

	cache := openTestCache(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := cache.replaceAll([]*conversation{
		{
			id:        "c1",
			name:      "First",
			updatedAt: base.Add(time.Hour),
			messages: []chatMessage{
				cachedMessage("m1", "c1", senderUser, "hello", base),
				cachedMessage("m2", "c1", senderAI, "hi", base.Add(time.Minute)),
			},
		},
		{
			id:        "c2",
			name:      "Second",
			updatedAt: base,
		},
	})
	if err != nil {
		t.Fatalf("replaceAll: %v", err)
	}

	loaded, err := cache.loadConversations()
	if err != nil {
		t.Fatalf("loadConversations: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(loaded))
	}
	if loaded[0].id != "c1" || loaded[1].id != "c2" {
		t.Fatalf("expected most recently updated first, got %q then %q", loaded[0].id, loaded[1].id)
	}
	if len(loaded[0].messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(loaded[0].messages))
	}
	if loaded[0].messages[0].ID != "m1" || loaded[0].messages[1].ID != "m2" {
		t.Fatalf("messages out of order: %+v", loaded[0].messages)
	}
	if !loaded[0].messages[0].CreatedAt.Equal(base) {
		t.Fatalf("timestamp lost in round trip: %v", loaded[0].messages[0].CreatedAt)
	}
}

func TestHistoryCacheAppendIgnoresDuplicateIDs(t *testing.T) {
	t.Parallel()

	cache := openTestCache(t)
	if err := cache.upsertConversation("c1", "First"); err != nil {
		t.Fatalf("upsertConversation: %v", err)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := []chatMessage{cachedMessage("m1", "c1", senderUser, "hello", at)}
	if err := cache.appendMessages("c1", batch); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := cache.appendMessages("c1", batch); err != nil {
		t.Fatalf("duplicate append: %v", err)
	}

	messages, err := cache.loadMessages("c1")
	if err != nil {
		t.Fatalf("loadMessages: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("duplicate id mirrored twice: %d messages", len(messages))
	}
}

func TestHistoryCacheDeleteRemovesMessages(t *testing.T) {
	t.Parallel()

	cache := openTestCache(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := cache.upsertConversation("c1", "First"); err != nil {
		t.Fatalf("upsertConversation: %v", err)
	}
	if err := cache.appendMessages("c1", []chatMessage{
		cachedMessage("m1", "c1", senderUser, "hello", at),
	}); err != nil {
		t.Fatalf("appendMessages: %v", err)
	}

	if err := cache.deleteConversation("c1"); err != nil {
		t.Fatalf("deleteConversation: %v", err)
	}
	loaded, err := cache.loadConversations()
	if err != nil {
		t.Fatalf("loadConversations: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("conversation survived delete: %+v", loaded)
	}
	messages, err := cache.loadMessages("c1")
	if err != nil {
		t.Fatalf("loadMessages: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("messages survived delete: %+v", messages)
	}
}

func TestHistoryCacheRenamePersists(t *testing.T) {
	t.Parallel()

	cache := openTestCache(t)
	if err := cache.upsertConversation("c1", "First"); err != nil {
		t.Fatalf("upsertConversation: %v", err)
	}
	if err := cache.renameConversation("c1", "Renamed"); err != nil {
		t.Fatalf("renameConversation: %v", err)
	}

	loaded, err := cache.loadConversations()
	if err != nil {
		t.Fatalf("loadConversations: %v", err)
	}
	if len(loaded) != 1 || loaded[0].name != "Renamed" {
		t.Fatalf("rename not mirrored: %+v", loaded)
	}
}
