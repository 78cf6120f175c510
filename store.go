package main

import (
	"sync"
	"time"
)

// conversationStore is the authoritative in-memory table of conversations.
// Both producers of truth (the HTTP send path and the live channel) mutate
// state through it, so every mutation serializes on one mutex and appends
// are idempotent by message id.
type conversationStore struct {
	mu            sync.Mutex
	conversations []*conversation // most-recently-updated first
	activeID      string
}

// conversationListItem is a copy-safe row for list rendering.
type conversationListItem struct {
	id           string
	name         string
	updatedAt    time.Time
	messageCount int
}

func newConversationStore() *conversationStore {
	return &conversationStore{}
}

func (s *conversationStore) find(id string) *conversation {
	for _, conv := range s.conversations {
		if conv.id == id {
			return conv
		}
	}
	return nil
}

func hasMessage(conv *conversation, id string) bool {
	for _, msg := range conv.messages {
		if msg.ID == id {
			return true
		}
	}
	return false
}

// setConversations replaces the whole table, keeping the active id when it
// still exists. Used by the initial bootstrap fetch.
func (s *conversationStore) setConversations(conversations []*conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations = conversations
	if s.activeID != "" && s.find(s.activeID) == nil {
		s.activeID = ""
	}
}

// insert places a conversation at the front of the table and makes it active.
func (s *conversationStore) insert(conv *conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.find(conv.id); existing != nil {
		s.activeID = conv.id
		return
	}
	s.conversations = append([]*conversation{conv}, s.conversations...)
	s.activeID = conv.id
}

// insertPlaceholder creates the optimistic local conversation used when a
// send starts with no active conversation. Returns the placeholder id.
func (s *conversationStore) insertPlaceholder(name string) string {
	conv := &conversation{
		id:        newLocalID(),
		name:      name,
		updatedAt: time.Now().UTC(),
	}
	s.insert(conv)
	return conv.id
}

// appendMessages appends a batch to the tail of a conversation's log,
// skipping any message id already present. Returns false when the
// conversation does not exist.
func (s *conversationStore) appendMessages(conversationID string, messages []chatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(conversationID, messages)
}

func (s *conversationStore) appendLocked(conversationID string, messages []chatMessage) bool {
	conv := s.find(conversationID)
	if conv == nil {
		return false
	}
	for _, msg := range messages {
		if hasMessage(conv, msg.ID) {
			continue
		}
		conv.messages = append(conv.messages, msg)
	}
	conv.updatedAt = time.Now().UTC()
	return true
}

// appendAndConfirm reconciles an optimistic placeholder to its
// server-confirmed id atomically with the first append.
func (s *conversationStore) appendAndConfirm(placeholderID, confirmedID string, messages []chatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(placeholderID)
	if conv == nil {
		return false
	}
	conv.id = confirmedID
	if s.activeID == placeholderID {
		s.activeID = confirmedID
	}
	return s.appendLocked(confirmedID, messages)
}

// prependMessages backfills an older page at the head of the log, preserving
// the batch's own order. Duplicate ids are dropped.
func (s *conversationStore) prependMessages(conversationID string, messages []chatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(conversationID)
	if conv == nil {
		return false
	}
	fresh := make([]chatMessage, 0, len(messages))
	for _, msg := range messages {
		if hasMessage(conv, msg.ID) {
			continue
		}
		fresh = append(fresh, msg)
	}
	conv.messages = append(fresh, conv.messages...)
	return true
}

// replaceMessages swaps the loaded window for a fresh page 1.
func (s *conversationStore) replaceMessages(conversationID string, messages []chatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(conversationID)
	if conv == nil {
		return false
	}
	conv.messages = append([]chatMessage(nil), messages...)
	return true
}

// receivePush appends a synthesized AI message to the active conversation.
// No-op when nothing is active; the live channel carries no conversation id,
// so inbound text is attributed to whichever conversation is open.
func (s *conversationStore) receivePush(content string) (chatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(s.activeID)
	if conv == nil {
		return chatMessage{}, false
	}
	msg := newPushMessage(conv.id, content)
	conv.messages = append(conv.messages, msg)
	conv.updatedAt = time.Now().UTC()
	return msg, true
}

func (s *conversationStore) rename(conversationID, newName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(conversationID)
	if conv == nil {
		return false
	}
	conv.name = newName
	return true
}

// remove deletes a conversation. When it was active, another existing
// conversation becomes active, or the active id is cleared if none remain.
// Returns the resulting active id.
func (s *conversationStore) remove(conversationID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, conv := range s.conversations {
		if conv.id == conversationID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return s.activeID, false
	}
	s.conversations = append(s.conversations[:idx], s.conversations[idx+1:]...)
	if s.activeID == conversationID {
		s.activeID = ""
		if len(s.conversations) > 0 {
			s.activeID = s.conversations[0].id
		}
	}
	return s.activeID, true
}

// clearActive drops the active selection without touching the table.
func (s *conversationStore) clearActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = ""
}

func (s *conversationStore) setActive(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.find(conversationID) == nil {
		return false
	}
	s.activeID = conversationID
	return true
}

func (s *conversationStore) active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// activeMessages returns a copy of the active conversation's loaded log.
func (s *conversationStore) activeMessages() []chatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(s.activeID)
	if conv == nil {
		return nil
	}
	return append([]chatMessage(nil), conv.messages...)
}

func (s *conversationStore) messages(conversationID string) ([]chatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(conversationID)
	if conv == nil {
		return nil, false
	}
	return append([]chatMessage(nil), conv.messages...), true
}

func (s *conversationStore) name(conversationID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(conversationID)
	if conv == nil {
		return "", false
	}
	return conv.name, true
}

func (s *conversationStore) list() []conversationListItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]conversationListItem, 0, len(s.conversations))
	for _, conv := range s.conversations {
		items = append(items, conversationListItem{
			id:           conv.id,
			name:         conv.name,
			updatedAt:    conv.updatedAt,
			messageCount: len(conv.messages),
		})
	}
	return items
}
