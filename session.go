package main

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// errSendBlocked marks the silent no-op cases of Send: empty input or a
// send already in flight. Callers drop it without surfacing an error.
var errSendBlocked = errors.New("send blocked")

const defaultConversationName = "New Conversation"

// sessionController orchestrates user actions against the store, the
// context windower, and the collaborator API. Its methods block on network
// calls; the TUI runs them inside commands. The pending-send flag and the
// page cursors are guarded here so overlapping commands collapse to one
// request.
type sessionController struct {
	api    *chatAPIClient
	store  *conversationStore
	cache  *historyCache
	userID string
	limit  int

	mu          sync.Mutex
	pendingSend bool
	pages       *pageSet
}

func newSessionController(api *chatAPIClient, store *conversationStore, cache *historyCache, userID string) *sessionController {
	return &sessionController{
		api:    api,
		store:  store,
		cache:  cache,
		userID: userID,
		limit:  defaultPageLimit,
		pages:  newPageSet(),
	}
}

type sendOutcome struct {
	conversationID string
	userMessage    chatMessage
	aiMessage      chatMessage
}

// bootstrap fetches the conversation list, selects an initial conversation
// (the requested id when present, otherwise the most recently updated), and
// loads its newest page. When the fetch fails transiently the local history
// mirror pre-populates the list so the error is still returned but the UI
// is not empty.
func (c *sessionController) bootstrap(ctx context.Context, requestedID string) error {
	conversations, err := c.api.fetchConversations(ctx)
	if err != nil {
		if errors.Is(err, errTransient) && c.cache != nil {
			if cached, cacheErr := c.cache.loadConversations(); cacheErr == nil && len(cached) > 0 {
				c.store.setConversations(cached)
				if requestedID != "" && c.store.setActive(requestedID) {
					return err
				}
				if len(cached) > 0 {
					c.store.setActive(cached[0].id)
				}
			}
		}
		return err
	}

	c.store.setConversations(conversations)
	if c.cache != nil {
		_ = c.cache.replaceAll(conversations)
	}

	target := ""
	if requestedID != "" {
		for _, conv := range conversations {
			if conv.id == requestedID {
				target = requestedID
				break
			}
		}
	}
	if target == "" && len(conversations) > 0 {
		target = conversations[0].id
	}
	if target == "" {
		return nil
	}
	return c.SwitchConversation(ctx, target)
}

// Send issues the chat-completion request for the active conversation. With
// no active conversation it creates an optimistic placeholder first and
// reconciles it to the server-confirmed id when the response lands. Empty
// input, a pending send, and a missing identity are rejected up front.
func (c *sessionController) Send(ctx context.Context, text string) (sendOutcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return sendOutcome{}, errSendBlocked
	}
	if c.userID == "" {
		return sendOutcome{}, errUnauthenticated
	}

	c.mu.Lock()
	if c.pendingSend {
		c.mu.Unlock()
		return sendOutcome{}, errSendBlocked
	}
	c.pendingSend = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.pendingSend = false
		c.mu.Unlock()
	}()

	activeID := c.store.active()
	placeholderID := ""
	if activeID == "" {
		placeholderID = c.store.insertPlaceholder(defaultConversationName)
		activeID = placeholderID
	}

	window := contextWindow(c.store.activeMessages(), maxContextMessages)

	wireID := activeID
	if isLocalID(wireID) {
		wireID = ""
	}
	result, err := c.api.sendChat(ctx, text, wireID, window)
	if err != nil {
		// Roll the optimistic placeholder back; a failed send must not
		// leave state behind. Nothing was active before the placeholder,
		// so removal must not promote another conversation either.
		if placeholderID != "" {
			c.store.remove(placeholderID)
			c.store.clearActive()
			c.withPages(func(p *pageSet) { p.drop(placeholderID) })
		}
		return sendOutcome{}, err
	}

	batch := []chatMessage{result.userMessage, result.aiMessage}
	if isLocalID(activeID) {
		c.store.appendAndConfirm(activeID, result.conversationID, batch)
		c.withPages(func(p *pageSet) { p.rekey(activeID, result.conversationID) })
	} else {
		c.store.appendMessages(activeID, batch)
	}
	c.withPages(func(p *pageSet) { p.reset(result.conversationID) })

	if c.cache != nil {
		name, _ := c.store.name(result.conversationID)
		_ = c.cache.upsertConversation(result.conversationID, name)
		_ = c.cache.appendMessages(result.conversationID, batch)
	}

	return sendOutcome{
		conversationID: result.conversationID,
		userMessage:    result.userMessage,
		aiMessage:      result.aiMessage,
	}, nil
}

// SwitchConversation makes a conversation active and reloads its newest page.
func (c *sessionController) SwitchConversation(ctx context.Context, conversationID string) error {
	if !c.store.setActive(conversationID) {
		return errNotFound
	}
	if isLocalID(conversationID) {
		return nil
	}
	return c.loadPage(ctx, conversationID, 1)
}

// LoadMore requests the next older page for the active conversation. It is
// a no-op with no active conversation, with no more history, or while a
// page request is already in flight.
func (c *sessionController) LoadMore(ctx context.Context) error {
	activeID := c.store.active()
	if activeID == "" || isLocalID(activeID) {
		return nil
	}

	c.mu.Lock()
	if !c.pages.hasMore(activeID) {
		c.mu.Unlock()
		return nil
	}
	page := c.pages.nextPage(activeID)
	c.mu.Unlock()
	if page < 2 {
		page = 2
	}
	return c.loadPage(ctx, activeID, page)
}

// loadPage performs one page fetch with the single-in-flight guarantee.
// Page 1 replaces the loaded window; older pages are prepended.
func (c *sessionController) loadPage(ctx context.Context, conversationID string, pageNumber int) error {
	c.mu.Lock()
	if !c.pages.beginLoad(conversationID, pageNumber) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	page, err := c.api.fetchMessagesPage(ctx, conversationID, pageNumber, pageLimitOr(c.limit))

	c.mu.Lock()
	c.pages.finishLoad(conversationID, pageNumber, page.hasMore, err == nil)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if pageNumber == 1 {
		c.store.replaceMessages(conversationID, page.messages)
	} else {
		c.store.prependMessages(conversationID, page.messages)
	}
	if c.cache != nil {
		_ = c.cache.appendMessages(conversationID, page.messages)
	}
	return nil
}

// NewConversation asks the collaborator for a fresh conversation and makes
// it active.
func (c *sessionController) NewConversation(ctx context.Context, name string) (string, error) {
	if name == "" {
		name = defaultConversationName
	}
	conv, err := c.api.createConversation(ctx, name)
	if err != nil {
		return "", err
	}
	c.store.insert(conv)
	if c.cache != nil {
		_ = c.cache.upsertConversation(conv.id, conv.name)
	}
	return conv.id, nil
}

func (c *sessionController) Rename(ctx context.Context, conversationID, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return errSendBlocked
	}
	if err := c.api.renameConversation(ctx, conversationID, newName); err != nil {
		return err
	}
	c.store.rename(conversationID, newName)
	if c.cache != nil {
		_ = c.cache.renameConversation(conversationID, newName)
	}
	return nil
}

// Delete removes a conversation everywhere. When the active conversation
// was deleted and another remains, that one becomes active and its newest
// page is loaded.
func (c *sessionController) Delete(ctx context.Context, conversationID string) error {
	wasActive := c.store.active() == conversationID
	if err := c.api.deleteConversation(ctx, conversationID); err != nil {
		return err
	}
	newActive, removed := c.store.remove(conversationID)
	if !removed {
		return nil
	}
	c.withPages(func(p *pageSet) { p.drop(conversationID) })
	if c.cache != nil {
		_ = c.cache.deleteConversation(conversationID)
	}
	if wasActive && newActive != "" {
		return c.loadPage(ctx, newActive, 1)
	}
	return nil
}

// ReceivePush merges an inbound live-channel text into the active
// conversation. The frame carries no conversation id; attribution follows
// whatever is active at delivery time.
func (c *sessionController) ReceivePush(content string) (chatMessage, bool) {
	msg, ok := c.store.receivePush(content)
	if !ok {
		return chatMessage{}, false
	}
	if c.cache != nil && !isLocalID(msg.ConversationID) {
		_ = c.cache.appendMessages(msg.ConversationID, []chatMessage{msg})
	}
	return msg, true
}

func (c *sessionController) sendPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingSend
}

func (c *sessionController) hasMoreHistory() bool {
	activeID := c.store.active()
	if activeID == "" || isLocalID(activeID) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pages.hasMore(activeID)
}

func (c *sessionController) withPages(fn func(*pageSet)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.pages)
}
