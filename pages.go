package main

// pageCursor tracks how much history has been loaded for one conversation.
// Page 1 is the newest window; higher pages reach further back.
type pageCursor struct {
	page     int
	hasMore  bool
	inFlight bool
}

// pageSet holds one cursor per conversation. It is not synchronized; the
// session controller serializes access.
type pageSet struct {
	cursors map[string]*pageCursor
}

func newPageSet() *pageSet {
	return &pageSet{cursors: make(map[string]*pageCursor)}
}

func (p *pageSet) cursorFor(conversationID string) *pageCursor {
	cursor, ok := p.cursors[conversationID]
	if !ok {
		cursor = &pageCursor{hasMore: true}
		p.cursors[conversationID] = cursor
	}
	return cursor
}

// beginLoad reserves the single in-flight slot for a page request. A second
// request while one is pending is dropped, not queued. Requests for older
// pages are refused once the conversation has no more history; loading page
// 1 clears that state until the fetch completes.
func (p *pageSet) beginLoad(conversationID string, pageNumber int) bool {
	cursor := p.cursorFor(conversationID)
	if cursor.inFlight {
		return false
	}
	if pageNumber > 1 && !cursor.hasMore {
		return false
	}
	if pageNumber == 1 {
		cursor.hasMore = true
	}
	cursor.inFlight = true
	return true
}

// finishLoad records the outcome of a page fetch and releases the in-flight
// slot. Failed fetches leave the prior bookkeeping untouched.
func (p *pageSet) finishLoad(conversationID string, pageNumber int, hasMore, ok bool) {
	cursor := p.cursorFor(conversationID)
	cursor.inFlight = false
	if !ok {
		return
	}
	cursor.page = pageNumber
	cursor.hasMore = hasMore
}

func (p *pageSet) nextPage(conversationID string) int {
	return p.cursorFor(conversationID).page + 1
}

func (p *pageSet) hasMore(conversationID string) bool {
	return p.cursorFor(conversationID).hasMore
}

// reset returns a conversation to the freshly-sent state: newest window
// loaded, older history assumed present. An outstanding page fetch keeps its
// in-flight slot; reset only rewinds the bookkeeping.
func (p *pageSet) reset(conversationID string) {
	cursor := p.cursorFor(conversationID)
	cursor.page = 1
	cursor.hasMore = true
}

func (p *pageSet) drop(conversationID string) {
	delete(p.cursors, conversationID)
}

// rekey moves cursor state from a placeholder id to the server-confirmed id.
func (p *pageSet) rekey(oldID, newID string) {
	cursor, ok := p.cursors[oldID]
	if !ok {
		return
	}
	delete(p.cursors, oldID)
	p.cursors[newID] = cursor
}
