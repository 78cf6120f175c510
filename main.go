package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

type screen int

const (
	screenConversations screen = iota
	screenChat
	screenPrompt
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))

	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62"))

	roleUserStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	roleAIStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	liveUpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	liveDownStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type bootstrapDoneMsg struct {
	err error
}

type switchDoneMsg struct {
	conversationID string
	err            error
}

type sendResultMsg struct {
	outcome sendOutcome
	err     error
}

type pageLoadedMsg struct {
	conversationID string
	err            error
}

type conversationCreatedMsg struct {
	conversationID string
	err            error
}

type renameDoneMsg struct {
	conversationID string
	name           string
	err            error
}

type deleteDoneMsg struct {
	conversationID string
	err            error
}

type liveEventMsg struct {
	event liveEvent
}

// model tracks TUI state across all screens.
type model struct {
	screen screen
	cfg    appConfig

	store      *conversationStore
	controller *sessionController
	live       *liveChannelManager

	conversations []conversationListItem
	convCursor    int

	chatViewport viewport.Model
	composer     textinput.Model

	renaming     bool
	renameInput  textinput.Model
	renameTarget string

	liveStatus   channelStatus
	sending      bool
	promptView   string
	promptScroll int

	width  int
	height int
	status string
}

func main() {
	m, cleanup, err := newModel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatrelay failed: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	program := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "chatrelay failed: %v\n", err)
		os.Exit(1)
	}
}

func newModel() (model, func(), error) {
	paths, err := resolveDataPaths()
	if err != nil {
		return model{}, nil, err
	}
	cfg, err := loadConfig(paths)
	if err != nil {
		return model{}, nil, err
	}

	store := newConversationStore()
	api := newChatAPIClient(cfg.serverURL, cfg.userID)

	cache, cacheErr := openHistoryCache(paths.historyDB)
	if cacheErr != nil {
		// The mirror is optional; run without it.
		cache = nil
	}

	controller := newSessionController(api, store, cache, cfg.userID)
	live := newLiveChannelManager(cfg.liveURL, cfg.userID)

	composer := textinput.New()
	composer.Placeholder = "Type your message..."
	composer.CharLimit = 0
	composer.Focus()

	m := model{
		screen:     screenConversations,
		cfg:        cfg,
		store:      store,
		controller: controller,
		live:       live,
		composer:   composer,
		status:     "Loading conversations...",
	}
	if cacheErr != nil {
		m.status = "History mirror unavailable: " + cacheErr.Error()
	}

	cleanup := func() {
		live.Close()
		if cache != nil {
			_ = cache.Close()
		}
	}
	return m, cleanup, nil
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.bootstrapCmd(), m.connectLiveCmd(), m.waitForLiveCmd(), textinput.Blink)
}

func (m model) bootstrapCmd() tea.Cmd {
	controller := m.controller
	requested := m.cfg.requestedConversation
	return func() tea.Msg {
		return bootstrapDoneMsg{err: controller.bootstrap(context.Background(), requested)}
	}
}

func (m model) connectLiveCmd() tea.Cmd {
	live := m.live
	return func() tea.Msg {
		live.Connect()
		return nil
	}
}

func (m model) waitForLiveCmd() tea.Cmd {
	events := m.live.Events()
	return func() tea.Msg {
		return liveEventMsg{event: <-events}
	}
}

func (m model) sendCmd(text string) tea.Cmd {
	controller := m.controller
	return func() tea.Msg {
		outcome, err := controller.Send(context.Background(), text)
		return sendResultMsg{outcome: outcome, err: err}
	}
}

func (m model) switchCmd(conversationID string) tea.Cmd {
	controller := m.controller
	return func() tea.Msg {
		return switchDoneMsg{
			conversationID: conversationID,
			err:            controller.SwitchConversation(context.Background(), conversationID),
		}
	}
}

func (m model) loadMoreCmd() tea.Cmd {
	controller := m.controller
	conversationID := m.store.active()
	return func() tea.Msg {
		return pageLoadedMsg{
			conversationID: conversationID,
			err:            controller.LoadMore(context.Background()),
		}
	}
}

func (m model) newConversationCmd() tea.Cmd {
	controller := m.controller
	return func() tea.Msg {
		id, err := controller.NewConversation(context.Background(), defaultConversationName)
		return conversationCreatedMsg{conversationID: id, err: err}
	}
}

func (m model) renameCmd(conversationID, name string) tea.Cmd {
	controller := m.controller
	return func() tea.Msg {
		return renameDoneMsg{
			conversationID: conversationID,
			name:           name,
			err:            controller.Rename(context.Background(), conversationID, name),
		}
	}
}

func (m model) deleteCmd(conversationID string) tea.Cmd {
	controller := m.controller
	return func() tea.Msg {
		return deleteDoneMsg{
			conversationID: conversationID,
			err:            controller.Delete(context.Background(), conversationID),
		}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()
		m.composer.Width = max(20, m.width-6)
		m.renameInput.Width = max(20, m.width-20)
		m.refreshChatViewport()
		return m, nil

	case bootstrapDoneMsg:
		m.refreshConversations()
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		if active := m.store.active(); active != "" {
			m.screen = screenChat
			m.refreshChatViewport()
		}
		m.status = fmt.Sprintf("Loaded %d conversations", len(m.conversations))
		return m, nil

	case switchDoneMsg:
		m.refreshConversations()
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		m.refreshChatViewport()
		if name, ok := m.store.name(msg.conversationID); ok {
			m.status = "Opened " + name
		}
		return m, nil

	case pageLoadedMsg:
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		m.refreshChatViewport()
		m.status = "History loaded"
		return m, nil

	case sendResultMsg:
		m.sending = false
		if errors.Is(msg.err, errSendBlocked) {
			return m, nil
		}
		if msg.err != nil {
			m.status = "Send failed: " + msg.err.Error()
			return m, nil
		}
		m.composer.SetValue("")
		m.refreshConversations()
		m.refreshChatViewport()
		m.status = "Message sent"
		return m, nil

	case conversationCreatedMsg:
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		m.refreshConversations()
		m.convCursor = 0
		m.screen = screenChat
		m.refreshChatViewport()
		m.status = "New conversation created"
		return m, nil

	case renameDoneMsg:
		if msg.err != nil {
			m.status = "Rename failed: " + msg.err.Error()
			return m, nil
		}
		m.refreshConversations()
		m.status = fmt.Sprintf("Renamed to %q", msg.name)
		return m, nil

	case deleteDoneMsg:
		if msg.err != nil {
			m.status = "Delete failed: " + msg.err.Error()
			return m, nil
		}
		m.refreshConversations()
		m.convCursor = clamp(m.convCursor, 0, max(0, len(m.conversations)-1))
		m.refreshChatViewport()
		m.status = "Conversation deleted"
		return m, nil

	case liveEventMsg:
		cmd := m.waitForLiveCmd()
		switch msg.event.kind {
		case liveEventStatus:
			m.liveStatus = msg.event.status
		case liveEventMessage:
			if _, ok := m.controller.ReceivePush(msg.event.message); ok {
				m.refreshConversations()
				m.refreshChatViewport()
			}
		}
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.renaming {
		return m.handleRenameKey(msg)
	}
	switch m.screen {
	case screenConversations:
		return m.handleConversationsKey(msg)
	case screenChat:
		return m.handleChatKey(msg)
	case screenPrompt:
		return m.handlePromptKey(msg)
	default:
		return m, nil
	}
}

func (m model) handleRenameKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		name := strings.TrimSpace(m.renameInput.Value())
		target := m.renameTarget
		m.renaming = false
		m.renameTarget = ""
		if name == "" || target == "" {
			m.status = "Rename canceled"
			return m, nil
		}
		m.status = "Renaming..."
		return m, m.renameCmd(target, name)
	case "esc":
		m.renaming = false
		m.renameTarget = ""
		m.status = "Rename canceled"
		return m, nil
	}
	var cmd tea.Cmd
	m.renameInput, cmd = m.renameInput.Update(msg)
	return m, cmd
}

func (m model) handleConversationsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		m.convCursor = clamp(m.convCursor-1, 0, max(0, len(m.conversations)-1))
	case "down", "j":
		m.convCursor = clamp(m.convCursor+1, 0, max(0, len(m.conversations)-1))
	case "enter":
		item, ok := m.currentConversation()
		if !ok {
			m.status = "No conversation selected"
			return m, nil
		}
		m.screen = screenChat
		m.status = "Loading messages..."
		return m, m.switchCmd(item.id)
	case "n":
		m.status = "Creating conversation..."
		return m, m.newConversationCmd()
	case "R":
		item, ok := m.currentConversation()
		if !ok {
			m.status = "No conversation selected"
			return m, nil
		}
		input := textinput.New()
		input.SetValue(item.name)
		input.CursorEnd()
		input.Width = max(20, m.width-20)
		input.Focus()
		m.renameInput = input
		m.renameTarget = item.id
		m.renaming = true
		m.status = "Renaming " + item.name
	case "D":
		item, ok := m.currentConversation()
		if !ok {
			m.status = "No conversation selected"
			return m, nil
		}
		m.status = "Deleting..."
		return m, m.deleteCmd(item.id)
	case "r":
		m.status = "Reloading conversations..."
		return m, m.bootstrapCmd()
	case "q":
		return m, tea.Quit
	}
	return m, nil
}

func (m model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.screen = screenConversations
		m.refreshConversations()
		m.status = "Back to conversations"
		return m, nil
	case "enter":
		if m.sending || m.controller.sendPending() {
			m.status = "Still sending..."
			return m, nil
		}
		text := strings.TrimSpace(m.composer.Value())
		if text == "" {
			return m, nil
		}
		m.sending = true
		m.status = "Sending..."
		return m, m.sendCmd(text)
	case "ctrl+l":
		if !m.controller.hasMoreHistory() {
			m.status = "No older history"
			return m, nil
		}
		m.status = "Loading older messages..."
		return m, m.loadMoreCmd()
	case "ctrl+p":
		m.promptView = buildContext(m.store.activeMessages(), strings.TrimSpace(m.composer.Value()), maxContextMessages, maxPromptChars)
		m.promptScroll = 0
		m.screen = screenPrompt
		m.status = fmt.Sprintf("Prompt preview (%d chars)", len(m.promptView))
		return m, nil
	case "up":
		m.chatViewport.LineUp(1)
		return m, nil
	case "down":
		m.chatViewport.LineDown(1)
		return m, nil
	case "pgup":
		m.chatViewport.HalfViewUp()
		return m, nil
	case "pgdown":
		m.chatViewport.HalfViewDown()
		return m, nil
	}
	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	return m, cmd
}

func (m model) handlePromptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "j", "down":
		m.promptScroll++
	case "k", "up":
		m.promptScroll = max(0, m.promptScroll-1)
	case "esc", "b", "backspace", "q":
		m.screen = screenChat
		m.status = "Back to chat"
	}
	return m, nil
}

func (m *model) refreshConversations() {
	m.conversations = m.store.list()
	m.convCursor = clamp(m.convCursor, 0, max(0, len(m.conversations)-1))
}

func (m model) currentConversation() (conversationListItem, bool) {
	if len(m.conversations) == 0 || m.convCursor < 0 || m.convCursor >= len(m.conversations) {
		return conversationListItem{}, false
	}
	return m.conversations[m.convCursor], true
}

func (m *model) resizeViewport() {
	width := max(20, m.width-2)
	height := max(3, m.height-7)
	if m.chatViewport.Width == 0 {
		m.chatViewport = viewport.New(width, height)
		return
	}
	m.chatViewport.Width = width
	m.chatViewport.Height = height
}

func (m *model) refreshChatViewport() {
	if m.chatViewport.Width <= 0 || m.chatViewport.Height <= 0 {
		return
	}
	messages := m.store.activeMessages()
	if len(messages) == 0 {
		m.chatViewport.SetContent("No messages yet. Type below and press enter.")
		m.chatViewport.GotoTop()
		return
	}
	content := renderChatText(messages, m.chatViewport.Width, m.controller.hasMoreHistory())
	m.chatViewport.SetContent(content)
	m.chatViewport.GotoBottom()
}

func renderChatText(messages []chatMessage, width int, hasMore bool) string {
	maxWidth := max(20, width-2)
	chunks := make([]string, 0, len(messages)+1)
	if hasMore {
		chunks = append(chunks, helpStyle.Render("-- older history available (ctrl+l) --"))
	}
	for _, msg := range messages {
		header := strings.TrimSpace(fmt.Sprintf("%s  %s", formatMessageTime(msg.CreatedAt), roleLabel(msg.Sender)))
		body := msg.Content
		if strings.TrimSpace(body) == "" {
			body = "(no text content)"
		}
		wrapped := wrapText(body, maxWidth)
		style := senderStyle(msg.Sender)
		chunks = append(chunks, style.Bold(true).Render(header)+"\n"+style.Render(indentLines(wrapped, "  ")))
	}
	return strings.Join(chunks, "\n\n")
}

func wrapText(text string, width int) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	wrapped := wordwrap.String(trimmed, width)
	return strings.ReplaceAll(wrapped, "\r", "")
}

func indentLines(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for idx := range lines {
		lines[idx] = prefix + lines[idx]
	}
	return strings.Join(lines, "\n")
}

func senderStyle(sender string) lipgloss.Style {
	if sender == senderUser {
		return roleUserStyle
	}
	return roleAIStyle
}

func formatMessageTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

func (m model) View() string {
	if m.width <= 0 || m.height <= 0 {
		return "Initializing chatrelay..."
	}
	header := m.renderHeader()
	body := m.renderBody()
	footer := helpStyle.Render(m.status)
	return header + "\n" + body + "\n" + footer
}

func (m model) renderHeader() string {
	title := "chatrelay"
	switch m.screen {
	case screenConversations:
		title += " | Conversations"
	case screenChat:
		title += " | Chat"
		if name, ok := m.store.name(m.store.active()); ok {
			title += " | " + name
		}
	case screenPrompt:
		title += " | Prompt Preview"
	}

	live := "live:" + m.liveStatus.String()
	if m.liveStatus == channelConnected {
		live = liveUpStyle.Render(live)
	} else {
		live = liveDownStyle.Render(live)
	}
	return titleStyle.Render(title) + "  " + live + "\n" + helpStyle.Render(m.renderHelp())
}

func (m model) renderHelp() string {
	if m.renaming {
		return "enter: save name | esc: cancel"
	}
	switch m.screen {
	case screenConversations:
		return "up/down: move | enter: open | n: new | R: rename | D: delete | r: reload | q: quit"
	case screenChat:
		return "enter: send | ctrl+l: older | ctrl+p: prompt | up/down/pgup/pgdown: scroll | esc: back | ctrl+c: quit"
	case screenPrompt:
		return "j/k: scroll | esc: back"
	default:
		return "ctrl+c: quit"
	}
}

func (m model) renderBody() string {
	if m.renaming {
		return "Rename conversation:\n\n  " + m.renameInput.View()
	}
	switch m.screen {
	case screenConversations:
		return m.renderConversations()
	case screenChat:
		return m.renderChat()
	case screenPrompt:
		return m.renderPrompt()
	default:
		return "Unknown screen"
	}
}

func (m model) renderConversations() string {
	if len(m.conversations) == 0 {
		return "No conversations yet. Press n to start one."
	}
	visible := max(1, m.height-4)
	offset := listOffset(m.convCursor, len(m.conversations), visible)
	activeID := m.store.active()

	lines := make([]string, 0, visible)
	for idx := offset; idx < min(len(m.conversations), offset+visible); idx++ {
		item := m.conversations[idx]
		marker := " "
		if item.id == activeID {
			marker = "*"
		}
		line := fmt.Sprintf(" %s %s  %s  msgs:%d", marker, item.name, formatTimeForList(item.updatedAt), item.messageCount)
		if idx == m.convCursor {
			line = selectedStyle.Render(">" + line[1:])
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m model) renderChat() string {
	if m.chatViewport.Width <= 0 || m.chatViewport.Height <= 0 {
		return "Resizing chat viewport..."
	}
	composer := m.composer.View()
	if m.sending {
		composer += "  " + helpStyle.Render("(sending...)")
	}
	return m.chatViewport.View() + "\n" + strings.Repeat("-", max(20, m.width-1)) + "\n" + composer
}

func (m model) renderPrompt() string {
	lines := strings.Split(m.promptView, "\n")
	visible := max(1, m.height-4)
	offset := clamp(m.promptScroll, 0, max(0, len(lines)-visible))
	end := min(len(lines), offset+visible)
	return strings.Join(lines[offset:end], "\n")
}

func formatTimeForList(ts time.Time) string {
	return ts.Local().Format("2006-01-02 15:04:05")
}

func listOffset(cursor, total, visible int) int {
	if total <= visible {
		return 0
	}
	offset := cursor - visible/2
	maxOffset := total - visible
	return clamp(offset, 0, maxOffset)
}

func clamp(value, low, high int) int {
	if high < low {
		return low
	}
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
