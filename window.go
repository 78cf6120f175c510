package main

import "strings"

const (
	maxContextMessages = 10
	maxPromptChars     = 4000

	promptPreamble = "You are an AI assistant in a chat conversation. Respond to the user's latest message considering the following context:\n\n"
)

func roleLabel(sender string) string {
	if sender == senderUser {
		return "USER"
	}
	return "ASSISTANT"
}

// contextWindow selects the most recent maxMessages entries of the loaded
// log, oldest-first, as role-tagged entries for the send request.
func contextWindow(messages []chatMessage, maxMessages int) []contextEntry {
	if maxMessages <= 0 {
		maxMessages = maxContextMessages
	}
	start := len(messages) - maxMessages
	if start < 0 {
		start = 0
	}
	window := make([]contextEntry, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		role := "assistant"
		if msg.Sender == senderUser {
			role = "user"
		}
		window = append(window, contextEntry{Role: role, Content: msg.Content})
	}
	return window
}

// buildContext serializes the bounded context window plus the new user
// message into the prompt sent upstream. Deterministic; no side effects.
func buildContext(messages []chatMessage, newMessage string, maxMessages, maxChars int) string {
	if maxChars <= 0 {
		maxChars = maxPromptChars
	}

	var b strings.Builder
	b.WriteString(promptPreamble)
	for _, entry := range contextWindow(messages, maxMessages) {
		b.WriteString(strings.ToUpper(entry.Role))
		b.WriteString(": ")
		b.WriteString(entry.Content)
		b.WriteString("\n")
	}
	b.WriteString("USER: ")
	b.WriteString(newMessage)
	b.WriteString("\nASSISTANT: ")

	return truncatePrompt(b.String(), maxChars)
}

// truncatePrompt drops characters from the front so the most recent context
// and the continuation cue survive intact.
func truncatePrompt(prompt string, maxChars int) string {
	runes := []rune(prompt)
	if len(runes) <= maxChars {
		return prompt
	}
	return string(runes[len(runes)-maxChars:])
}
