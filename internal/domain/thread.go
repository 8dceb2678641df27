package domain

import "time"

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks a message sent by the user.
	RoleUser Role = "user"
	// RoleAssistant marks a generated answer.
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn. Content grows incrementally while
// a streamed answer is being produced; ResponseTime is attached once
// generation completes.
type Message struct {
	Role         Role
	Content      string
	ResponseTime float64 // seconds, zero until generation finishes
}

// Thread is a process-lifetime conversation. Threads are deliberately not
// persisted across restarts, unlike document storage and caches.
type Thread struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []Message
}

// MessageCount returns the number of messages in the thread.
func (t Thread) MessageCount() int { return len(t.Messages) }
