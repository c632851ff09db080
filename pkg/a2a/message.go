package a2a

import (
	"strings"
	"time"
)

// Message roles. Every message appended to history must carry one.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

/*
Message represents all non‑artifact communication between client & agent.
*/
type Message struct {
	Role      string         `json:"role"` // "user" or "agent"
	Parts     []Part         `json:"parts"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewTextMessage(role string, text string) *Message {
	return &Message{
		Role: role,
		Parts: []Part{
			{Type: PartTypeText, Text: text},
		},
	}
}

func NewDataMessage(role string, data map[string]any) *Message {
	return &Message{
		Role: role,
		Parts: []Part{
			{Type: PartTypeData, Data: data},
		},
	}
}

func (msg *Message) String() string {
	var sb strings.Builder

	for _, part := range msg.Parts {
		sb.WriteString(part.Text)
	}

	return sb.String()
}
