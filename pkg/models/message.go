package models

import (
	"time"
)

// ChannelType identifies the origin of a conversation turn inside the
// meta-agent loop. Ralphline drives a single worker-facing channel, but the
// loop's context/session plumbing keeps the discriminator for forward
// compatibility with the teacher's multi-channel shape.
type ChannelType string

const (
	ChannelWorker   ChannelType = "worker"
	ChannelUI       ChannelType = "ui"
	ChannelAPI      ChannelType = "api"
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
)

// Direction indicates if a message is inbound or outbound.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is the meta-agent loop's unified turn format: a single entry in
// the conversation the orchestrator holds with the LLM provider.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Channel     ChannelType    `json:"channel"`
	ChannelID   string         `json:"channel_id,omitempty"`
	Direction   Direction      `json:"direction"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Session is a conversation thread held by the meta-agent loop: the running
// exchange between the orchestrator and the LLM for one pipeline run.
// Distinct from WorkerSession, which tracks a single worker CLI turn.
type Session struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	Channel   ChannelType    `json:"channel"`
	ChannelID string         `json:"channel_id,omitempty"`
	Key       string         `json:"key"`
	Title     string         `json:"title,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
