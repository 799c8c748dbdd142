package models

import (
	"encoding/json"
	"time"
)

// OutputEventKind discriminates a parsed line of worker stdout.
type OutputEventKind string

const (
	OutputSystem      OutputEventKind = "system"
	OutputText        OutputEventKind = "text"
	OutputToolUse     OutputEventKind = "tool_use"
	OutputToolResult  OutputEventKind = "tool_result"
	OutputError       OutputEventKind = "error"
	OutputResult      OutputEventKind = "result"
	OutputStreamEvent OutputEventKind = "stream_event"
)

// OutputEventMeta holds metadata computed per event by the stream parser.
type OutputEventMeta struct {
	ByteLength   int    `json:"byte_length"`
	LineCount    int    `json:"line_count"`
	LanguageTag  string `json:"language_tag,omitempty"`
	ParseError   bool   `json:"parse_error,omitempty"`
}

// Usage carries the token/cost accounting the worker reports on result events.
type Usage struct {
	InputTokens     int64   `json:"input_tokens,omitempty"`
	OutputTokens    int64   `json:"output_tokens,omitempty"`
	CacheReadTokens int64   `json:"cache_read_tokens,omitempty"`
	TotalCostUSD    float64 `json:"total_cost_usd,omitempty"`
}

// OutputEvent is one line parsed from a worker's stdout stream.
type OutputEvent struct {
	WorkerID  string          `json:"worker_id"`
	SessionID string          `json:"session_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      OutputEventKind `json:"kind"`
	Raw       string          `json:"raw"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Usage     *Usage          `json:"usage,omitempty"`
	Meta      OutputEventMeta `json:"meta"`
	Status    string          `json:"status,omitempty"`
}
