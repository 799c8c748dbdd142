package worker

import (
	"testing"

	"github.com/ralphline/ralphline/pkg/models"
)

func TestKindFromDiscriminator(t *testing.T) {
	tests := []struct {
		name   string
		parsed map[string]any
		want   models.OutputEventKind
	}{
		{"type field", map[string]any{"type": "tool_use"}, models.OutputToolUse},
		{"kind field", map[string]any{"kind": "result"}, models.OutputResult},
		{"event field", map[string]any{"event": "stream_event"}, models.OutputStreamEvent},
		{"type takes priority over kind", map[string]any{"type": "error", "kind": "result"}, models.OutputError},
		{"unrecognised value falls back to text", map[string]any{"type": "something_else"}, models.OutputText},
		{"no discriminator at all", map[string]any{"message": "hi"}, models.OutputText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := kindFromDiscriminator(tt.parsed)
			if got != tt.want {
				t.Errorf("kindFromDiscriminator(%v) = %q, want %q", tt.parsed, got, tt.want)
			}
		})
	}
}

func TestExtractUsage(t *testing.T) {
	t.Run("no usage field", func(t *testing.T) {
		if got := extractUsage(map[string]any{"type": "text"}); got != nil {
			t.Errorf("expected nil, got %+v", got)
		}
	})

	t.Run("usage field present but all zero", func(t *testing.T) {
		parsed := map[string]any{"usage": map[string]any{"input_tokens": float64(0)}}
		if got := extractUsage(parsed); got != nil {
			t.Errorf("expected nil for all-zero usage, got %+v", got)
		}
	})

	t.Run("populated usage", func(t *testing.T) {
		parsed := map[string]any{
			"usage": map[string]any{
				"input_tokens":      float64(120),
				"output_tokens":     float64(45),
				"cache_read_tokens": float64(10),
				"total_cost_usd":    0.0032,
			},
		}
		got := extractUsage(parsed)
		if got == nil {
			t.Fatal("expected non-nil usage")
		}
		if got.InputTokens != 120 || got.OutputTokens != 45 || got.CacheReadTokens != 10 {
			t.Errorf("unexpected token fields: %+v", got)
		}
		if got.TotalCostUSD != 0.0032 {
			t.Errorf("expected cost 0.0032, got %v", got.TotalCostUSD)
		}
	})
}

func TestClassifyLine_MalformedJSONFallsBackToText(t *testing.T) {
	m := &Manager{logger: newTestLogger()}
	mw := &managedWorker{worker: &models.Worker{ID: "w1", SessionID: "s1"}}

	evt := m.classifyLine(mw, "not json at all {{{")

	if evt.Kind != models.OutputText {
		t.Errorf("expected OutputText, got %q", evt.Kind)
	}
	if !evt.Meta.ParseError {
		t.Error("expected ParseError to be set for malformed JSON")
	}
	if evt.Usage != nil {
		t.Error("expected nil usage for malformed line")
	}
}

func TestClassifyLine_StructuredResultAccumulatesUsage(t *testing.T) {
	m := &Manager{logger: newTestLogger()}
	mw := &managedWorker{worker: &models.Worker{ID: "w1", SessionID: "s1"}}

	line := `{"type":"result","usage":{"input_tokens":100,"output_tokens":20,"total_cost_usd":0.001}}`
	evt := m.classifyLine(mw, line)

	if evt.Kind != models.OutputResult {
		t.Errorf("expected OutputResult, got %q", evt.Kind)
	}
	if evt.Usage == nil {
		t.Fatal("expected usage to be populated")
	}
	if evt.Usage.InputTokens != 100 || evt.Usage.OutputTokens != 20 {
		t.Errorf("unexpected usage: %+v", evt.Usage)
	}

	mw.mu.Lock()
	stats := mw.stats
	mw.mu.Unlock()
	if stats.InputTokens != 100 || stats.OutputTokens != 20 {
		t.Errorf("expected accumulated stats to match usage, got %+v", stats)
	}
}

func TestDetectLanguageTag(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"```go\nfunc main() {}\n```", "go"},
		{"package worker\n\nfunc foo() {}", "go"},
		{"def foo():\n    pass", "python"},
		{"import os", "python"},
		{"function foo() { const x = 1; }", "javascript"},
		{"just some plain text", ""},
	}

	for _, tt := range tests {
		got := detectLanguageTag(tt.content)
		if got != tt.want {
			t.Errorf("detectLanguageTag(%q) = %q, want %q", tt.content, got, tt.want)
		}
	}
}

func TestComputeMeta(t *testing.T) {
	meta := computeMeta("line one\nline two", true)
	if meta.ByteLength != len("line one\nline two") {
		t.Errorf("unexpected byte length: %d", meta.ByteLength)
	}
	if meta.LineCount != 2 {
		t.Errorf("expected line count 2, got %d", meta.LineCount)
	}
	if !meta.ParseError {
		t.Error("expected ParseError true")
	}
}
