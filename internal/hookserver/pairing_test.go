package hookserver

import (
	"testing"
	"time"
)

func TestPendingMap_PutThenTakeMostRecent(t *testing.T) {
	pm := newPendingMap(time.Minute)
	pm.put(&pendingEntry{toolCallID: "a", workerID: "w1", sessionID: "s1", toolName: "bash", startTime: time.Now()})
	pm.put(&pendingEntry{toolCallID: "b", workerID: "w1", sessionID: "s1", toolName: "bash", startTime: time.Now()})

	entry, ok := pm.takeMostRecent("w1", "s1", "bash")
	if !ok {
		t.Fatal("expected a pending entry")
	}
	if entry.toolCallID != "b" {
		t.Errorf("expected most recently inserted entry (b), got %s", entry.toolCallID)
	}

	entry, ok = pm.takeMostRecent("w1", "s1", "bash")
	if !ok || entry.toolCallID != "a" {
		t.Errorf("expected remaining entry (a), got ok=%v entry=%v", ok, entry)
	}

	if _, ok := pm.takeMostRecent("w1", "s1", "bash"); ok {
		t.Error("expected map to be empty after draining both entries")
	}
}

func TestPendingMap_TakeMostRecent_NoMatchReturnsFalse(t *testing.T) {
	pm := newPendingMap(time.Minute)
	if _, ok := pm.takeMostRecent("missing", "session", "tool"); ok {
		t.Error("expected no match for unknown key")
	}
}

func TestPendingMap_CollectExpired(t *testing.T) {
	pm := newPendingMap(10 * time.Millisecond)
	pm.put(&pendingEntry{toolCallID: "stale", workerID: "w1", sessionID: "s1", toolName: "bash", startTime: time.Now().Add(-time.Hour)})
	pm.put(&pendingEntry{toolCallID: "fresh", workerID: "w1", sessionID: "s1", toolName: "grep", startTime: time.Now()})

	expired := pm.collectExpired()
	if len(expired) != 1 || expired[0].toolCallID != "stale" {
		t.Fatalf("expected exactly the stale entry to expire, got %+v", expired)
	}

	if _, ok := pm.takeMostRecent("w1", "s1", "bash"); ok {
		t.Error("expired entry should have been removed from the map")
	}
	if _, ok := pm.takeMostRecent("w1", "s1", "grep"); !ok {
		t.Error("fresh entry should still be present")
	}
}

func TestComputeToolCallID_Deterministic(t *testing.T) {
	now := time.Now().UnixMilli()
	a := computeToolCallID("w1", "s1", "bash", now)
	b := computeToolCallID("w1", "s1", "bash", now)
	if a != b {
		t.Errorf("expected deterministic tool_call_id, got %s != %s", a, b)
	}

	c := computeToolCallID("w1", "s1", "grep", now)
	if a == c {
		t.Error("expected different tool names to produce different ids")
	}
}

func TestClassifyOutcome(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     string
	}{
		{"empty body is success", "", "success"},
		{"no error field is success", `{"result":"ok"}`, "success"},
		{"top level error field is failed", `{"error":"boom"}`, "failed"},
		{"nested error field does not count", `{"result":{"error":"nested"}}`, "success"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := string(classifyOutcome([]byte(tc.response)))
			if got != tc.want {
				t.Errorf("classifyOutcome(%q) = %s, want %s", tc.response, got, tc.want)
			}
		})
	}
}
