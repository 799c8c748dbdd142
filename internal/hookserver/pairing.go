package hookserver

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

type pendingEntry struct {
	toolCallID string
	workerID   string
	sessionID  string
	toolName   string
	input      json.RawMessage
	startTime  time.Time
}

// pendingMap tracks PreToolUse entries awaiting a matching PostToolUse,
// keyed by (worker_id, session_id, tool_name) and sharded with one mutex
// per shard so concurrent pairings across unrelated workers never
// contend — required to sustain the spec's >500 events/s target.
type pendingMap struct {
	shards [shardCount]*shard
	maxAge time.Duration
}

type shard struct {
	mu      sync.Mutex
	entries map[string][]*pendingEntry
}

func newPendingMap(maxAge time.Duration) *pendingMap {
	pm := &pendingMap{maxAge: maxAge}
	for i := range pm.shards {
		pm.shards[i] = &shard{entries: make(map[string][]*pendingEntry)}
	}
	return pm
}

func pairKey(workerID, sessionID, toolName string) string {
	return workerID + "\x00" + sessionID + "\x00" + toolName
}

func (pm *pendingMap) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return pm.shards[h.Sum32()%shardCount]
}

// put records a new PreToolUse pending entry.
func (pm *pendingMap) put(e *pendingEntry) {
	key := pairKey(e.workerID, e.sessionID, e.toolName)
	sh := pm.shardFor(key)
	sh.mu.Lock()
	sh.entries[key] = append(sh.entries[key], e)
	sh.mu.Unlock()
}

// takeMostRecent removes and returns the most recently recorded entry for
// (worker_id, session_id, tool_name), matching the spec's "most recent
// entry with matching key" PostToolUse pairing rule.
func (pm *pendingMap) takeMostRecent(workerID, sessionID, toolName string) (*pendingEntry, bool) {
	key := pairKey(workerID, sessionID, toolName)
	sh := pm.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	list := sh.entries[key]
	if len(list) == 0 {
		return nil, false
	}
	entry := list[len(list)-1]
	list = list[:len(list)-1]
	if len(list) == 0 {
		delete(sh.entries, key)
	} else {
		sh.entries[key] = list
	}
	return entry, true
}

// collectExpired scans every shard for entries older than maxAge, removes
// them, and returns them for pairing-lost reporting.
func (pm *pendingMap) collectExpired() []*pendingEntry {
	var expired []*pendingEntry
	cutoff := time.Now().Add(-pm.maxAge)

	for _, sh := range pm.shards {
		sh.mu.Lock()
		for key, list := range sh.entries {
			var kept []*pendingEntry
			for _, e := range list {
				if e.startTime.Before(cutoff) {
					expired = append(expired, e)
				} else {
					kept = append(kept, e)
				}
			}
			if len(kept) == 0 {
				delete(sh.entries, key)
			} else {
				sh.entries[key] = kept
			}
		}
		sh.mu.Unlock()
	}
	return expired
}

// computeToolCallID derives the deterministic tool_call_id from
// {worker_id, session_id, tool_name, now_ms} as specified in §4.2.
func computeToolCallID(workerID, sessionID, toolName string, nowMs int64) string {
	h := sha256.New()
	_, _ = h.Write([]byte(workerID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(sessionID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(toolName))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(time.UnixMilli(nowMs).String()))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
