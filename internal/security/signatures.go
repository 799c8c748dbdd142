// Package security classifies every PreToolUse call against fast
// signatures, per-session expectations, and an async LLM semantic check,
// fusing the three into a SecurityAlert and recommended action.
//
// Grounded on internal/tools/security/shell_parser.go's quote-aware
// metacharacter scanning (adapted here from a generic "is this shell
// command safe" check into named attack-class signatures) and on
// internal/agent/providers/errors.go's ClassifyError pattern-matching
// style, reused for classifying the light LLM's own failures during
// semantic classification.
package security

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ralphline/ralphline/pkg/models"
)

// Signature is one named, regex-backed detection rule.
type Signature struct {
	Category string
	Severity models.Severity
	pattern  *regexp.Regexp
}

// signatures is the static set matched against serialised tool input, per
// §4.5 step 1: arbitrary shell exec, curl|sh patterns, rm -rf /, dd
// if=/dev/, mkfs.*, credential-file reads, and exfiltration-shaped network
// calls.
var signatures = []Signature{
	{Category: "shell_exec", Severity: models.SeverityMedium, pattern: regexp.MustCompile(`\bbash\s+-c\b|\bsh\s+-c\b|/bin/(ba)?sh\b`)},
	{Category: "pipe_to_shell", Severity: models.SeverityHigh, pattern: regexp.MustCompile(`curl[^"']*\|\s*(sudo\s+)?(sh|bash)\b|wget[^"']*\|\s*(sudo\s+)?(sh|bash)\b`)},
	{Category: "destructive_delete", Severity: models.SeverityCritical, pattern: regexp.MustCompile(`rm\s+-rf\s+/(\s|$|")|rm\s+-rf\s+\*`)},
	{Category: "raw_disk_write", Severity: models.SeverityCritical, pattern: regexp.MustCompile(`\bdd\s+if=/dev/|\bdd\s+of=/dev/`)},
	{Category: "filesystem_format", Severity: models.SeverityCritical, pattern: regexp.MustCompile(`\bmkfs(\.\w+)?\b`)},
	{Category: "credential_read", Severity: models.SeverityHigh, pattern: regexp.MustCompile(`\.ssh/id_\w+|\.aws/credentials|\.env\b|/etc/shadow|\.netrc\b`)},
	{Category: "exfiltration", Severity: models.SeverityHigh, pattern: regexp.MustCompile(`curl\s+(-[a-zA-Z]+\s+)*-?-?(data|upload-file|T)\b.*https?://|scp\s+.*@.*:`)},
}

// MatchSignatures scans the tool call's serialised input against every
// signature, returning the matched categories and the max severity across
// them (0 matches => SeverityLow, score 0).
func MatchSignatures(input json.RawMessage) (matches []string, severity models.Severity, score float64) {
	text := flattenForScan(input)
	severity = models.SeverityLow

	for _, sig := range signatures {
		if sig.pattern.MatchString(text) {
			matches = append(matches, sig.Category)
			severity = models.Max(severity, sig.Severity)
		}
	}
	if len(matches) > 0 {
		score = 0.3 + 0.2*float64(severity.Rank())
		if score > 1 {
			score = 1
		}
	}
	return matches, severity, score
}

// flattenForScan renders structured tool input back to a plain string so
// the regex signatures can scan it regardless of JSON shape, mirroring how
// shell_parser.go operates directly on a command string rather than a
// parsed AST.
func flattenForScan(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(input, &asString); err == nil {
		return asString
	}

	var generic any
	if err := json.Unmarshal(input, &generic); err != nil {
		return string(input)
	}
	var sb strings.Builder
	flattenValue(generic, &sb)
	return sb.String()
}

func flattenValue(v any, sb *strings.Builder) {
	switch t := v.(type) {
	case string:
		sb.WriteString(t)
		sb.WriteString(" ")
	case map[string]any:
		for _, val := range t {
			flattenValue(val, sb)
		}
	case []any:
		for _, val := range t {
			flattenValue(val, sb)
		}
	}
}
