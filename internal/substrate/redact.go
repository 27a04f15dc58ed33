package substrate

import (
	"regexp"
	"strings"

	"anima/internal/logging"
)

// secretPattern pairs a detector with the label logged when it fires.
// The replacement keeps surrounding text intact so documents stay legible.
type secretPattern struct {
	kind string
	re   *regexp.Regexp
}

var secretPatterns = []secretPattern{
	{"aws-access-key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"api-key", regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}\b`)},
	{"bearer-token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{16,}=*`)},
	{"key-assignment", regexp.MustCompile(`(?i)\b(api[_-]?key|secret|token|password)\s*[:=]\s*["']?[A-Za-z0-9._~+/-]{12,}["']?`)},
}

var pemMarker = regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----(?s:.*?)(?:-----END [A-Z ]*PRIVATE KEY-----|\z)`)

// Redact replaces detected secrets with [REDACTED] and reports the kinds
// found. The raw secret is never logged; only its kind is.
func Redact(content string) (string, []string) {
	var kinds []string

	if pemMarker.MatchString(content) {
		content = pemMarker.ReplaceAllString(content, "[REDACTED PRIVATE KEY]")
		kinds = append(kinds, "private-key")
	}

	for _, p := range secretPatterns {
		if !p.re.MatchString(content) {
			continue
		}
		if p.kind == "key-assignment" {
			content = p.re.ReplaceAllStringFunc(content, func(m string) string {
				if i := strings.IndexAny(m, ":="); i >= 0 {
					return m[:i+1] + " [REDACTED]"
				}
				return "[REDACTED]"
			})
		} else {
			content = p.re.ReplaceAllString(content, "[REDACTED]")
		}
		kinds = append(kinds, p.kind)
	}

	return content, kinds
}

// redactAndWarn applies Redact and logs one warning per secret kind.
func redactAndWarn(id FileID, content string) string {
	clean, kinds := Redact(content)
	for _, k := range kinds {
		logging.Substrate().Warnw("redacted secret before write",
			"file", string(id),
			"kind", k,
		)
	}
	return clean
}
