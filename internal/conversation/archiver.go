package conversation

import (
	"strings"
	"time"

	"anima/internal/config"
)

// Archiver decides when conversation history moves to a dated archive
// file and how the split is made. The live file keeps its headers and
// the most recent lines.
type Archiver struct {
	cfg config.ArchiveConfig
}

// NewArchiver builds an archiver from its thresholds.
func NewArchiver(cfg config.ArchiveConfig) *Archiver {
	return &Archiver{cfg: cfg}
}

// Enabled reports whether archiving is configured on.
func (a *Archiver) Enabled() bool {
	return a != nil && a.cfg.Enabled
}

// bodyLines returns the non-header lines of the conversation.
func bodyLines(content string) []string {
	var body []string
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		body = append(body, line)
	}
	return body
}

// ShouldArchive reports whether either threshold has tripped: the
// non-header line count exceeds the size threshold, or the time since
// the last archive pass exceeds the time threshold.
func (a *Archiver) ShouldArchive(content string, lastArchive, now time.Time) bool {
	if !a.Enabled() {
		return false
	}
	if len(bodyLines(content)) > a.sizeThreshold() {
		return true
	}
	return !lastArchive.IsZero() && now.Sub(lastArchive) > a.cfg.TimeThreshold()
}

// Split partitions the conversation for archiving. archived carries the
// lines leaving the live file; live keeps the headers and the most
// recent LinesToKeep body lines. A conversation at or under the keep
// count archives nothing.
func (a *Archiver) Split(content string) (live, archived string) {
	keep := a.linesToKeep()
	body := bodyLines(content)
	if len(body) <= keep {
		return content, ""
	}

	var headers []string
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			headers = append(headers, line)
		}
	}

	cut := len(body) - keep
	archived = strings.Join(body[:cut], "\n") + "\n"

	var sb strings.Builder
	if len(headers) > 0 {
		sb.WriteString(strings.Join(headers, "\n"))
		sb.WriteString("\n\n")
	}
	sb.WriteString(strings.Join(body[cut:], "\n"))
	sb.WriteString("\n")
	return sb.String(), archived
}

func (a *Archiver) sizeThreshold() int {
	if a.cfg.SizeThreshold > 0 {
		return a.cfg.SizeThreshold
	}
	return 500
}

func (a *Archiver) linesToKeep() int {
	if a.cfg.LinesToKeep > 0 {
		return a.cfg.LinesToKeep
	}
	return 50
}
