package upkeep

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"anima/internal/config"
	"anima/internal/logging"
	"anima/internal/loop"
	"anima/internal/substrate"
)

// Sender delivers one digest. An SMTP implementation can be dropped in;
// the default just logs.
type Sender interface {
	Send(to, from, subject, body string) error
}

// LogSender writes digests to the log instead of the wire.
type LogSender struct{}

func (LogSender) Send(to, from, subject, body string) error {
	logging.Upkeep().Infow("email digest",
		"to", to, "from", from, "subject", subject, "bytes", len(body))
	return nil
}

type emailState struct {
	LastEmailTime time.Time `json:"lastEmailTime"`
	EmailsSent    int       `json:"emailsSent"`
}

// Email sends a periodic activity digest built from the progress log.
type Email struct {
	cfg     config.EmailConfig
	reader  *substrate.Reader
	sender  Sender
	clock   substrate.Clock
	emitter *loop.Emitter

	statePath string
}

// NewEmail wires the digest scheduler. Scheduler state lives in the
// state dir at <statePath>/config/email-scheduler-state.json, outside
// the substrate the agent edits.
func NewEmail(cfg config.EmailConfig, statePath string, reader *substrate.Reader,
	sender Sender, clock substrate.Clock, emitter *loop.Emitter) *Email {
	if sender == nil {
		sender = LogSender{}
	}
	return &Email{
		cfg:       cfg,
		reader:    reader,
		sender:    sender,
		clock:     clock,
		emitter:   emitter,
		statePath: filepath.Join(statePath, "config", "email-scheduler-state.json"),
	}
}

// Run checks the schedule until the context ends.
func (e *Email) Run(ctx context.Context) error {
	if !e.cfg.Enabled || e.cfg.Recipient == "" {
		logging.Upkeep().Debugw("email digests disabled")
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(e.cfg.Interval() / 4)
	defer ticker.Stop()
	for {
		if err := e.RunOnce(); err != nil {
			logging.Upkeep().Errorw("digest failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce sends a digest if the interval has elapsed.
func (e *Email) RunOnce() error {
	now := e.clock.Now().UTC()
	state := e.loadState()
	if !state.LastEmailTime.IsZero() && now.Sub(state.LastEmailTime) < e.cfg.Interval() {
		return nil
	}

	subject := fmt.Sprintf("Agent digest %s", now.Format("2006-01-02"))
	body := e.composeDigest(state.LastEmailTime)
	if err := e.sender.Send(e.cfg.Recipient, e.cfg.From, subject, body); err != nil {
		return fmt.Errorf("send digest: %w", err)
	}

	state.LastEmailTime = now
	state.EmailsSent++
	if err := e.saveState(state); err != nil {
		return err
	}

	logging.Upkeep().Infow("digest sent", "to", e.cfg.Recipient, "total", state.EmailsSent)
	if e.emitter != nil {
		e.emitter.Emit(loop.EventEmailSent, map[string]any{
			"recipient":  e.cfg.Recipient,
			"emailsSent": state.EmailsSent,
		})
	}
	return nil
}

// composeDigest collects progress entries newer than since. With no
// readable progress log the digest says so rather than failing.
func (e *Email) composeDigest(since time.Time) string {
	_, content, err := e.reader.Read(substrate.FileProgress)
	if err != nil {
		return "No progress log available.\n"
	}

	var sb strings.Builder
	sb.WriteString("Recent activity:\n\n")
	count := 0
	for _, line := range strings.Split(content, "\n") {
		ts, ok := entryTime(line)
		if !ok || (!since.IsZero() && !ts.After(since)) {
			continue
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
		count++
	}
	if count == 0 {
		return "No activity since the last digest.\n"
	}
	return sb.String()
}

// entryTime parses the leading "[ts]" of an append-format line.
func entryTime(line string) (time.Time, bool) {
	if !strings.HasPrefix(line, "[") {
		return time.Time{}, false
	}
	end := strings.IndexByte(line, ']')
	if end < 0 {
		return time.Time{}, false
	}
	ts, err := time.Parse(substrate.TimestampLayout, line[1:end])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func (e *Email) loadState() emailState {
	var state emailState
	raw, err := os.ReadFile(e.statePath)
	if err != nil {
		return state
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		logging.Upkeep().Warnw("email state unreadable, resetting", "error", err)
		return emailState{}
	}
	return state
}

func (e *Email) saveState(state emailState) error {
	if err := os.MkdirAll(filepath.Dir(e.statePath), 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return os.WriteFile(e.statePath, raw, 0o644)
}
