package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"anima/internal/logging"
)

// CLILauncher runs sessions through the `claude` CLI subprocess with
// stream-json on both sides: prompts go in as NDJSON user messages on
// stdin, typed messages come back on stdout. Injection writes further
// user messages to the same stdin, so the queue drains in FIFO order.
type CLILauncher struct {
	// Binary overrides the executable name; default "claude".
	Binary string

	tracker *ProcessTracker
}

// NewCLILauncher builds a launcher. tracker may be nil.
func NewCLILauncher(tracker *ProcessTracker) *CLILauncher {
	return &CLILauncher{Binary: "claude", tracker: tracker}
}

// Launch runs one session, retrying MaxRetries times after any failure
// with a fixed delay between attempts.
func (l *CLILauncher) Launch(ctx context.Context, req Request, opts Options) (Result, error) {
	attempts := opts.MaxRetries + 1
	var res Result
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			logging.Session().Infow("retrying session launch",
				"attempt", attempt+1, "of", attempts)
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(opts.RetryDelay):
			}
		}
		res, err = l.launchOnce(ctx, req, opts)
		if err == nil && res.Success {
			return res, nil
		}
		// Parent cancellation is not retryable.
		if ctx.Err() != nil {
			break
		}
	}
	return res, err
}

func (l *CLILauncher) launchOnce(ctx context.Context, req Request, opts Options) (Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	sessionCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}

	cmd := exec.CommandContext(sessionCtx, l.binary(), args...)
	if opts.CWD != "" {
		cmd.Dir = opts.CWD
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{Err: err}, fmt.Errorf("open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{Err: err}, fmt.Errorf("open stdout: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{Err: err}, fmt.Errorf("start %s: %w", l.binary(), err)
	}

	pid := cmd.Process.Pid
	if l.tracker != nil {
		l.tracker.Register(pid)
	}

	writer := &stdinWriter{w: stdin}
	if err := writer.sendUser(req.UserMessage); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return Result{Err: err}, err
	}

	// Injection pump. Messages queued before the session started are
	// delivered first; the pump exits when the session context closes.
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		if opts.Injector == nil {
			return
		}
		l.pumpInjections(sessionCtx, writer, opts.Injector)
	}()

	outcome := l.scanStream(sessionCtx, stdout, opts)

	writer.close()
	if outcome.idleFired {
		// The stream went quiet; kill the wedged process before waiting
		// on it, or Wait blocks for the rest of the total timeout.
		if l.tracker != nil {
			l.tracker.Abandon(pid)
		}
		cancel()
	}
	waitErr := cmd.Wait()
	cancel()
	<-pumpDone

	elapsed := time.Since(start)
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	res := Result{
		RawOutput: outcome.output(),
		ExitCode:  exitCode,
		Duration:  elapsed,
		Usage:     outcome.usage,
	}

	switch {
	case outcome.idleFired:
		res.Err = &IdleTimeoutError{Idle: opts.IdleTimeout}
		return res, res.Err
	case errors.Is(sessionCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.Err = &TimeoutError{Elapsed: elapsed}
		return res, res.Err
	case ctx.Err() != nil:
		res.Err = ctx.Err()
		return res, res.Err
	}

	if l.tracker != nil {
		l.tracker.Exit(pid)
	}

	if outcome.resultIsError {
		raw := outcome.resultText
		if isRateLimitText(raw) || isRateLimitText(stderr.String()) {
			res.Err = &RateLimitError{Provider: "claude-cli", RawResponse: raw}
		} else {
			res.Err = fmt.Errorf("session failed: %s", raw)
		}
		return res, res.Err
	}
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if isRateLimitText(msg) {
			res.Err = &RateLimitError{Provider: "claude-cli", RawResponse: msg}
		} else {
			res.Err = fmt.Errorf("%s exited: %w (stderr: %s)", l.binary(), waitErr, msg)
		}
		return res, res.Err
	}

	res.Success = true
	return res, nil
}

// streamOutcome accumulates what the stream scan observed.
type streamOutcome struct {
	textParts     []string
	resultText    string
	resultSeen    bool
	resultIsError bool
	usage         Usage
	idleFired     bool
}

func (o *streamOutcome) output() string {
	if o.resultSeen && o.resultText != "" {
		return o.resultText
	}
	return strings.Join(o.textParts, "")
}

// scanStream reads NDJSON messages until the stream closes, the result
// message arrives, or the idle deadline fires. The total deadline is the
// context's and kills the subprocess via CommandContext.
func (l *CLILauncher) scanStream(ctx context.Context, stdout io.Reader, opts Options) *streamOutcome {
	outcome := &streamOutcome{}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	var idleCh <-chan time.Time
	var idleTimer *time.Timer
	if opts.IdleTimeout > 0 {
		idleTimer = time.NewTimer(opts.IdleTimeout)
		defer idleTimer.Stop()
		idleCh = idleTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return outcome
		case <-idleCh:
			outcome.idleFired = true
			return outcome
		case line, ok := <-lines:
			if !ok {
				return outcome
			}
			if idleTimer != nil {
				if !idleTimer.Stop() {
					select {
					case <-idleTimer.C:
					default:
					}
				}
				idleTimer.Reset(opts.IdleTimeout)
			}
			l.handleLine(line, opts, outcome)
			if outcome.resultSeen {
				return outcome
			}
		}
	}
}

func (l *CLILauncher) handleLine(line string, opts Options, outcome *streamOutcome) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	var msg streamMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		logging.Session().Debugw("unparseable stream line", "line", truncate(line, 200))
		return
	}

	for _, entry := range projectEntries(msg) {
		if entry.Type == EntryText {
			outcome.textParts = append(outcome.textParts, entry.Content)
		}
		if opts.OnLogEntry != nil {
			opts.OnLogEntry(entry)
		}
	}

	if msg.Type == "result" {
		outcome.resultSeen = true
		outcome.resultText = msg.Result
		outcome.resultIsError = msg.IsError
		if msg.Usage != nil {
			outcome.usage = Usage{
				InputTokens:  msg.Usage.InputTokens,
				OutputTokens: msg.Usage.OutputTokens,
			}
		}
	}
}

func (l *CLILauncher) pumpInjections(ctx context.Context, w *stdinWriter, inj *Injector) {
	deliver := func() {
		for _, msg := range inj.Drain() {
			if err := w.sendUser(msg); err != nil {
				logging.Session().Debugw("injection dropped", "error", err)
				return
			}
			logging.Session().Debugw("injected message into session")
		}
	}
	deliver()
	for {
		select {
		case <-ctx.Done():
			return
		case <-inj.Wait():
			deliver()
		}
	}
}

func (l *CLILauncher) binary() string {
	if l.Binary != "" {
		return l.Binary
	}
	return "claude"
}

// stdinWriter serializes stdin writes between the initial prompt and
// the injection pump.
type stdinWriter struct {
	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
}

func (s *stdinWriter) sendUser(text string) error {
	data, err := encodeUserMessage(text)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session stdin closed")
	}
	_, err = s.w.Write(data)
	return err
}

func (s *stdinWriter) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		_ = s.w.Close()
	}
}

func isRateLimitText(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "hit your limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "429")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
