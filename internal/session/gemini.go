package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"anima/internal/logging"
)

// GeminiLauncher runs sessions over the Google GenAI streaming API.
// It serves the tactical tier (summarization, drive generation) where a
// subprocess is overkill. The API has no streamed input, so injection
// is unsupported: queued messages are dropped with a debug log.
type GeminiLauncher struct {
	client *genai.Client
	model  string
}

// NewGeminiLauncher builds a launcher over an API key. model is the
// default when Options.Model is empty.
func NewGeminiLauncher(ctx context.Context, apiKey, model string) (*GeminiLauncher, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini launcher requires an API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiLauncher{client: client, model: model}, nil
}

// Launch streams one generation, projecting each chunk as a text entry.
func (l *GeminiLauncher) Launch(ctx context.Context, req Request, opts Options) (Result, error) {
	attempts := opts.MaxRetries + 1
	var res Result
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
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
		if ctx.Err() != nil {
			break
		}
	}
	return res, err
}

func (l *GeminiLauncher) launchOnce(ctx context.Context, req Request, opts Options) (Result, error) {
	if opts.Injector != nil {
		if n := opts.Injector.Len(); n > 0 {
			opts.Injector.Drain()
			logging.Session().Debugw("backend cannot inject, dropping queued messages", "count", n)
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	sessionCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	model := opts.Model
	if model == "" {
		model = l.model
	}

	var cfg *genai.GenerateContentConfig
	if strings.TrimSpace(req.SystemPrompt) != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.SystemPrompt, genai.RoleUser),
		}
	}

	start := time.Now()
	if opts.OnLogEntry != nil {
		opts.OnLogEntry(ProcessLogEntry{Type: EntrySystem, Content: "init"})
	}

	var sb strings.Builder
	var usage Usage
	stream := l.client.Models.GenerateContentStream(sessionCtx, model, genai.Text(req.UserMessage), cfg)
	for resp, err := range stream {
		if err != nil {
			elapsed := time.Since(start)
			res := Result{RawOutput: sb.String(), ExitCode: 1, Duration: elapsed}
			if sessionCtx.Err() != nil && ctx.Err() == nil {
				res.Err = &TimeoutError{Elapsed: elapsed}
			} else if isRateLimitText(err.Error()) {
				res.Err = &RateLimitError{Provider: "gemini", RawResponse: err.Error()}
			} else {
				res.Err = fmt.Errorf("gemini stream: %w", err)
			}
			if opts.OnLogEntry != nil {
				opts.OnLogEntry(ProcessLogEntry{Type: EntryError, Content: res.Err.Error()})
			}
			return res, res.Err
		}
		chunk := resp.Text()
		if chunk != "" {
			sb.WriteString(chunk)
			if opts.OnLogEntry != nil {
				opts.OnLogEntry(ProcessLogEntry{Type: EntryText, Content: chunk})
			}
		}
		if resp.UsageMetadata != nil {
			usage = Usage{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			}
		}
	}

	output := sb.String()
	if opts.OnLogEntry != nil {
		opts.OnLogEntry(ProcessLogEntry{Type: EntryResult, Content: output})
	}
	return Result{
		RawOutput: output,
		Duration:  time.Since(start),
		Success:   true,
		Usage:     usage,
	}, nil
}
