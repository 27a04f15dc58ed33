package loop

import (
	"context"
	"errors"

	"anima/internal/logging"
	"anima/internal/mind"
	"anima/internal/session"
)

// ErrConversationTooLong marks a conversation session cut off at the
// configured maximum duration.
var ErrConversationTooLong = errors.New("conversation exceeded max duration")

// HandleUserMessage routes an inbound user message. Exactly one model
// session runs at a time: a message arriving during a tick or an
// existing conversation is injected into that session instead of
// opening a new one. Otherwise a fresh Ego session answers, and both
// sides of the exchange land in the conversation file.
func (o *Orchestrator) HandleUserMessage(ctx context.Context, message string) (string, error) {
	log := logging.Loop()
	o.emitter.Emit(EventConversationMessage, map[string]any{"length": len(message)})

	o.mu.Lock()
	if o.tickInProgress || o.conversationActive {
		o.mu.Unlock()
		o.injector.Push(message)
		log.Infow("message injected into active session")
		o.emitter.Emit(EventConversationResponse, map[string]any{"response": "injected"})
		return "", nil
	}
	o.conversationActive = true
	o.sessionActive = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.conversationActive = false
		o.sessionActive = false
		o.mu.Unlock()
		o.replayDeferredTick(ctx)
	}()

	sessionCtx := ctx
	if max := o.cfg.conversationMaxDuration(); max > 0 {
		var cancel context.CancelFunc
		sessionCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	onLog := func(entry session.ProcessLogEntry) {
		o.emitter.Emit(EventProcessOutput, map[string]any{
			"source": "conversation",
			"role":   string(mind.RoleEgo),
			"entry":  entry,
		})
	}

	started := o.clock.Now()
	reply, err := o.ego.RespondToMessage(sessionCtx, message, onLog, mind.RespondOptions{
		IdleTimeout: o.cfg.ConversationIdleTimeout,
		Injector:    o.injector,
	})
	o.metrics.ObserveSession(string(mind.RoleEgo), o.clock.Now().Sub(started))

	if err != nil {
		if errors.Is(sessionCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			log.Warnw("conversation cut off at max duration")
			o.emitter.Emit(EventConversationResponse, map[string]any{"error": "exceeded max duration"})
			return "", ErrConversationTooLong
		}
		log.Errorw("conversation session failed", "error", err)
		o.emitter.Emit(EventConversationResponse, map[string]any{"error": err.Error()})
		return "", err
	}

	if o.conv != nil {
		if aerr := o.conv.Append(ctx, mind.RoleUser, message); aerr != nil {
			log.Warnw("user message not recorded", "error", aerr)
		}
		if aerr := o.conv.Append(ctx, mind.RoleEgo, reply); aerr != nil {
			log.Warnw("reply not recorded", "error", aerr)
		}
	}

	o.emitter.Emit(EventConversationResponse, map[string]any{"response": reply})
	return reply, nil
}
