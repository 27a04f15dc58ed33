package loop

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"anima/internal/substrate"
)

// EventType names one kind of orchestrator event.
type EventType string

// The full event taxonomy. Every event carries {type, timestamp, data}
// and is fanned out to the WebSocket clients in emission order.
const (
	EventStateChanged             EventType = "state_changed"
	EventCycleComplete            EventType = "cycle_complete"
	EventIdle                     EventType = "idle"
	EventError                    EventType = "error"
	EventAuditComplete            EventType = "audit_complete"
	EventIdleHandler              EventType = "idle_handler"
	EventEvaluationRequested      EventType = "evaluation_requested"
	EventProcessOutput            EventType = "process_output"
	EventConversationMessage      EventType = "conversation_message"
	EventConversationResponse     EventType = "conversation_response"
	EventTickStarted              EventType = "tick_started"
	EventTickComplete             EventType = "tick_complete"
	EventMessageInjected          EventType = "message_injected"
	EventRestartRequested         EventType = "restart_requested"
	EventBackupComplete           EventType = "backup_complete"
	EventHealthCheckComplete      EventType = "health_check_complete"
	EventEmailSent                EventType = "email_sent"
	EventMetricsCollected         EventType = "metrics_collected"
	EventReconsiderationComplete  EventType = "reconsideration_complete"
	EventAgoraMessage             EventType = "agora_message"
	EventFileChanged              EventType = "file_changed"
	EventValidationComplete       EventType = "validation_complete"
	EventAutonomyReminderInjected EventType = "autonomy_reminder_injected"
)

// Event is one emitted occurrence. ID lets reconnecting WebSocket
// clients deduplicate deliveries.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Sink receives events. Sinks must not block; slow consumers buffer or
// drop on their side.
type Sink func(Event)

// Emitter fans events out to subscribed sinks in emission order.
type Emitter struct {
	mu    sync.Mutex
	clock substrate.Clock
	sinks []Sink
}

// NewEmitter builds an emitter stamping events with clock.
func NewEmitter(clock substrate.Clock) *Emitter {
	if clock == nil {
		clock = substrate.WallClock{}
	}
	return &Emitter{clock: clock}
}

// Subscribe registers a sink for all subsequent events.
func (e *Emitter) Subscribe(sink Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, sink)
}

// Emit delivers an event to every sink. Delivery happens under the
// emitter lock so the observed order matches the produced order.
func (e *Emitter) Emit(eventType EventType, data any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: e.clock.Now().UTC(),
		Data:      data,
	}
	for _, sink := range e.sinks {
		sink(event)
	}
}
