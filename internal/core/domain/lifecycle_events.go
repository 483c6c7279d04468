package domain

import (
	"time"
)

// LifecycleEvent represents a high-level lifecycle event for a conversation.
// These events are published for decoupled consumers (logging, metrics, etc.).
// The authoritative timeline lives in ConversationRecord.Transitions.
type LifecycleEvent struct {
	Type           LifecycleEventType `json:"type"`
	ConversationID string             `json:"conversation_id"`
	Timestamp      time.Time          `json:"timestamp"`
	Data           interface{}        `json:"data"`
}

// LifecycleEventType identifies the type of lifecycle event.
type LifecycleEventType string

const (
	LifecycleEventTransition  LifecycleEventType = "conversation.transition"
	LifecycleEventAttempt     LifecycleEventType = "conversation.delivery_attempt"
	LifecycleEventDeadLetter  LifecycleEventType = "conversation.dead_lettered"
	LifecycleEventInvalidMove LifecycleEventType = "conversation.invalid_transition"
)

// LifecycleTransitionData contains data for conversation.transition events.
type LifecycleTransitionData struct {
	From           State    `json:"from"`
	To             State    `json:"to"`
	Reason         string   `json:"reason,omitempty"`
	Classification Category `json:"classification,omitempty"`
}

// LifecycleAttemptData contains data for conversation.delivery_attempt events.
type LifecycleAttemptData struct {
	Attempt DeliveryAttempt `json:"attempt"`
}

// LifecycleDeadLetterData contains data for conversation.dead_lettered events.
type LifecycleDeadLetterData struct {
	TargetURL string `json:"target_url"`
	Attempts  int    `json:"attempts"`
	Reason    string `json:"reason"`
}
