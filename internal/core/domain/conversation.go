package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// ConversationRecord is the unit of work tracked from ingestion through export.
type ConversationRecord struct {
	ID            string    `json:"conversation_id"`
	SourceSystem  string    `json:"source_system"`
	SourceProcess string    `json:"source_process"`
	QueryText     string    `json:"query_text"`
	RequestedAt   time.Time `json:"requested_at"`
	ReceivedAt    time.Time `json:"received_at"`

	AgentResponse *AgentResponse `json:"agent_response,omitempty"`

	Classification     Category `json:"classification,omitempty"`
	ClassificationRule string   `json:"classification_rule,omitempty"`
	LowConfidence      bool     `json:"low_confidence"`
	TargetURL          string   `json:"target_url,omitempty"`

	State            State             `json:"state"`
	Transitions      []Transition      `json:"transitions"`
	DeliveryAttempts []DeliveryAttempt `json:"delivery_attempts"`
	AttemptsReserved int               `json:"attempts_reserved"`
	FailureReason    string            `json:"failure_reason,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExportRef   string     `json:"export_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transition is one timestamped entry of a conversation's timeline.
type Transition struct {
	From   State     `json:"from,omitempty"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// DeliveryAttempt is one try at POSTing a classified response to its destination.
type DeliveryAttempt struct {
	AttemptNumber int       `json:"attempt_number"`
	TargetURL     string    `json:"target_url"`
	SentAt        time.Time `json:"sent_at"`
	HTTPStatus    *int      `json:"http_status"`
	Error         *string   `json:"error"`
	LatencyMs     int64     `json:"latency_ms"`
	RetryDelayMs  int64     `json:"retry_delay_ms,omitempty"`
}

// Succeeded reports whether the destination answered with a 2xx status.
func (a DeliveryAttempt) Succeeded() bool {
	return a.HTTPStatus != nil && *a.HTTPStatus >= 200 && *a.HTTPStatus < 300
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (r *ConversationRecord) Clone() *ConversationRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.AgentResponse != nil {
		ar := *r.AgentResponse
		ar.AgentsUsed = append([]string(nil), r.AgentResponse.AgentsUsed...)
		if r.AgentResponse.Raw != nil {
			ar.Raw = append(json.RawMessage(nil), r.AgentResponse.Raw...)
		}
		c.AgentResponse = &ar
	}
	c.Transitions = append([]Transition(nil), r.Transitions...)
	c.DeliveryAttempts = make([]DeliveryAttempt, len(r.DeliveryAttempts))
	for i, a := range r.DeliveryAttempts {
		if a.HTTPStatus != nil {
			s := *a.HTTPStatus
			a.HTTPStatus = &s
		}
		if a.Error != nil {
			e := *a.Error
			a.Error = &e
		}
		c.DeliveryAttempts[i] = a
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// AddAttempt inserts a by attempt number. It returns false when an attempt
// with the same number is already recorded.
func (r *ConversationRecord) AddAttempt(a DeliveryAttempt) bool {
	for _, existing := range r.DeliveryAttempts {
		if existing.AttemptNumber == a.AttemptNumber {
			return false
		}
	}
	r.DeliveryAttempts = append(r.DeliveryAttempts, a)
	sort.SliceStable(r.DeliveryAttempts, func(i, j int) bool {
		return r.DeliveryAttempts[i].AttemptNumber < r.DeliveryAttempts[j].AttemptNumber
	})
	return true
}

// LastAttempt returns the highest-numbered attempt, if any.
func (r *ConversationRecord) LastAttempt() (DeliveryAttempt, bool) {
	if len(r.DeliveryAttempts) == 0 {
		return DeliveryAttempt{}, false
	}
	return r.DeliveryAttempts[len(r.DeliveryAttempts)-1], true
}

// Outcome returns DELIVERED or FAILED for records that reached an outcome,
// including exported ones.
func (r *ConversationRecord) Outcome() State {
	if r.State.IsOutcome() {
		return r.State
	}
	for i := len(r.Transitions) - 1; i >= 0; i-- {
		if r.Transitions[i].To.IsOutcome() {
			return r.Transitions[i].To
		}
	}
	return ""
}
