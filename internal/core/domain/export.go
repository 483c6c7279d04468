package domain

import "time"

// ExportDocument is the durable audit form of a finished conversation.
type ExportDocument struct {
	Key     string              `json:"key"`
	Record  *ConversationRecord `json:"record"`
	Summary *Summary            `json:"summary"`
}

// Summary is the compact dashboard view of an exported conversation.
type Summary struct {
	ConversationID     string     `json:"conversation_id"`
	SourceSystem       string     `json:"source_system"`
	SourceProcess      string     `json:"source_process"`
	ReceivedAt         time.Time  `json:"received_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	Outcome            State      `json:"outcome"`
	Classification     Category   `json:"classification,omitempty"`
	ClassificationRule string     `json:"classification_rule,omitempty"`
	LowConfidence      bool       `json:"low_confidence"`
	AttemptCount       int        `json:"attempt_count"`
	LastHTTPStatus     *int       `json:"last_http_status,omitempty"`
	DeliveryLatencyMs  int64      `json:"delivery_latency_ms"`
	AgentLatencyMs     int64      `json:"agent_latency_ms"`
	QueryTokens        int        `json:"query_tokens"`
	ResponseTokens     int        `json:"response_tokens"`
	AgentsUsed         []string   `json:"agents_used,omitempty"`
	FailureReason      string     `json:"failure_reason,omitempty"`
}
