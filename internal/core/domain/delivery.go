package domain

import "time"

// WebhookPayload is the JSON body POSTed to a destination webhook.
type WebhookPayload struct {
	Header        Category `json:"header"`
	ResponseRich  string   `json:"response_rich"`
	ResponsePlain string   `json:"response_plain"`
	AgentsUsed    []string `json:"agents_used"`
}

// DeliveryMessage is one unit of work on the delivery queue.
type DeliveryMessage struct {
	ConversationID string         `json:"conversation_id"`
	DeliveryID     string         `json:"delivery_id"`
	TargetURL      string         `json:"target_url"`
	Payload        WebhookPayload `json:"payload"`
	EnqueuedAt     time.Time      `json:"enqueued_at"`
}

// DeliveryIDFor derives the idempotency key for a conversation's delivery.
func DeliveryIDFor(conversationID string) string {
	return conversationID
}

// DeadLetter is a delivery message parked after its attempts were exhausted.
type DeadLetter struct {
	DeliveryID     string          `json:"delivery_id"`
	ConversationID string          `json:"conversation_id"`
	TargetURL      string          `json:"target_url"`
	Message        DeliveryMessage `json:"message"`
	Reason         string          `json:"reason"`
	Attempts       int             `json:"attempts"`
	CreatedAt      time.Time       `json:"created_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
}
