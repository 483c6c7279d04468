package domain

import "encoding/json"

// Category is a destination category assigned to an agent response.
type Category string

const (
	CategoryDealAnalysis Category = "deal_analysis"
	CategoryDataAnalysis Category = "data_analysis"
	CategoryLeadAnalysis Category = "lead_analysis"
	CategoryCallAnalysis Category = "call_analysis"
	CategoryGeneral      Category = "general"
)

// AgentResponse is the payload returned by the reasoning agent.
type AgentResponse struct {
	// Text is the answer body, possibly markdown or HTML.
	Text string `json:"text"`

	// Category is an optional structured category hint supplied by the agent.
	Category Category `json:"category,omitempty"`

	// AgentsUsed lists the sub-agents that contributed to the answer.
	AgentsUsed []string `json:"agents_used,omitempty"`

	// Raw is the agent's original response body, kept for audit.
	Raw json.RawMessage `json:"raw,omitempty"`

	LatencyMs int64 `json:"latency_ms"`
}

// Confidence describes how a classification rule matched.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// ClassificationResult is the output of the classifier.
type ClassificationResult struct {
	Category   Category   `json:"category"`
	Rule       string     `json:"rule"`
	Confidence Confidence `json:"confidence"`
}

// LowConfidence reports whether the match came from a pattern or the fallback.
func (r ClassificationResult) LowConfidence() bool {
	return r.Confidence != ConfidenceHigh
}
