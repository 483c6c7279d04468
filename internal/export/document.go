package export

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/tokens"
)

// Key returns the storage key of a conversation's export, partitioned by
// the UTC day it was received.
func Key(rec *domain.ConversationRecord) string {
	return fmt.Sprintf("conversations/%s/%s", rec.ReceivedAt.UTC().Format("2006/01/02"), rec.ID)
}

// BuildDocument snapshots rec in its outcome state. The EXPORTED transition
// and export bookkeeping are left out, so exporting the same record again
// yields the same document.
func BuildDocument(rec *domain.ConversationRecord, counter tokens.Counter) (*domain.ExportDocument, error) {
	outcome := rec.Outcome()
	if outcome == "" {
		return nil, &domain.TransitionError{ConversationID: rec.ID, From: rec.State, To: domain.StateExported}
	}

	key := Key(rec)
	snap := rec.Clone()

	cut := len(snap.Transitions)
	for i := len(snap.Transitions) - 1; i >= 0; i-- {
		if snap.Transitions[i].To == outcome {
			cut = i + 1
			break
		}
	}
	snap.Transitions = snap.Transitions[:cut]
	snap.State = outcome
	snap.ExportRef = key
	if cut > 0 {
		snap.UpdatedAt = snap.Transitions[cut-1].At
	}

	return &domain.ExportDocument{
		Key:     key,
		Record:  snap,
		Summary: Summarize(snap, counter),
	}, nil
}

// Summarize derives the dashboard summary of a finished record.
func Summarize(rec *domain.ConversationRecord, counter tokens.Counter) *domain.Summary {
	s := &domain.Summary{
		ConversationID:     rec.ID,
		SourceSystem:       rec.SourceSystem,
		SourceProcess:      rec.SourceProcess,
		ReceivedAt:         rec.ReceivedAt,
		CompletedAt:        rec.CompletedAt,
		Outcome:            rec.Outcome(),
		Classification:     rec.Classification,
		ClassificationRule: rec.ClassificationRule,
		LowConfidence:      rec.LowConfidence,
		AttemptCount:       len(rec.DeliveryAttempts),
		FailureReason:      rec.FailureReason,
	}
	for _, a := range rec.DeliveryAttempts {
		s.DeliveryLatencyMs += a.LatencyMs
	}
	if last, ok := rec.LastAttempt(); ok && last.HTTPStatus != nil {
		status := *last.HTTPStatus
		s.LastHTTPStatus = &status
	}

	if counter != nil {
		s.QueryTokens, _ = counter.CountText(rec.QueryText)
	}
	if rec.AgentResponse != nil {
		s.AgentLatencyMs = rec.AgentResponse.LatencyMs
		s.AgentsUsed = append([]string(nil), rec.AgentResponse.AgentsUsed...)
		if counter != nil {
			s.ResponseTokens, _ = counter.CountText(rec.AgentResponse.Text)
		}
	}
	return s
}

// encode renders v as indented JSON with a trailing newline.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
