package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(MemoryDSN("store-" + uuid.NewString()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRecord(id string, receivedAt time.Time) *domain.ConversationRecord {
	return &domain.ConversationRecord{
		ID:            id,
		SourceSystem:  "slack",
		SourceProcess: "deal-desk",
		QueryText:     "status of the Acme deal?",
		RequestedAt:   receivedAt,
		ReceivedAt:    receivedAt,
		State:         domain.StateReceived,
		Transitions:   []domain.Transition{{To: domain.StateReceived, At: receivedAt}},
		CreatedAt:     receivedAt,
		UpdatedAt:     receivedAt,
	}
}

func TestStore_CreateGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)

	rec := sampleRecord("conv-1", now)
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := store.Get(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}

	if err := store.Create(ctx, rec); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("Create() duplicate error = %v, want ErrAlreadyExists", err)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get() missing error = %v, want ErrNotFound", err)
	}
}

func TestStore_Update(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.Create(ctx, sampleRecord("conv-1", now)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	updated, err := store.Update(ctx, "conv-1", func(rec *domain.ConversationRecord) error {
		rec.State = domain.StateAgentInvoked
		rec.AgentResponse = &domain.AgentResponse{Text: "Acme is in negotiation"}
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.State != domain.StateAgentInvoked {
		t.Errorf("Update() state = %s, want AGENT_INVOKED", updated.State)
	}

	got, _ := store.Get(ctx, "conv-1")
	if got.AgentResponse == nil || got.AgentResponse.Text != "Acme is in negotiation" {
		t.Errorf("Get() after update agent response = %+v", got.AgentResponse)
	}

	sentinel := errors.New("abort")
	_, err = store.Update(ctx, "conv-1", func(rec *domain.ConversationRecord) error {
		rec.State = domain.StateFailed
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Update() error = %v, want sentinel", err)
	}
	got, _ = store.Get(ctx, "conv-1")
	if got.State != domain.StateAgentInvoked {
		t.Errorf("state after aborted update = %s, want AGENT_INVOKED", got.State)
	}

	if _, err := store.Update(ctx, "missing", func(*domain.ConversationRecord) error { return nil }); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Update() missing error = %v, want ErrNotFound", err)
	}
}

func TestStore_UpdateIsAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, sampleRecord("conv-1", time.Now().UTC())); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "conv-1", func(rec *domain.ConversationRecord) error {
				rec.AttemptsReserved++
				return nil
			})
			if err != nil {
				t.Errorf("Update() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := store.Get(ctx, "conv-1")
	if got.AttemptsReserved != workers {
		t.Errorf("AttemptsReserved = %d, want %d", got.AttemptsReserved, workers)
	}
}

func TestStore_List(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := sampleRecord(fmt.Sprintf("conv-%d", i), base.Add(time.Duration(i)*time.Minute))
		if i%2 == 0 {
			rec.State = domain.StateDelivered
		}
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	all, err := store.List(ctx, ports.ListOptions{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 5 || all[0].ID != "conv-4" {
		t.Errorf("List() = %d records, first %q; want 5, conv-4", len(all), all[0].ID)
	}

	delivered, err := store.List(ctx, ports.ListOptions{State: domain.StateDelivered, Limit: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(delivered) != 2 || delivered[0].ID != "conv-4" || delivered[1].ID != "conv-2" {
		t.Errorf("List(DELIVERED, 2) = %v", ids(delivered))
	}

	recent, _ := store.List(ctx, ports.ListOptions{Since: base.Add(3 * time.Minute)})
	if len(recent) != 2 {
		t.Errorf("List(Since) = %v, want 2 records", ids(recent))
	}
}

func ids(recs []*domain.ConversationRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
