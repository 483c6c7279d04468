package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
)

// Store is an in-memory implementation of ConversationStore
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*domain.ConversationRecord
}

var _ ports.ConversationStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		conversations: make(map[string]*domain.ConversationRecord),
	}
}

func (s *Store) Create(ctx context.Context, rec *domain.ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[rec.ID]; exists {
		return fmt.Errorf("create %s: %w", rec.ID, domain.ErrAlreadyExists)
	}

	s.conversations[rec.ID] = rec.Clone()
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.conversations[id]
	if !exists {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}

	return rec.Clone(), nil
}

func (s *Store) Update(ctx context.Context, id string, fn func(*domain.ConversationRecord) error) (*domain.ConversationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.conversations[id]
	if !exists {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}

	working := rec.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}

	s.conversations[id] = working.Clone()
	return working, nil
}

func (s *Store) List(ctx context.Context, opts ports.ListOptions) ([]*domain.ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.ConversationRecord
	for _, rec := range s.conversations {
		if opts.State != "" && rec.State != opts.State {
			continue
		}
		if !opts.Since.IsZero() && rec.ReceivedAt.Before(opts.Since) {
			continue
		}
		out = append(out, rec.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.After(out[j].ReceivedAt)
		}
		return out[i].ID > out[j].ID
	})

	if opts.Offset >= len(out) {
		return []*domain.ConversationRecord{}, nil
	}
	out = out[opts.Offset:]

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Close() error {
	return nil
}
