package store

import (
	"context"
	"sync"

	"minwondesk/internal/domain"
)

// MemoryStore keeps complaints in process. Used for console runs and demos.
type MemoryStore struct {
	mu         sync.Mutex
	complaints []domain.Complaint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Submit(ctx context.Context, complaint domain.Complaint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if complaint.ID != "" {
		for _, existing := range s.complaints {
			if existing.ID == complaint.ID {
				return nil
			}
		}
	}
	complaint.ChatLogs = append([]domain.ChatLog(nil), complaint.ChatLogs...)
	s.complaints = append(s.complaints, complaint)
	return nil
}

// List returns a copy of everything submitted so far.
func (s *MemoryStore) List() []domain.Complaint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Complaint(nil), s.complaints...)
}
