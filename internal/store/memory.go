// Package store holds session store implementations that need no
// external services.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"parking-allocator/internal/parking"
)

// MemoryStore keeps sessions for the lifetime of the process.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]parking.Session
}

var _ parking.SessionStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]parking.Session)}
}

// InsertSession stores s unless a session with the same id exists.
func (m *MemoryStore) InsertSession(ctx context.Context, s parking.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return nil
	}
	if s.ExitTime != nil {
		exit := *s.ExitTime
		s.ExitTime = &exit
	}
	m.sessions[s.ID] = s
	return nil
}

// CompleteSession marks a session closed and paid. Completing an already
// closed session keeps the first recorded fee.
func (m *MemoryStore) CompleteSession(ctx context.Context, sessionID string, fee float64, exitTime time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("complete %s: %w", sessionID, parking.ErrSessionNotFound)
	}
	if s.Status == parking.SessionClosed {
		return nil
	}
	s.Status = parking.SessionClosed
	s.PaymentStatus = parking.PaymentPaid
	s.Fee = fee
	s.ExitTime = &exitTime
	m.sessions[sessionID] = s
	return nil
}

// ListOpenSessions returns open sessions, most recent entry first.
func (m *MemoryStore) ListOpenSessions(ctx context.Context) ([]parking.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var open []parking.Session
	for _, s := range m.sessions {
		if s.IsOpen() {
			open = append(open, s)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		if open[i].EntryTime.Equal(open[j].EntryTime) {
			return open[i].ID > open[j].ID
		}
		return open[i].EntryTime.After(open[j].EntryTime)
	})
	return open, nil
}

func (m *MemoryStore) ListClosedSince(ctx context.Context, since time.Time) ([]parking.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var closed []parking.Session
	for _, s := range m.sessions {
		if s.Status == parking.SessionClosed && s.ExitTime != nil && !s.ExitTime.Before(since) {
			closed = append(closed, s)
		}
	}
	m.mu.RUnlock()

	sort.Slice(closed, func(i, j int) bool {
		if closed[i].ExitTime.Equal(*closed[j].ExitTime) {
			return closed[i].ID < closed[j].ID
		}
		return closed[i].ExitTime.Before(*closed[j].ExitTime)
	})
	return closed, nil
}
