package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps sessions and leads in process memory. Reads hand out
// deep copies so callers never observe later mutations.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	leads    map[string]*Lead
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		leads:    make(map[string]*Lead),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) update(id string, fn func(s *Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	return fn(s)
}

func (m *MemoryStore) AppendMessage(_ context.Context, id string, msg Message) error {
	return m.update(id, func(s *Session) error {
		s.ConversationHistory = append(s.ConversationHistory, msg)
		s.UpdatedAt = msg.Timestamp
		return nil
	})
}

func (m *MemoryStore) SetStage(_ context.Context, id string, stage Stage) error {
	return m.update(id, func(s *Session) error {
		s.Stage = stage
		s.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (m *MemoryStore) SaveSection(_ context.Context, id string, sec Section, content string, at time.Time) error {
	return m.update(id, func(s *Session) error {
		s.applySection(sec, content, at)
		return nil
	})
}

func (m *MemoryStore) UpdateIdea(_ context.Context, id, idea string, rec RefinementRecord) error {
	return m.update(id, func(s *Session) error {
		s.Idea = idea
		s.RefinementHistory = append(s.RefinementHistory, rec)
		s.UpdatedAt = rec.Timestamp
		return nil
	})
}

func (m *MemoryStore) AppendVersion(_ context.Context, id string, v Version) error {
	return m.update(id, func(s *Session) error {
		s.Versions = append(s.Versions, v)
		return nil
	})
}

func (m *MemoryStore) IncrementRefinements(_ context.Context, id string) (int, error) {
	var used int
	err := m.update(id, func(s *Session) error {
		s.RefinementsUsed++
		used = s.RefinementsUsed
		return nil
	})
	return used, err
}

func (m *MemoryStore) MarkLeadCaptured(_ context.Context, id string, c LeadCapture) error {
	return m.update(id, func(s *Session) error {
		return s.applyLeadCapture(c)
	})
}

func (m *MemoryStore) MarkEmailSent(_ context.Context, id string, r EmailReceipt) error {
	return m.update(id, func(s *Session) error {
		s.applyEmailReceipt(r)
		return nil
	})
}

func (m *MemoryStore) CreateLead(_ context.Context, l *Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leads[l.LeadID] = l.Clone()
	return nil
}

func (m *MemoryStore) GetLead(_ context.Context, leadID string) (*Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.leads[leadID]
	if !ok {
		return nil, ErrLeadNotFound
	}
	return l.Clone(), nil
}

func (m *MemoryStore) updateLead(leadID string, fn func(l *Lead)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[leadID]
	if !ok {
		return ErrLeadNotFound
	}
	fn(l)
	return nil
}

func (m *MemoryStore) UpdateLeadStatus(_ context.Context, leadID string, status LeadStatus) error {
	return m.updateLead(leadID, func(l *Lead) { l.Status = status })
}

func (m *MemoryStore) AppendLeadNote(_ context.Context, leadID string, note LeadNote) error {
	return m.updateLead(leadID, func(l *Lead) { l.Notes = append(l.Notes, note) })
}

func (m *MemoryStore) TopLeads(_ context.Context, limit int) ([]Lead, error) {
	m.mu.RLock()
	out := make([]Lead, 0, len(m.leads))
	for _, l := range m.leads {
		out = append(out, *l.Clone())
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LeadScore != out[j].LeadScore {
			return out[i].LeadScore > out[j].LeadScore
		}
		return out[i].CapturedAt.Before(out[j].CapturedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) LeadStats(_ context.Context, highScore int) (LeadStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var st LeadStats
	sum := 0
	for _, l := range m.leads {
		st.Total++
		sum += l.LeadScore
		if l.LeadScore >= highScore {
			st.HighQuality++
		}
	}
	if st.Total > 0 {
		st.AverageScore = float64(sum) / float64(st.Total)
	}
	return st, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
