package analytics

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/streampulse/backend/internal/models"
)

// MemoryStore is an in-memory Store implementation backing the unit tests.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  []models.StreamSession
	snapshots []models.StreamSnapshot
	stats     map[string]models.StreamerStats
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stats: make(map[string]models.StreamerStats)}
}

var _ Store = (*MemoryStore)(nil)

// PersistSession appends a new session.
func (m *MemoryStore) PersistSession(_ context.Context, s *models.StreamSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, *s)
	return nil
}

// UpdateSession replaces a session by id.
func (m *MemoryStore) UpdateSession(_ context.Context, s *models.StreamSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sessions {
		if m.sessions[i].ID == s.ID {
			m.sessions[i] = *s
			return nil
		}
	}
	return nil
}

// GetOpenSession returns the broadcaster's open session, or nil.
func (m *MemoryStore) GetOpenSession(_ context.Context, broadcasterID string) (*models.StreamSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.sessions) - 1; i >= 0; i-- {
		s := m.sessions[i]
		if s.BroadcasterID == broadcasterID && s.EndedAt == nil {
			return &s, nil
		}
	}
	return nil, nil
}

// ListSessions returns all sessions for a broadcaster, started_at ascending.
func (m *MemoryStore) ListSessions(_ context.Context, broadcasterID string) ([]models.StreamSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.StreamSession
	for _, s := range m.sessions {
		if s.BroadcasterID == broadcasterID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// ListRecentSessions returns the newest sessions for a login.
func (m *MemoryStore) ListRecentSessions(_ context.Context, broadcasterLogin string, limit int) ([]models.StreamSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.StreamSession
	for _, s := range m.sessions {
		if strings.EqualFold(s.BroadcasterLogin, broadcasterLogin) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PersistSnapshot appends a snapshot.
func (m *MemoryStore) PersistSnapshot(_ context.Context, s *models.StreamSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, *s)
	return nil
}

// ListSnapshots returns snapshots in [from, to), captured_at ascending.
func (m *MemoryStore) ListSnapshots(_ context.Context, broadcasterID string, from, to time.Time) ([]models.StreamSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.StreamSnapshot
	for _, s := range m.snapshots {
		if s.BroadcasterID != broadcasterID {
			continue
		}
		if !from.IsZero() && s.CapturedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !s.CapturedAt.Before(to) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out, nil
}

// ListRecentSnapshots returns the newest snapshots, optionally by login.
func (m *MemoryStore) ListRecentSnapshots(_ context.Context, broadcasterLogin string, limit int) ([]models.StreamSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.StreamSnapshot
	for _, s := range m.snapshots {
		if broadcasterLogin == "" || strings.EqualFold(s.BroadcasterLogin, broadcasterLogin) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CapturedAt.After(out[j].CapturedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetStats returns the cached aggregate, or nil.
func (m *MemoryStore) GetStats(_ context.Context, broadcasterID string) (*models.StreamerStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.stats[broadcasterID]; ok {
		return &s, nil
	}
	return nil, nil
}

// GetStatsByLogin returns the cached aggregate by login, or nil.
func (m *MemoryStore) GetStatsByLogin(_ context.Context, broadcasterLogin string) (*models.StreamerStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.stats {
		if strings.EqualFold(s.BroadcasterLogin, broadcasterLogin) {
			return &s, nil
		}
	}
	return nil, nil
}

// PutStats replaces the broadcaster's aggregate wholesale.
func (m *MemoryStore) PutStats(_ context.Context, stats *models.StreamerStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[stats.BroadcasterID] = *stats
	return nil
}

// TopStatsByHours returns aggregates ordered by total hours, descending.
func (m *MemoryStore) TopStatsByHours(_ context.Context, limit int) ([]models.StreamerStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.StreamerStats, 0, len(m.stats))
	for _, s := range m.stats {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalHoursStreamed > out[j].TotalHoursStreamed })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ResolveLogin maps a login to a broadcaster id from any stored record.
func (m *MemoryStore) ResolveLogin(_ context.Context, broadcasterLogin string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.sessions) - 1; i >= 0; i-- {
		if strings.EqualFold(m.sessions[i].BroadcasterLogin, broadcasterLogin) {
			return m.sessions[i].BroadcasterID, nil
		}
	}
	for i := len(m.snapshots) - 1; i >= 0; i-- {
		if strings.EqualFold(m.snapshots[i].BroadcasterLogin, broadcasterLogin) {
			return m.snapshots[i].BroadcasterID, nil
		}
	}
	return "", nil
}

// GetSummary returns the service-wide rollup.
func (m *MemoryStore) GetSummary(_ context.Context) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum := &Summary{
		TotalStreamersTracked:  len(m.stats),
		TotalStreamSessions:    len(m.sessions),
		TotalSnapshotsCaptured: len(m.snapshots),
	}
	for _, s := range m.stats {
		sum.TotalHoursStreamed += s.TotalHoursStreamed
	}
	sum.TotalHoursStreamed = round2(sum.TotalHoursStreamed)
	if len(m.stats) > 0 {
		sum.AvgHoursPerStreamer = round2(sum.TotalHoursStreamed / float64(len(m.stats)))
	}
	return sum, nil
}
