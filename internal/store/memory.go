package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gradient-trading/gradient/internal/position"
	"github.com/gradient-trading/gradient/internal/sniper"
)

// MemorySniperStore is an in-memory SniperStore for tests and local runs.
type MemorySniperStore struct {
	mu      sync.RWMutex
	snipers map[string]*sniper.Sniper
}

func NewMemorySniperStore() *MemorySniperStore {
	return &MemorySniperStore{snipers: make(map[string]*sniper.Sniper)}
}

func (s *MemorySniperStore) Create(_ context.Context, sn *sniper.Sniper) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sn
	s.snipers[sn.ID] = &cp
	return nil
}

func (s *MemorySniperStore) Get(_ context.Context, id string) (*sniper.Sniper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sn, ok := s.snipers[id]
	if !ok || sn.DeletedAt != nil {
		return nil, ErrNotFound
	}
	cp := *sn
	return &cp, nil
}

func (s *MemorySniperStore) ListByUser(_ context.Context, userID string) ([]*sniper.Sniper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*sniper.Sniper, 0, 8)
	for _, sn := range s.snipers {
		if sn.UserID == userID && sn.DeletedAt == nil {
			cp := *sn
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemorySniperStore) ListActive(_ context.Context) ([]*sniper.Sniper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*sniper.Sniper, 0, 8)
	for _, sn := range s.snipers {
		if sn.Status == sniper.StatusActive && sn.DeletedAt == nil {
			cp := *sn
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemorySniperStore) Update(_ context.Context, sn *sniper.Sniper) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.snipers[sn.ID]
	if !ok || existing.DeletedAt != nil {
		return ErrNotFound
	}
	cp := *sn
	cp.UpdatedAt = time.Now()
	s.snipers[sn.ID] = &cp
	return nil
}

func (s *MemorySniperStore) SoftDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sn, ok := s.snipers[id]
	if !ok || sn.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now()
	sn.DeletedAt = &now
	sn.Status = sniper.StatusArchived
	return nil
}

func (s *MemorySniperStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snipers[id]; !ok {
		return ErrNotFound
	}
	delete(s.snipers, id)
	return nil
}

// MemoryPositionStore is an in-memory PositionStore for tests and local runs.
type MemoryPositionStore struct {
	mu        sync.RWMutex
	positions map[string]*position.Position
}

func NewMemoryPositionStore() *MemoryPositionStore {
	return &MemoryPositionStore{positions: make(map[string]*position.Position)}
}

func (s *MemoryPositionStore) Create(_ context.Context, p *position.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemoryPositionStore) Update(_ context.Context, p *position.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemoryPositionStore) Get(_ context.Context, id string) (*position.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryPositionStore) ListOpen(_ context.Context) ([]*position.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*position.Position, 0, 8)
	for _, p := range s.positions {
		if p.Status == position.StatusOpen || p.Status == position.StatusSelling {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (s *MemoryPositionStore) ListByUser(_ context.Context, userID string) ([]*position.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*position.Position, 0, 8)
	for _, p := range s.positions {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return out, nil
}

func (s *MemoryPositionStore) ListClosed(_ context.Context, limit int) ([]*position.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*position.Position, 0, 8)
	for _, p := range s.positions {
		if p.Status == position.StatusClosed {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].OpenedAt, out[j].OpenedAt
		if out[i].ClosedAt != nil {
			ti = *out[i].ClosedAt
		}
		if out[j].ClosedAt != nil {
			tj = *out[j].ClosedAt
		}
		return ti.After(tj)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryPositionStore) ListBySniper(_ context.Context, sniperID string) ([]*position.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*position.Position, 0, 8)
	for _, p := range s.positions {
		if p.SniperID == sniperID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return out, nil
}
