package notifications

import (
	"context"
	"slices"
	"sync"

	"huddle/internal/observability"
)

// PresenceRegistry tracks which users have at least one live session.
type PresenceRegistry interface {
	// Register adds a session and reports whether the user went from offline to online.
	Register(ctx context.Context, userID uint, connID string) bool
	// Unregister removes a session and reports its user and whether that user went
	// offline. Unknown sessions return 0, false.
	Unregister(ctx context.Context, connID string) (uint, bool)
	IsOnline(ctx context.Context, userID uint) bool
	ConnectionsOf(ctx context.Context, userID uint) []string
	// SnapshotOnlineUsers returns online user ids in ascending order.
	SnapshotOnlineUsers(ctx context.Context) []uint
	// Touch records activity on one of the user's sessions.
	Touch(ctx context.Context, userID uint)
	Stop()
}

// LocalPresence is an in-process PresenceRegistry.
type LocalPresence struct {
	mu     sync.RWMutex
	conns  map[uint]map[string]struct{}
	owners map[string]uint
}

// NewLocalPresence returns an empty LocalPresence.
func NewLocalPresence() *LocalPresence {
	return &LocalPresence{
		conns:  make(map[uint]map[string]struct{}),
		owners: make(map[string]uint),
	}
}

func (p *LocalPresence) Register(_ context.Context, userID uint, connID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if owner, ok := p.owners[connID]; ok {
		if owner == userID {
			return false
		}
		p.removeLocked(connID)
	}

	set, ok := p.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		p.conns[userID] = set
	}
	set[connID] = struct{}{}
	p.owners[connID] = userID
	observability.OnlineUsers.Set(float64(len(p.conns)))
	return len(set) == 1
}

func (p *LocalPresence) Unregister(_ context.Context, connID string) (uint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	userID, ok := p.owners[connID]
	if !ok {
		return 0, false
	}
	wentOffline := p.removeLocked(connID)
	observability.OnlineUsers.Set(float64(len(p.conns)))
	return userID, wentOffline
}

func (p *LocalPresence) removeLocked(connID string) bool {
	userID := p.owners[connID]
	delete(p.owners, connID)
	set := p.conns[userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(p.conns, userID)
		return true
	}
	return false
}

func (p *LocalPresence) IsOnline(_ context.Context, userID uint) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns[userID]) > 0
}

func (p *LocalPresence) ConnectionsOf(_ context.Context, userID uint) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.conns[userID]))
	for connID := range p.conns[userID] {
		out = append(out, connID)
	}
	slices.Sort(out)
	return out
}

func (p *LocalPresence) SnapshotOnlineUsers(_ context.Context) []uint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]uint, 0, len(p.conns))
	for userID := range p.conns {
		out = append(out, userID)
	}
	slices.Sort(out)
	return out
}

func (p *LocalPresence) Touch(context.Context, uint) {}

func (p *LocalPresence) Stop() {}
