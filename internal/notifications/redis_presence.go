package notifications

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"huddle/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	defaultOnlineSetKey   = "presence:online_users"
	defaultConnsKeyPrefix = "presence:conns:"
	defaultLastSeenPrefix = "presence:last_seen:"
	defaultPresenceTTL    = 90 * time.Second
	defaultReaperInterval = 30 * time.Second
)

// RedisPresenceConfig controls key names and expiry of RedisPresence.
type RedisPresenceConfig struct {
	OnlineSetKey      string
	ConnsKeyPrefix    string
	LastSeenKeyPrefix string
	LastSeenTTL       time.Duration
	ReaperInterval    time.Duration
	// OnOffline reports users the reaper found expired with no local session.
	OnOffline func(userID uint)
}

// RedisPresence mirrors a LocalPresence into Redis so every instance sees the
// same online set. Users stay online while some instance refreshes their
// last-seen key; the reaper drops users whose key expired.
type RedisPresence struct {
	local *LocalPresence
	rdb   *redis.Client

	onlineSetKey      string
	connsKeyPrefix    string
	lastSeenKeyPrefix string
	lastSeenTTL       time.Duration
	reaperInterval    time.Duration

	mu        sync.RWMutex
	onOffline func(userID uint)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRedisPresence creates the registry and starts its reaper.
func NewRedisPresence(rdb *redis.Client, cfg RedisPresenceConfig) *RedisPresence {
	p := &RedisPresence{
		local:             NewLocalPresence(),
		rdb:               rdb,
		onlineSetKey:      defaultOnlineSetKey,
		connsKeyPrefix:    defaultConnsKeyPrefix,
		lastSeenKeyPrefix: defaultLastSeenPrefix,
		lastSeenTTL:       defaultPresenceTTL,
		reaperInterval:    defaultReaperInterval,
		onOffline:         cfg.OnOffline,
		stopCh:            make(chan struct{}),
	}
	if cfg.OnlineSetKey != "" {
		p.onlineSetKey = cfg.OnlineSetKey
	}
	if cfg.ConnsKeyPrefix != "" {
		p.connsKeyPrefix = cfg.ConnsKeyPrefix
	}
	if cfg.LastSeenKeyPrefix != "" {
		p.lastSeenKeyPrefix = cfg.LastSeenKeyPrefix
	}
	if cfg.LastSeenTTL > 0 {
		p.lastSeenTTL = cfg.LastSeenTTL
	}
	if cfg.ReaperInterval > 0 {
		p.reaperInterval = cfg.ReaperInterval
	}

	go p.reaperLoop()
	return p
}

// SetOnOffline replaces the reaper's offline callback.
func (p *RedisPresence) SetOnOffline(fn func(userID uint)) {
	p.mu.Lock()
	p.onOffline = fn
	p.mu.Unlock()
}

func (p *RedisPresence) Register(ctx context.Context, userID uint, connID string) bool {
	wasOnline := p.IsOnline(ctx, userID)
	p.local.Register(ctx, userID, connID)

	uid := formatID(userID)
	pipe := p.rdb.TxPipeline()
	pipe.SAdd(ctx, p.onlineSetKey, uid)
	pipe.SAdd(ctx, p.connsKey(userID), connID)
	pipe.Set(ctx, p.lastSeenKey(userID), time.Now().Unix(), p.lastSeenTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		p.logError(ctx, err, "register")
	}
	return !wasOnline
}

func (p *RedisPresence) Unregister(ctx context.Context, connID string) (uint, bool) {
	userID, wentLocal := p.local.Unregister(ctx, connID)
	if userID == 0 {
		return 0, false
	}

	if err := p.rdb.SRem(ctx, p.connsKey(userID), connID).Err(); err != nil {
		p.logError(ctx, err, "unregister")
		return userID, wentLocal
	}
	if !wentLocal {
		return userID, false
	}

	remaining, err := p.rdb.SCard(ctx, p.connsKey(userID)).Result()
	if err != nil {
		p.logError(ctx, err, "unregister")
		return userID, true
	}
	if remaining > 0 {
		return userID, false
	}

	pipe := p.rdb.TxPipeline()
	pipe.SRem(ctx, p.onlineSetKey, formatID(userID))
	pipe.Del(ctx, p.lastSeenKey(userID), p.connsKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		p.logError(ctx, err, "unregister")
	}
	return userID, true
}

func (p *RedisPresence) IsOnline(ctx context.Context, userID uint) bool {
	if p.local.IsOnline(ctx, userID) {
		return true
	}
	n, err := p.rdb.Exists(ctx, p.lastSeenKey(userID)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

func (p *RedisPresence) ConnectionsOf(ctx context.Context, userID uint) []string {
	conns := p.local.ConnectionsOf(ctx, userID)
	remote, err := p.rdb.SMembers(ctx, p.connsKey(userID)).Result()
	if err != nil {
		return conns
	}
	for _, c := range remote {
		if !slices.Contains(conns, c) {
			conns = append(conns, c)
		}
	}
	slices.Sort(conns)
	return conns
}

// SnapshotOnlineUsers unions the Redis online set, filtered by live last-seen
// keys, with local sessions.
func (p *RedisPresence) SnapshotOnlineUsers(ctx context.Context) []uint {
	out := p.local.SnapshotOnlineUsers(ctx)
	members, err := p.rdb.SMembers(ctx, p.onlineSetKey).Result()
	if err != nil {
		return out
	}
	for _, raw := range members {
		userID, ok := parseID(raw)
		if !ok || slices.Contains(out, userID) {
			continue
		}
		n, err := p.rdb.Exists(ctx, p.lastSeenKey(userID)).Result()
		if err != nil || n == 0 {
			continue
		}
		out = append(out, userID)
	}
	slices.Sort(out)
	return out
}

func (p *RedisPresence) Touch(ctx context.Context, userID uint) {
	if err := p.rdb.Set(ctx, p.lastSeenKey(userID), time.Now().Unix(), p.lastSeenTTL).Err(); err != nil {
		p.logError(ctx, err, "touch")
	}
}

func (p *RedisPresence) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *RedisPresence) reaperLoop() {
	ticker := time.NewTicker(p.reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			ctx := context.Background()
			p.refreshLocal(ctx)
			p.reapOnce(ctx)
		}
	}
}

// refreshLocal keeps last-seen keys of this instance's users alive.
func (p *RedisPresence) refreshLocal(ctx context.Context) {
	for _, userID := range p.local.SnapshotOnlineUsers(ctx) {
		p.Touch(ctx, userID)
	}
}

// reapOnce removes users whose last-seen key expired and reports those with no
// session on this instance.
func (p *RedisPresence) reapOnce(ctx context.Context) {
	members, err := p.rdb.SMembers(ctx, p.onlineSetKey).Result()
	if err != nil {
		p.logError(ctx, err, "reap")
		return
	}

	for _, raw := range members {
		userID, ok := parseID(raw)
		if !ok {
			_ = p.rdb.SRem(ctx, p.onlineSetKey, raw).Err()
			continue
		}
		n, err := p.rdb.Exists(ctx, p.lastSeenKey(userID)).Result()
		if err != nil || n > 0 {
			continue
		}

		pipe := p.rdb.TxPipeline()
		pipe.SRem(ctx, p.onlineSetKey, raw)
		pipe.Del(ctx, p.connsKey(userID))
		if _, err := pipe.Exec(ctx); err != nil {
			p.logError(ctx, err, "reap")
			continue
		}

		if p.local.IsOnline(ctx, userID) {
			continue
		}
		p.mu.RLock()
		cb := p.onOffline
		p.mu.RUnlock()
		if cb != nil {
			cb(userID)
		}
	}
}

func (p *RedisPresence) logError(ctx context.Context, err error, op string) {
	observability.Logger.ErrorContext(ctx, "presence redis error", "operation", op, "error", err)
}

func (p *RedisPresence) connsKey(userID uint) string {
	return p.connsKeyPrefix + formatID(userID)
}

func (p *RedisPresence) lastSeenKey(userID uint) string {
	return p.lastSeenKeyPrefix + formatID(userID)
}

func formatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func parseID(raw string) (uint, bool) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
