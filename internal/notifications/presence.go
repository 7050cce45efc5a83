package notifications

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"relay/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPresenceOnlineSetKey  = "ws:online_users"
	defaultPresenceLastSeenKeyNS = "ws:last_seen:"
	defaultPresenceTTL           = 90 * time.Second
	defaultOfflineGrace          = 5 * time.Second
	defaultReaperInterval        = 60 * time.Second
)

// PresenceConfig controls the Redis presence mirror.
type PresenceConfig struct {
	OnlineSetKey       string
	LastSeenKeyPrefix  string
	LastSeenTTL        time.Duration
	OfflineGracePeriod time.Duration
	ReaperInterval     time.Duration
}

// PresenceMirror publishes local connection state to Redis so other processes can answer
// "is this user online". Going offline waits out a grace period so a quick reconnect
// never flaps.
type PresenceMirror struct {
	rdb *redis.Client

	mu              sync.RWMutex
	localConnCounts map[uint]int
	offlineTimers   map[uint]*time.Timer

	onlineSetKey      string
	lastSeenKeyPrefix string
	lastSeenTTL       time.Duration
	offlineGrace      time.Duration
	reaperInterval    time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPresenceMirror creates a mirror and starts its reaper when Redis is available.
func NewPresenceMirror(rdb *redis.Client, cfg PresenceConfig) *PresenceMirror {
	m := &PresenceMirror{
		rdb:               rdb,
		localConnCounts:   make(map[uint]int),
		offlineTimers:     make(map[uint]*time.Timer),
		onlineSetKey:      defaultPresenceOnlineSetKey,
		lastSeenKeyPrefix: defaultPresenceLastSeenKeyNS,
		lastSeenTTL:       defaultPresenceTTL,
		offlineGrace:      defaultOfflineGrace,
		reaperInterval:    defaultReaperInterval,
		stopCh:            make(chan struct{}),
	}
	if cfg.OnlineSetKey != "" {
		m.onlineSetKey = cfg.OnlineSetKey
	}
	if cfg.LastSeenKeyPrefix != "" {
		m.lastSeenKeyPrefix = cfg.LastSeenKeyPrefix
	}
	if cfg.LastSeenTTL > 0 {
		m.lastSeenTTL = cfg.LastSeenTTL
	}
	if cfg.OfflineGracePeriod > 0 {
		m.offlineGrace = cfg.OfflineGracePeriod
	}
	if cfg.ReaperInterval > 0 {
		m.reaperInterval = cfg.ReaperInterval
	}

	if m.rdb != nil {
		go m.reaperLoop()
	}
	return m
}

// Stop halts the reaper and any pending offline timers.
func (m *PresenceMirror) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.mu.Lock()
		for userID, timer := range m.offlineTimers {
			timer.Stop()
			delete(m.offlineTimers, userID)
		}
		m.mu.Unlock()
	})
}

// Register counts a new local connection for userID and refreshes its Redis keys.
func (m *PresenceMirror) Register(ctx context.Context, userID uint) {
	m.mu.Lock()
	if t, ok := m.offlineTimers[userID]; ok {
		t.Stop()
		delete(m.offlineTimers, userID)
	}
	m.localConnCounts[userID]++
	m.mu.Unlock()

	m.Touch(ctx, userID)
}

// Touch refreshes the user's last-seen key.
func (m *PresenceMirror) Touch(ctx context.Context, userID uint) {
	if m.rdb == nil {
		return
	}
	uid := strconv.FormatUint(uint64(userID), 10)
	if err := m.rdb.SAdd(ctx, m.onlineSetKey, uid).Err(); err != nil {
		observability.GlobalLogger.Warn("presence SADD failed",
			slog.Uint64("user_id", uint64(userID)), slog.String("error", err.Error()))
	}
	if err := m.rdb.SetEx(ctx, m.lastSeenKey(userID), strconv.FormatInt(time.Now().Unix(), 10), m.lastSeenTTL).Err(); err != nil {
		observability.GlobalLogger.Warn("presence SETEX failed",
			slog.Uint64("user_id", uint64(userID)), slog.String("error", err.Error()))
	}
}

// Unregister drops one local connection. When it was the last one the user goes
// offline after the grace period unless a connection comes back first.
func (m *PresenceMirror) Unregister(_ context.Context, userID uint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.localConnCounts[userID]; ok {
		n--
		if n > 0 {
			m.localConnCounts[userID] = n
			return
		}
		delete(m.localConnCounts, userID)
	}

	if t, ok := m.offlineTimers[userID]; ok {
		t.Stop()
	}
	m.offlineTimers[userID] = time.AfterFunc(m.offlineGrace, func() {
		m.finalizeOffline(context.Background(), userID)
	})
}

// IsOnline reports whether the user has a local connection or a live last-seen key.
func (m *PresenceMirror) IsOnline(ctx context.Context, userID uint) bool {
	m.mu.RLock()
	local := m.localConnCounts[userID] > 0
	m.mu.RUnlock()
	if local {
		return true
	}
	if m.rdb == nil {
		return false
	}
	exists, err := m.rdb.Exists(ctx, m.lastSeenKey(userID)).Result()
	if err != nil {
		return false
	}
	return exists > 0
}

// OnlineUserIDs returns users online anywhere, with stale Redis members filtered out.
func (m *PresenceMirror) OnlineUserIDs(ctx context.Context) []uint {
	local := m.localUserIDs()
	if m.rdb == nil {
		return local
	}
	members, err := m.rdb.SMembers(ctx, m.onlineSetKey).Result()
	if err != nil {
		return local
	}

	seen := make(map[uint]struct{}, len(members)+len(local))
	result := make([]uint, 0, len(members)+len(local))
	for _, raw := range members {
		userID, live := m.checkMember(ctx, raw)
		if !live {
			continue
		}
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		result = append(result, userID)
	}
	for _, userID := range local {
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		result = append(result, userID)
	}
	return result
}

// checkMember parses a set member and removes it when its last-seen key has expired.
func (m *PresenceMirror) checkMember(ctx context.Context, raw string) (uint, bool) {
	id64, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	userID := uint(id64)
	exists, err := m.rdb.Exists(ctx, m.lastSeenKey(userID)).Result()
	if err != nil {
		return userID, false
	}
	if exists == 0 {
		_ = m.rdb.SRem(ctx, m.onlineSetKey, raw).Err()
		return userID, false
	}
	return userID, true
}

// reapOnce removes every online-set member whose last-seen key has expired.
func (m *PresenceMirror) reapOnce(ctx context.Context) int {
	if m.rdb == nil {
		return 0
	}
	members, err := m.rdb.SMembers(ctx, m.onlineSetKey).Result()
	if err != nil {
		return 0
	}
	reaped := 0
	for _, raw := range members {
		if _, live := m.checkMember(ctx, raw); !live {
			reaped++
		}
	}
	return reaped
}

func (m *PresenceMirror) reaperLoop() {
	ticker := time.NewTicker(m.reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if n := m.reapOnce(context.Background()); n > 0 {
				observability.GlobalLogger.Debug("presence reaper removed stale users", slog.Int("count", n))
			}
		}
	}
}

func (m *PresenceMirror) finalizeOffline(ctx context.Context, userID uint) {
	m.mu.Lock()
	delete(m.offlineTimers, userID)
	if m.localConnCounts[userID] > 0 {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if m.rdb == nil {
		return
	}
	exists, err := m.rdb.Exists(ctx, m.lastSeenKey(userID)).Result()
	if err == nil && exists > 0 {
		// Another process may have refreshed the key; the reaper settles it on expiry.
		return
	}
	_ = m.rdb.SRem(ctx, m.onlineSetKey, strconv.FormatUint(uint64(userID), 10)).Err()
}

func (m *PresenceMirror) localUserIDs() []uint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uint, 0, len(m.localConnCounts))
	for userID, count := range m.localConnCounts {
		if count > 0 {
			ids = append(ids, userID)
		}
	}
	return ids
}

func (m *PresenceMirror) lastSeenKey(userID uint) string {
	return m.lastSeenKeyPrefix + strconv.FormatUint(uint64(userID), 10)
}
