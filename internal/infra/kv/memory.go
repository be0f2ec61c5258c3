package kv

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"storefront/internal/metrics"
)

type entry struct {
	data      []byte
	expiresAt time.Time // ゼロなら期限なし
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory は redis が無いときの代わり。CartStore / RevocationStore / CatalogCache を1つで満たす。
// 期限切れのキーは読むときに消す。
type Memory struct {
	mu      sync.Mutex
	items   map[string]entry
	version int64
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{items: map[string]entry{}, now: time.Now}
}

// テスト用に時計を差し替える
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) get(key string) ([]byte, bool) {
	e, ok := m.items[key]
	if !ok {
		return nil, false
	}
	if e.expired(m.now()) {
		delete(m.items, key)
		return nil, false
	}
	return e.data, true
}

func (m *Memory) set(key string, data []byte, ttl time.Duration) {
	e := entry{data: append([]byte(nil), data...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.items[key] = e
}

func (m *Memory) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (m *Memory) Save(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(key, data, ttl)
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *Memory) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ttl := until.Sub(m.now())
	if ttl <= 0 {
		return nil
	}
	m.set(revokedPrefix+tokenID, []byte("1"), ttl)
	return nil
}

func (m *Memory) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.get(revokedPrefix + tokenID)
	return ok, nil
}

func (m *Memory) catalogKey(key string) string {
	return catalogPrefix + "v" + strconv.FormatInt(m.version, 10) + ":" + key
}

func (m *Memory) Get(ctx context.Context, key string, dest any) (int64, bool) {
	m.mu.Lock()
	version := m.version
	data, ok := m.get(m.catalogKey(key))
	m.mu.Unlock()
	if !ok || json.Unmarshal(data, dest) != nil {
		metrics.CacheMisses.WithLabelValues("memory").Inc()
		return version, false
	}
	metrics.CacheHits.WithLabelValues("memory").Inc()
	return version, true
}

// Set は version が今のバージョンのときだけ書く。
func (m *Memory) Set(ctx context.Context, key string, version int64, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if version != m.version {
		return nil
	}
	m.set(m.catalogKey(key), data, ttl)
	return nil
}

// 古いバージョンのキーは残るが二度と読まれない。ここで掃除もする。
func (m *Memory) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := m.catalogKey("")
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			delete(m.items, k)
		}
	}
	m.version++
	return nil
}
