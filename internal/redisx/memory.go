package redisx

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process KV for single-instance runs (REDIS_ADDR empty) and tests.
type Memory struct {
	mu     sync.Mutex
	vals   map[string]entry
	hashes map[string]map[string]int64
	now    func() time.Time
}

type entry struct {
	v   string
	exp time.Time // zero = tanpa TTL
}

func NewMemory() *Memory {
	return &Memory{
		vals:   map[string]entry{},
		hashes: map[string]map[string]int64{},
		now:    time.Now,
	}
}

func (m *Memory) live(key string) (entry, bool) {
	e, ok := m.vals[key]
	if !ok {
		return entry{}, false
	}
	if !e.exp.IsZero() && !m.now().Before(e.exp) {
		delete(m.vals, key)
		return entry{}, false
	}
	return e, true
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return "", ErrMiss
	}
	return e.v, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = entry{v: value, exp: m.expiry(ttl)}
	return nil
}

func (m *Memory) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.vals[key] = entry{v: value, exp: m.expiry(ttl)}
	return true, nil
}

func (m *Memory) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.vals, k)
		delete(m.hashes, k)
	}
	return nil
}

func (m *Memory) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	e, ok := m.live(key)
	if ok {
		var err error
		if n, err = strconv.ParseInt(e.v, 10, 64); err != nil {
			return 0, err
		}
	}
	n++
	m.vals[key] = entry{v: strconv.FormatInt(n, 10), exp: e.exp}
	return n, nil
}

func (m *Memory) HIncrBy(ctx context.Context, key string, fields map[string]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = map[string]int64{}
		m.hashes[key] = h
	}
	for f, n := range fields {
		h[f] += n
	}
	return nil
}

func (m *Memory) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for f, n := range m.hashes[key] {
		out[f] = strconv.FormatInt(n, 10)
	}
	return out, nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return true, nil
	}
	_, ok := m.hashes[key]
	return ok, nil
}

var _ KV = (*Memory)(nil)
