package attempts

import (
	"context"
	"sort"
	"sync"
	"time"
)

type failure struct {
	target string
	at     time.Time
}

// Memory is an in-process Tracker for single-node deployments and tests.
// Sources whose failures have all aged out are evicted at most once per
// retention period.
type Memory struct {
	retention time.Duration

	mu        sync.Mutex
	byIP      map[string][]failure
	nextSweep time.Time
}

// NewMemory returns a Memory tracker keeping failures for retention.
func NewMemory(retention time.Duration) *Memory {
	return &Memory{retention: retention, byIP: make(map[string][]failure)}
}

func (m *Memory) RecordFailure(_ context.Context, ip, accountID, email string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := at.Add(-m.retention)
	if !at.Before(m.nextSweep) {
		m.sweep(cutoff)
		m.nextSweep = at.Add(m.retention)
	}

	list := append(m.byIP[ip], failure{target: target(accountID, email), at: at})
	m.byIP[ip] = prune(list, cutoff)
	return nil
}

// Tracked reports how many source IPs are currently held.
func (m *Memory) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byIP)
}

func (m *Memory) sweep(cutoff time.Time) {
	for ip, list := range m.byIP {
		if list = prune(list, cutoff); len(list) == 0 {
			delete(m.byIP, ip)
		} else {
			m.byIP[ip] = list
		}
	}
}

func (m *Memory) Stats(_ context.Context, ip string, since time.Time) (IPStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return statsFor(ip, m.byIP[ip], since), nil
}

func (m *Memory) Sources(_ context.Context, since time.Time) ([]IPStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []IPStats
	for ip, list := range m.byIP {
		if s := statsFor(ip, list, since); s.Failures > 0 {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out, nil
}

func statsFor(ip string, list []failure, since time.Time) IPStats {
	s := IPStats{IP: ip}
	seen := make(map[string]struct{})
	for _, f := range list {
		if f.at.Before(since) {
			continue
		}
		s.Failures++
		seen[f.target] = struct{}{}
	}
	s.DistinctAccounts = len(seen)
	return s
}

func prune(list []failure, cutoff time.Time) []failure {
	i := 0
	for i < len(list) && list[i].at.Before(cutoff) {
		i++
	}
	return list[i:]
}
