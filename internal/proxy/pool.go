// Package proxy rotates outbound HTTP proxies and keeps misbehaving ones
// out of circulation for a cooldown period.
package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrNoneAvailable is returned when every proxy in the pool is banned.
var ErrNoneAvailable = errors.New("proxy: no proxy available")

// ErrEmptyPool is returned by Next on a pool constructed without entries.
var ErrEmptyPool = errors.New("proxy: pool is empty")

type entry struct {
	url         *url.URL
	bannedUntil time.Time
}

// Pool hands out proxies in round robin order, skipping entries that are
// under a temporary ban. Safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	entries []*entry
	next    int
	now     func() time.Time
}

// Parse converts one "host:port" or "host:port:user:pass" line into a
// proxy URL.
func Parse(line string) (*url.URL, error) {
	parts := strings.Split(strings.TrimSpace(line), ":")
	switch len(parts) {
	case 2:
		return url.Parse(fmt.Sprintf("http://%s:%s", parts[0], parts[1]))
	case 4:
		return url.Parse(fmt.Sprintf("http://%s:%s@%s:%s", parts[2], parts[3], parts[0], parts[1]))
	default:
		return nil, fmt.Errorf("proxy: malformed entry %q", line)
	}
}

// NewPool builds a pool from proxy lines as accepted by Parse. Malformed
// lines cause an error rather than being silently dropped.
func NewPool(lines []string) (*Pool, error) {
	p := &Pool{now: time.Now}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		u, err := Parse(line)
		if err != nil {
			return nil, err
		}
		p.entries = append(p.entries, &entry{url: u})
	}
	return p, nil
}

// Len reports the number of proxies in the pool, banned or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Next returns the next usable proxy in rotation. It returns ErrEmptyPool
// for an empty pool and ErrNoneAvailable when every entry is banned.
func (p *Pool) Next() (*url.URL, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) == 0 {
		return nil, ErrEmptyPool
	}
	now := p.now()
	for i := 0; i < len(p.entries); i++ {
		e := p.entries[p.next]
		p.next = (p.next + 1) % len(p.entries)
		if now.After(e.bannedUntil) {
			return e.url, nil
		}
	}
	return nil, ErrNoneAvailable
}

// Ban removes the proxy from rotation until the cooldown elapses.
func (p *Pool) Ban(u *url.URL, cooldown time.Duration) {
	if u == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.url.Host == u.Host {
			e.bannedUntil = p.now().Add(cooldown)
			return
		}
	}
}
