package api

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Quota caps how many actions one client may queue per fixed window. A
// batch is charged per action, so splitting it across requests gains
// nothing.
type Quota struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*usage
	now     func() time.Time
}

type usage struct {
	start time.Time
	used  int
}

// NewQuota allows limit actions per client in each window.
func NewQuota(limit int, window time.Duration) *Quota {
	return &Quota{
		limit:   limit,
		window:  window,
		clients: make(map[string]*usage),
		now:     time.Now,
	}
}

// Take charges n actions to client. When the charge does not fit the
// current window nothing is charged and the wait until the window
// resets is returned.
func (q *Quota) Take(client string, n int) (bool, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	u, ok := q.clients[client]
	if !ok || now.Sub(u.start) >= q.window {
		u = &usage{start: now}
		q.clients[client] = u
	}
	if u.used+n > q.limit {
		return false, u.start.Add(q.window).Sub(now)
	}
	u.used += n
	return true, 0
}

// Run drops idle clients until ctx is done.
func (q *Quota) Run(ctx context.Context) {
	t := time.NewTicker(q.window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			q.sweep()
		}
	}
}

func (q *Quota) sweep() {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for client, u := range q.clients {
		if now.Sub(u.start) >= q.window {
			delete(q.clients, client)
		}
	}
}

// retryAfter formats a wait as whole seconds for the Retry-After header.
func retryAfter(wait time.Duration) string {
	return strconv.Itoa(int(math.Ceil(wait.Seconds())))
}

// clientAddr returns the caller's address, preferring the first
// X-Forwarded-For hop for proxied requests.
func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
