package middleware

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// CachedPromHandler serves a Prometheus text exposition that is regathered
// every ttl instead of on every scrape.
type CachedPromHandler struct {
	mu       sync.RWMutex
	cache    []byte
	ttl      time.Duration
	gatherer prometheus.Gatherer
	h        http.Handler
}

// NewCachedPromHandler gathers once immediately, then every ttl until ctx is
// cancelled.
func NewCachedPromHandler(ctx context.Context, gatherer prometheus.Gatherer, ttl time.Duration) *CachedPromHandler {
	c := &CachedPromHandler{
		ttl:      ttl,
		gatherer: gatherer,
		h:        promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	}
	c.refresh()

	go c.refreshLoop(ctx)
	return c
}

func (c *CachedPromHandler) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refresh()
		}
	}
}

// refresh encodes every gathered family. On a gather error the previous
// cache is kept.
func (c *CachedPromHandler) refresh() {
	families, err := c.gatherer.Gather()
	if err != nil {
		return
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return
		}
	}

	c.mu.Lock()
	c.cache = buf.Bytes()
	c.mu.Unlock()
}

// ServeHTTP serves the cached exposition, falling back to a live gather
// while the cache is still empty.
func (c *CachedPromHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	cache := c.cache
	c.mu.RUnlock()

	if len(cache) == 0 {
		c.h.ServeHTTP(w, r)
		return
	}
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	_, _ = w.Write(cache)
}
