package dispatcher

import (
	"context"
	"time"

	"github.com/triage-ai/palisade/services/plan_guard/internal/cache"
	"go.uber.org/zap"
)

// Backend is anything that can list and call tools.
type Backend interface {
	ListAllTools(ctx context.Context) ([]string, error)
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
}

const toolListKey = "tools"

// Cached wraps a Backend and caches its tool list with stale-while-revalidate:
// an expired list is still served while a single background refresh runs.
// CallTool is never cached.
type Cached struct {
	next   Backend
	tools  *cache.SWR[string, []string]
	logger *zap.Logger
}

// NewCached creates a Cached backend. ttl <= 0 defaults to 30s.
func NewCached(next Backend, ttl time.Duration, logger *zap.Logger) *Cached {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{next: next, tools: cache.New[string, []string](ttl), logger: logger}
}

func (c *Cached) ListAllTools(ctx context.Context) ([]string, error) {
	if res := c.tools.Get(toolListKey); res.Hit {
		if res.NeedsRefresh {
			go c.refreshInBackground()
		}
		return res.Value, nil
	}

	tools, err := c.next.ListAllTools(ctx)
	if err != nil {
		return nil, err
	}
	c.tools.Set(toolListKey, tools)
	return tools, nil
}

func (c *Cached) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	return c.next.CallTool(ctx, name, args)
}

// Invalidate drops the cached list; the next ListAllTools fetches synchronously.
func (c *Cached) Invalidate() {
	c.tools.Delete(toolListKey)
}

func (c *Cached) refreshInBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tools, err := c.next.ListAllTools(ctx)
	if err != nil {
		c.logger.Warn("background tool list refresh failed", zap.Error(err))
		c.tools.ReleaseRefresh(toolListKey)
		return
	}
	c.tools.Set(toolListKey, tools)
}
