package diagram

import (
	"sync"

	"github.com/sigmoyd/flowcraft/internal/graph"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// CacheKey identifies the inputs a model was built from: the document
// version and how many traces were overlaid.
type CacheKey struct {
	Version uint64
	Traces  int
}

// Cache memoizes the last built model. A different key always rebuilds.
type Cache struct {
	mu    sync.Mutex
	key   CacheKey
	model *DiagramModel
	opts  graph.Options
}

// NewCache creates a cache that builds with the given layout options.
func NewCache(opts graph.Options) *Cache {
	return &Cache{opts: opts}
}

// Get returns the cached model for key, building it from wf on a miss.
func (c *Cache) Get(key CacheKey, wf *schema.Workflow, traces []schema.LogMessage) (*DiagramModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.model != nil && c.key == key {
		return c.model, nil
	}
	model, err := Build(wf, traces, c.opts)
	if err != nil {
		return nil, err
	}
	c.key = key
	c.model = model
	return model, nil
}

// Invalidate drops the cached model.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.model = nil
	c.mu.Unlock()
}
