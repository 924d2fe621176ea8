package universe

import (
	"github.com/adalundhe/strata/core/datalog"
	lru "github.com/hashicorp/golang-lru/v2"
)

// resultCache keeps final query answers keyed by the canonical goal list.
// A nil *resultCache is a disabled cache. Rows are copied on the way in and
// out, so callers may modify what they get back.
type resultCache struct {
	entries *lru.Cache[string, []datalog.Binding]
}

func newResultCache(size int) (*resultCache, error) {
	if size == 0 {
		return nil, nil
	}
	entries, err := lru.New[string, []datalog.Binding](size)
	if err != nil {
		return nil, err
	}
	return &resultCache{entries: entries}, nil
}

func (c *resultCache) get(key string) ([]datalog.Binding, bool) {
	if c == nil {
		return nil, false
	}
	rows, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	return datalog.CloneBindings(rows), true
}

func (c *resultCache) put(key string, rows []datalog.Binding) {
	if c == nil {
		return
	}
	c.entries.Add(key, datalog.CloneBindings(rows))
}

func (c *resultCache) purge() {
	if c == nil {
		return
	}
	c.entries.Purge()
}

func (c *resultCache) len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
