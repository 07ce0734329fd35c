package htmldom

import (
	"fmt"
	"sync"

	"github.com/andybalholm/cascadia"

	"github.com/hazyhaar/domready/dom"
)

// selectorCache memoises compiled selector groups. Watchers re-run the same
// selector on every mutation batch.
type selectorCache struct {
	mu    sync.Mutex
	byKey map[string]cascadia.SelectorGroup
}

func newSelectorCache() *selectorCache {
	return &selectorCache{byKey: make(map[string]cascadia.SelectorGroup)}
}

func (c *selectorCache) compile(selector string) (cascadia.SelectorGroup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sg, ok := c.byKey[selector]; ok {
		return sg, nil
	}
	sg, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("htmldom: %q: %w: %v", selector, dom.ErrInvalidSelector, err)
	}
	c.byKey[selector] = sg
	return sg, nil
}
