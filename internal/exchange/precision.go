package exchange

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// precisionCache 缓存交易对精度元数据。读多写少：
// 并发读走 RWMutex，首次填充经 singleflight 合并，保证单写者语义。
type precisionCache struct {
	mu      sync.RWMutex
	entries map[string]SymbolPrecision
	group   singleflight.Group
}

func newPrecisionCache() *precisionCache {
	return &precisionCache{entries: make(map[string]SymbolPrecision)}
}

// NewPrecisionCache 创建可在多个 Client 间共享的精度缓存。
func NewPrecisionCache() *precisionCache {
	return newPrecisionCache()
}

type precisionFetch func(ctx context.Context, symbol string) (SymbolPrecision, error)

// Get 返回缓存精度；缺失时通过 fetch 填充，失败则退回保守缺省值且不缓存，
// 下次调用会再次尝试。
func (c *precisionCache) Get(ctx context.Context, symbol string, fetch precisionFetch) SymbolPrecision {
	c.mu.RLock()
	cached, ok := c.entries[symbol]
	c.mu.RUnlock()
	if ok {
		return cached
	}

	result, err, _ := c.group.Do(symbol, func() (interface{}, error) {
		fetched, fetchErr := fetch(ctx, symbol)
		if fetchErr != nil {
			return SymbolPrecision{}, fetchErr
		}
		c.mu.Lock()
		c.entries[symbol] = fetched
		c.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		return defaultPrecision
	}

	return result.(SymbolPrecision)
}
