package lens

import (
	"reflect"
	"runtime"
	"strconv"

	"github.com/dgraph-io/ristretto/v2"
)

const defaultDescriptorCacheSize = 1 << 14

var defaultDescriptorCache = mustDescriptorCache(defaultDescriptorCacheSize)

// DescriptorCache memoizes resolved function descriptors. Resolution is idempotent, so concurrent misses
// for the same function may each resolve and the last Set wins; an eviction only costs a re-resolve.
type DescriptorCache struct {
	cache *ristretto.Cache[string, *FunctionDescriptor]
}

// NewDescriptorCache creates a cache holding up to maxEntries descriptors.
func NewDescriptorCache(maxEntries int64) (*DescriptorCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *FunctionDescriptor]{
		NumCounters: max(maxEntries*10, 100), // ristretto recommends 10x the expected item count
		MaxCost:     max(maxEntries, 1),
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &DescriptorCache{cache: cache}, nil
}

func mustDescriptorCache(maxEntries int64) *DescriptorCache {
	c, err := NewDescriptorCache(maxEntries)
	if err != nil {
		panic(err) // only fails on invalid config
	}
	return c
}

// Resolve returns the cached descriptor for fn, resolving it on a miss.
func (c *DescriptorCache) Resolve(fn any, opts ...ResolveOption) (*FunctionDescriptor, error) {
	var cfg resolveConfig
	for _, o := range opts {
		o(&cfg)
	}
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return resolveFunction(fn, &cfg) // reports the error
	}

	if isMakeFuncStub(rv) {
		// every reflect.MakeFunc function shares one entry PC, the pointer does not identify it
		return resolveFunction(fn, &cfg)
	}

	key := strconv.FormatUint(uint64(rv.Pointer()), 16) + "|" + rv.Type().String() + "|" + cfg.key()
	if fd, ok := c.cache.Get(key); ok {
		return fd, nil
	}
	fd, err := resolveFunction(fn, &cfg)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, fd, 1)
	return fd, nil
}

const makeFuncStubSymbol = "reflect.makeFuncStub"

func isMakeFuncStub(rv reflect.Value) bool {
	rf := runtime.FuncForPC(rv.Pointer())
	return rf != nil && rf.Name() == makeFuncStubSymbol
}

// Wait blocks until pending writes are visible, only needed by tests that assert on hits.
func (c *DescriptorCache) Wait() {
	c.cache.Wait()
}

// Close releases the cache resources.
func (c *DescriptorCache) Close() {
	c.cache.Close()
}

// ResolveFunctionCached resolves fn through the process wide descriptor cache.
func ResolveFunctionCached(fn any, opts ...ResolveOption) (*FunctionDescriptor, error) {
	return defaultDescriptorCache.Resolve(fn, opts...)
}

// MustResolveFunction is ResolveFunctionCached for package level initialization, panicking on failure.
func MustResolveFunction(fn any, opts ...ResolveOption) *FunctionDescriptor {
	fd, err := ResolveFunctionCached(fn, opts...)
	if err != nil {
		panic(err)
	}
	return fd
}
