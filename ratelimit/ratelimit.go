// Package ratelimit provides the admission-control primitive bounding signing
// and API abuse: allow(key, limit, window). Two interchangeable backends
// implement it, an exact in-process sliding window and a fixed window over a
// shared counter store for multi-process deployments.
package ratelimit

import (
	"fmt"

	"github.com/tiero/claw-cash-sub001/interfaces"
)

// Backend kinds accepted by For.
const (
	MemoryBackend = "memory"
	StoreBackend  = "store"
)

// For creates a rate limiter of the given kind. The counters argument is only
// required for the store backend.
func For(kind string, counters interfaces.CounterStore) (interfaces.RateLimiter, error) {
	switch kind {
	case MemoryBackend:
		return NewSlidingWindow(), nil
	case StoreBackend:
		if counters == nil {
			return nil, fmt.Errorf("store rate limiter requires a counter store")
		}
		return NewFixedWindow(counters), nil
	default:
		return nil, fmt.Errorf("unsupported rate limiter backend: %s", kind)
	}
}
