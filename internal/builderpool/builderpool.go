// Package builderpool pools strings.Builder instances for the hot
// request-path key construction in rules and limiter.
package builderpool

import (
	"strings"
	"sync"
)

var pool = sync.Pool{
	New: func() any {
		return &strings.Builder{}
	},
}

// Get returns a reset builder pre-grown for a typical scope:path or
// namespace:scope:id key.
func Get() *strings.Builder {
	sb := pool.Get().(*strings.Builder)
	sb.Reset()
	sb.Grow(64)
	return sb
}

// Put returns sb to the pool.
func Put(sb *strings.Builder) {
	pool.Put(sb)
}
