// Package cache stores fully transformed class bytes so pipelines can skip
// retransformation when a class is requested again under the same plugin
// configuration. The dispatch core itself never consults it.
package cache

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/loom/pkg/canonicalize"
)

// Store is a transformed-class byte cache keyed by Key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, val []byte) error
}

// Key derives the cache key for one class under one plugin configuration.
// configDigest is the canonical settings digest, so any settings change
// invalidates every cached class.
func Key(className, configDigest string) string {
	return fmt.Sprintf("loom:class:%s:%s", canonicalize.NormalizeClassName(className), configDigest)
}
