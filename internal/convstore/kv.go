// Package convstore persists conversations in a namespaced TTL key-value
// store. The KV interface is the opaque storage boundary; the Conversations
// type layers the chat-specific record format on top of it.
package convstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key or conversation does not exist (or its
// TTL has lapsed).
var ErrNotFound = errors.New("convstore: not found")

// KV is a minimal TTL'd key-value store. A zero or negative TTL means the
// entry never expires. Set is all-or-nothing; readers never observe a
// partially written value.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
