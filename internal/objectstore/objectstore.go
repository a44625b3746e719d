// Package objectstore wraps the S3-compatible backend that holds task
// artifacts: presigned URL issuance, existence checks, byte read/write,
// prefix listing, and deletion.
package objectstore

import (
	"context"
	"errors"
	"net/url"
	"time"
)

// Sentinel errors for object store failures.
var (
	ErrObjectNotFound   = errors.New("object not found")
	ErrStoreUnreachable = errors.New("object store unreachable")
)

// PresignedURL is one time-limited URL targeting a deterministic storage key.
type PresignedURL struct {
	Key       string    `json:"key"`
	URL       *url.URL  `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store is the object store interface. Implementations must be safe for
// concurrent use; all keys are scoped by the (user_id, task_id) prefix, so
// no cross-task coordination is needed here.
type Store interface {
	// PresignPut issues a time-limited write URL for key.
	PresignPut(ctx context.Context, key string, ttl time.Duration) (*PresignedURL, error)
	// PresignGet issues a time-limited read URL for key.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (*PresignedURL, error)
	// Exists reports whether an object is present at key.
	Exists(ctx context.Context, key string) (bool, error)
	// Read fetches the full object at key.
	Read(ctx context.Context, key string) ([]byte, error)
	// Write stores data at key, overwriting any existing object.
	Write(ctx context.Context, key string, data []byte) error
	// List returns the keys under prefix, relative names included.
	List(ctx context.Context, prefix string) ([]string, error)
	// RemovePrefix deletes every object under prefix.
	RemovePrefix(ctx context.Context, prefix string) error
	// Ping checks backend connectivity.
	Ping(ctx context.Context) error
}
