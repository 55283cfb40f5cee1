package annotator

import (
	"context"
	"io"
	"time"
)

// BlobStore persists named image resources and returns a URI for each write.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}

// WriteLedger records accepted attribute writes (Postgres or similar).
type WriteLedger interface {
	RecordWrite(ctx context.Context, write AttributeWrite) error
}

// Publisher pushes write notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// UploadLimiter throttles attribute uploads per client.
type UploadLimiter interface {
	Allow(key string) bool
}

// Hasher computes digests of uploaded payloads.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces write IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
