package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// ObjectMeta travels with an uploaded object.
type ObjectMeta struct {
	ContentType string
	Metadata    map[string]string
}

// BlobWriter uploads objects to the event archive.
type BlobWriter interface {
	Put(ctx context.Context, path string, body io.Reader, meta ObjectMeta) error
}

// BlobReader lists and fetches archived objects.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// EventArchiver keeps a durable copy of every published event.
type EventArchiver interface {
	ArchiveEvent(ctx context.Context, event PriceEvent) (string, error)
}
