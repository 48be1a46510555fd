package objectstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Store errors.
var (
	ErrNotFound           = errors.New("object not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrAccessDenied       = errors.New("access denied")
	// ErrTransient marks a failure worth retrying (throttling, 5xx, network).
	ErrTransient = errors.New("transient object store failure")
)

// ObjectRecord is one object present in the store.
type ObjectRecord struct {
	Key          string            `json:"key"`
	SizeBytes    int64             `json:"size_bytes"`
	LastModified time.Time         `json:"last_modified"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ListInput selects one page of a listing.
type ListInput struct {
	Prefix            string
	Delimiter         string
	ContinuationToken string
	MaxKeys           int
}

// ListPage is one page of a listing. CommonPrefixes is only populated when a
// delimiter was requested.
type ListPage struct {
	Objects               []ObjectRecord
	CommonPrefixes        []string
	NextContinuationToken string
	Truncated             bool
}

// CopyInput describes a server-side copy. Metadata replaces the source metadata.
type CopyInput struct {
	SourceKey string
	DestKey   string
	Metadata  map[string]string
}

// Store is the capability surface the reconciliation engine needs from an
// object store. Implementations must be safe for concurrent use.
type Store interface {
	List(ctx context.Context, in ListInput) (ListPage, error)
	// Stat returns ErrNotFound when key does not exist.
	Stat(ctx context.Context, key string) (ObjectRecord, error)
	Copy(ctx context.Context, in CopyInput) error
	// Delete succeeds when key is already absent.
	Delete(ctx context.Context, key string) error
	// PutMarker writes a small control object. With ifAbsent set it fails
	// with ErrPreconditionFailed when key already exists.
	PutMarker(ctx context.Context, key string, metadata map[string]string, ifAbsent bool) error
}

// Walk pages through a listing, invoking fn once per page.
func Walk(ctx context.Context, store Store, in ListInput, fn func(ListPage) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := store.List(ctx, in)
		if err != nil {
			return err
		}
		if err := fn(page); err != nil {
			return err
		}
		if !page.Truncated || page.NextContinuationToken == "" {
			return nil
		}
		in.ContinuationToken = page.NextContinuationToken
	}
}

// JoinKey joins key segments with "/" dropping empty segments and stray separators.
func JoinKey(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(part, "/")
		if part != "" {
			cleaned = append(cleaned, part)
		}
	}
	return strings.Join(cleaned, "/")
}

// Reserved top-level directories under an environment root. Neither is part
// of the live namespace.
const (
	QuarantineDir = "quarantine"
	ControlDir    = ".filesweep"
)

// QuarantinePrefix is the listing prefix holding quarantined objects.
func QuarantinePrefix(root string) string {
	return RootPrefix(JoinKey(root, QuarantineDir))
}

// ControlPrefix is the listing prefix holding tool-owned control objects.
func ControlPrefix(root string) string {
	return RootPrefix(JoinKey(root, ControlDir))
}

// RootPrefix returns the listing prefix for an environment root.
func RootPrefix(root string) string {
	root = strings.Trim(root, "/")
	if root == "" {
		return ""
	}
	return root + "/"
}

// IsMultipartETag reports whether etag came from a multipart upload and is
// therefore not a content checksum.
func IsMultipartETag(etag string) bool {
	return strings.Contains(etag, "-")
}
