// Package core defines the abstractions for attachment storage backends.
// Attachments are the files referenced from governed documents; their
// metadata flows into deep snapshots while the bytes live here.
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete attachment storage backend.
type Driver string

const (
	// DriverFilesystem stores attachments on the local filesystem.
	DriverFilesystem Driver = "fs"
	// DriverS3 stores attachments in an S3 or MinIO compatible bucket.
	DriverS3 Driver = "s3"
	// DriverMemory keeps attachments in process memory for tests.
	DriverMemory Driver = "memory"
)

// PutOptions configures an attachment write.
type PutOptions struct {
	ContentType string
	// Metadata carries small flat key-value context such as the uploading
	// actor and the owning document.
	Metadata map[string]string
}

// SignedURLOptions holds options for generating a pre-signed download URL.
type SignedURLOptions struct {
	Method string
	// Expiry defaults to 15 minutes.
	Expiry  time.Duration
	Headers map[string]string
}

// Attachment describes a stored attachment. This is the shape embedded in
// document snapshots.
type Attachment struct {
	Key         string            `json:"key"`
	Size        int64             `json:"size_bytes"`
	ContentType string            `json:"content_type,omitempty"`
	Checksum    string            `json:"checksum,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	UploadedAt  time.Time         `json:"uploaded_at"`
	URL         string            `json:"url,omitempty"`
}

// Store is the attachment backend contract. Keys are create-once: a second
// Put on the same key fails, matching the append-only posture of the
// surrounding engine.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Attachment, error)
	Get(ctx context.Context, key string) (Attachment, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Attachment, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Attachment, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

// ErrUnsupported is returned when an optional capability is not available.
var ErrUnsupported = errors.New("attachments: unsupported operation")
