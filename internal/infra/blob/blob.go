// Package blob selects and re-exports the attachment storage backends.
package blob

import (
	"context"
	"fmt"
	"os"

	"govcore/internal/infra/blob/core"
	"govcore/internal/infra/blob/fs"
	"govcore/internal/infra/blob/memory"
	"govcore/internal/infra/blob/s3"
)

type (
	// Driver identifies an attachment backend driver.
	Driver = core.Driver
	// PutOptions configures an attachment write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Attachment describes stored attachment metadata.
	Attachment = core.Attachment
	// Store is the interface attachment backends implement.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

// ErrUnsupported indicates an operation isn't supported by a driver.
var ErrUnsupported = core.ErrUnsupported

// NewMemory returns the in-memory test store.
func NewMemory() *memory.Store { return memory.New() }

// NewFilesystem returns a filesystem store rooted at path.
func NewFilesystem(root string) (*fs.Store, error) { return fs.New(root) }

// Open selects an attachment Store implementation from the environment.
//
//	GOVCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	GOVCORE_BLOB_FS_ROOT: directory root when driver=fs (default ./attachments)
//	(S3 specific variables documented in the s3 package)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("GOVCORE_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return fs.New(os.Getenv("GOVCORE_BLOB_FS_ROOT"))
	case DriverS3:
		return s3.OpenFromEnv(ctx)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
